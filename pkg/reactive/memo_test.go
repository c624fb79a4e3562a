package reactive

import "testing"

func TestMemoBasic(t *testing.T) {
	r := NewRoot()
	count := NewSignal(r, 5)
	doubled := NewMemo(r, func() int {
		return count.Get() * 2
	})

	if got := doubled.Get(); got != 10 {
		t.Errorf("expected 10, got %d", got)
	}

	count.Set(10)
	if got := doubled.Get(); got != 20 {
		t.Errorf("expected 20 after update, got %d", got)
	}
}

func TestMemoTracksLatestValues(t *testing.T) {
	r := NewRoot()
	a := NewSignal(r, 1)
	b := NewSignal(r, 2)
	op := NewSignal(r, "+")
	compute := func() int {
		if op.Get() == "+" {
			return a.Get() + b.Get()
		}
		return a.Get() * b.Get()
	}
	memo := CreateMemo(r, compute)

	writes := []func(){
		func() { a.Set(3) },
		func() { op.Set("*") },
		func() { b.Set(7) },
		func() { op.Set("+") },
		func() { a.Set(-4) },
	}
	for i, write := range writes {
		write()
		var expected int
		Untrack(r, func() { expected = compute() })
		if got := memo(); got != expected {
			t.Errorf("after write %d: memo() = %d, want %d", i, got, expected)
		}
	}
}

func TestMemoEvaluatesTwiceOnCreate(t *testing.T) {
	r := NewRoot()
	count := NewSignal(r, 1)
	evals := 0

	m := NewMemo(r, func() int {
		evals++
		return count.Get()
	})

	if evals != 2 {
		t.Errorf("expected 2 evaluations at creation, got %d", evals)
	}
	if got := m.Peek(); got != 1 {
		t.Errorf("memo = %d, want 1", got)
	}
	count.Set(2)
	if evals != 3 {
		t.Errorf("expected eager recompute on write, got %d evaluations", evals)
	}
}

func TestMemoChain(t *testing.T) {
	r := NewRoot()
	count := NewSignal(r, 1)
	doubled := NewMemo(r, func() int { return count.Get() * 2 })
	quadrupled := NewMemo(r, func() int { return doubled.Get() * 2 })
	var seen []int

	Watch(r, func() {
		seen = append(seen, quadrupled.Get())
	})

	count.Set(3)
	if got := quadrupled.Get(); got != 12 {
		t.Errorf("expected 12, got %d", got)
	}
	if len(seen) != 2 || seen[1] != 12 {
		t.Errorf("seen = %v, want [4 12]", seen)
	}
}

func TestMemoInsideEffectLinksEnclosingSubscriber(t *testing.T) {
	r := NewRoot()
	x := NewSignal(r, 1)
	outerRuns := 0
	computeCalls := 0
	var m *Memo[int]

	Watch(r, func() {
		outerRuns++
		if m == nil {
			m = NewMemo(r, func() int {
				computeCalls++
				return x.Get() + 1
			})
		}
	})

	if computeCalls != 2 {
		t.Errorf("compute calls at creation = %d, want 2", computeCalls)
	}

	x.Set(2)
	if outerRuns != 2 {
		t.Errorf("outer effect runs = %d, want 2", outerRuns)
	}
	if got := m.Peek(); got != 3 {
		t.Errorf("memo = %d, want 3", got)
	}
	// The outer effect no longer reads x once the memo exists.
	if got := x.Subscribers(); got != 1 {
		t.Errorf("x subscribers = %d, want 1", got)
	}
}

func TestMemoPeekAndDispose(t *testing.T) {
	r := NewRoot()
	count := NewSignal(r, 1)
	m := NewMemo(r, func() int { return count.Get() * 10 })
	runs := 0

	Watch(r, func() {
		runs++
		_ = m.Peek()
	})
	count.Set(2)
	if runs != 1 {
		t.Errorf("Peek should not link, runs = %d", runs)
	}

	m.Dispose()
	count.Set(3)
	if got := m.Get(); got != 20 {
		t.Errorf("disposed memo should keep its last value 20, got %d", got)
	}
	if m.ID() == 0 {
		t.Error("memo should have an id")
	}
}
