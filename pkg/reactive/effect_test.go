package reactive

import (
	"errors"
	"reflect"
	"testing"
)

func TestEffectRunsOnCreate(t *testing.T) {
	r := NewRoot()
	calls := 0

	got := CreateEffect(r, func() string {
		calls++
		return "first"
	})

	if calls != 1 {
		t.Errorf("expected exactly 1 call before return, got %d", calls)
	}
	if got != "first" {
		t.Errorf("CreateEffect() = %q, want %q", got, "first")
	}
}

func TestEffectDropsStaleDependencies(t *testing.T) {
	r := NewRoot()
	a, setA := CreateSignal(r, true)
	b, setB := CreateSignal(r, 1)
	c, setC := CreateSignal(r, 2)
	var seen, runs int

	CreateEffect(r, func() struct{} {
		runs++
		if a() {
			seen = b()
		} else {
			seen = c()
		}
		return struct{}{}
	})
	if seen != 1 {
		t.Fatalf("seen = %d, want 1", seen)
	}

	setA(false)
	if seen != 2 || runs != 2 {
		t.Fatalf("after setA(false): seen = %d runs = %d, want 2 and 2", seen, runs)
	}

	setC(3)
	if seen != 3 || runs != 3 {
		t.Errorf("setC should re-run the effect: seen = %d runs = %d", seen, runs)
	}

	setB(10)
	if runs != 3 {
		t.Errorf("setB should no longer re-run the effect, runs = %d", runs)
	}
	if seen != 3 {
		t.Errorf("seen = %d, want 3", seen)
	}
}

func TestEffectLinksMatchLatestRun(t *testing.T) {
	r := NewRoot()
	useB := NewSignal(r, true)
	a := NewSignal(r, 0)
	b := NewSignal(r, 0)

	e := NewEffect(r, func() {
		_ = a.Get()
		if useB.Get() {
			_ = b.Get()
		}
	})
	if n := e.Dependencies(); n != 3 {
		t.Fatalf("expected 3 dependencies, got %d", n)
	}

	useB.Set(false)
	if n := e.Dependencies(); n != 2 {
		t.Errorf("expected 2 dependencies, got %d", n)
	}
	if n := b.Subscribers(); n != 0 {
		t.Errorf("b should have no subscribers, got %d", n)
	}
}

func TestEffectCreatedDuringWriteIsNotVisited(t *testing.T) {
	r := NewRoot()
	x := NewSignal(r, 0)
	innerRuns := 0
	created := false

	Watch(r, func() {
		if x.Get() == 1 && !created {
			created = true
			Watch(r, func() {
				_ = x.Get()
				innerRuns++
			})
		}
	})

	x.Set(1)
	if innerRuns != 1 {
		t.Errorf("inner effect should only run at creation, ran %d times", innerRuns)
	}

	x.Set(2)
	if innerRuns != 2 {
		t.Errorf("inner effect should run on the next write, ran %d times", innerRuns)
	}
}

func TestEffectDiamondRunsTwice(t *testing.T) {
	r := NewRoot()
	source := NewSignal(r, 1)
	left := NewMemo(r, func() int { return source.Get() + 1 })
	right := NewMemo(r, func() int { return source.Get() * 2 })
	runs := 0

	Watch(r, func() {
		_ = left.Get() + right.Get()
		runs++
	})

	source.Set(2)
	if runs != 3 {
		t.Errorf("expected one run per memo update plus creation (3), got %d", runs)
	}
}

func TestEffectNestedDepth(t *testing.T) {
	r := NewRoot()
	var outer, inner int

	Watch(r, func() {
		outer = r.Depth()
		Watch(r, func() {
			inner = r.Depth()
		})
	})

	if outer != 1 || inner != 2 {
		t.Errorf("depths = %d, %d; want 1, 2", outer, inner)
	}
	if r.Depth() != 0 {
		t.Errorf("stack should be empty after effects return, depth %d", r.Depth())
	}
}

func TestEffectInnerReadsBelongToInner(t *testing.T) {
	r := NewRoot()
	x := NewSignal(r, 0)
	outerRuns, innerRuns := 0, 0

	Watch(r, func() {
		outerRuns++
		Watch(r, func() {
			innerRuns++
			_ = x.Get()
		})
	})

	x.Set(1)
	if outerRuns != 1 {
		t.Errorf("outer effect should not depend on x, ran %d times", outerRuns)
	}
	if innerRuns != 2 {
		t.Errorf("inner effect should re-run, ran %d times", innerRuns)
	}
}

func TestEffectPanicPopsContextAndStopsPropagation(t *testing.T) {
	r := NewRoot()
	x := NewSignal(r, 0)
	boom := errors.New("boom")
	var order []string

	Watch(r, func() {
		order = append(order, "first")
		if x.Get() == 2 {
			panic(boom)
		}
	})
	Watch(r, func() {
		_ = x.Get()
		order = append(order, "second")
	})

	order = nil
	err := Catch(func() { x.Set(2) })

	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PanicError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected panic value to unwrap to boom, got %v", err)
	}
	if r.Depth() != 0 {
		t.Errorf("execution context not popped, depth %d", r.Depth())
	}
	if want := []string{"first"}; !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}

	// Both effects kept their links. "first" relinked during the failed run,
	// so it now comes after "second".
	order = nil
	x.Set(3)
	if want := []string{"second", "first"}; !reflect.DeepEqual(order, want) {
		t.Errorf("order after recovery = %v, want %v", order, want)
	}
}

func TestEffectPanicOnCreatePropagates(t *testing.T) {
	r := NewRoot()

	err := Catch(func() {
		CreateEffect(r, func() int {
			panic("bad start")
		})
	})
	if err == nil {
		t.Fatal("expected the panic to reach the caller")
	}
	if r.Depth() != 0 {
		t.Errorf("depth = %d, want 0", r.Depth())
	}
}

func TestEffectDispose(t *testing.T) {
	r := NewRoot()
	count := NewSignal(r, 0)
	runs := 0

	e := NewEffect(r, func() {
		_ = count.Get()
		runs++
	})

	e.Dispose()
	if !e.Disposed() {
		t.Error("Disposed() = false after Dispose")
	}
	if n := count.Subscribers(); n != 0 {
		t.Errorf("dispose should unlink, got %d subscribers", n)
	}

	count.Set(1)
	if runs != 1 {
		t.Errorf("disposed effect ran again, runs = %d", runs)
	}
}

func TestEffectDisposeInsideBody(t *testing.T) {
	r := NewRoot()
	count := NewSignal(r, 0)
	var e *Effect
	runs := 0

	e = NewEffect(r, func() {
		runs++
		if e != nil {
			e.Dispose()
		}
		_ = count.Get()
	})

	count.Set(1)
	count.Set(2)
	if runs != 2 {
		t.Errorf("runs = %d, want 2", runs)
	}
	if n := count.Subscribers(); n != 0 {
		t.Errorf("reads after Dispose should not link, got %d subscribers", n)
	}
}

func TestEffectRunsCounter(t *testing.T) {
	r := NewRoot()
	count := NewSignal(r, 0)

	e := NewEffect(r, func() { _ = count.Get() })
	count.Set(1)
	count.Set(2)

	if got := e.Runs(); got != 3 {
		t.Errorf("Runs() = %d, want 3", got)
	}
}

func TestUntrack(t *testing.T) {
	r := NewRoot()
	tracked := NewSignal(r, 0)
	ignored := NewSignal(r, 0)
	runs := 0

	Watch(r, func() {
		runs++
		_ = tracked.Get()
		Untrack(r, func() {
			if r.Tracking() {
				t.Error("Tracking() = true inside Untrack")
			}
			_ = ignored.Get()
		})
	})

	ignored.Set(1)
	if runs != 1 {
		t.Errorf("untracked read should not subscribe, runs = %d", runs)
	}
	tracked.Set(1)
	if runs != 2 {
		t.Errorf("tracked read should subscribe, runs = %d", runs)
	}
}
