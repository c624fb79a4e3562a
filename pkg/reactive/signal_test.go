package reactive

import (
	"reflect"
	"testing"
)

func TestSignalBasic(t *testing.T) {
	r := NewRoot()
	count := NewSignal(r, 0)

	if count.Get() != 0 {
		t.Errorf("expected initial value 0, got %d", count.Get())
	}

	count.Set(5)
	if count.Get() != 5 {
		t.Errorf("expected value 5, got %d", count.Get())
	}

	count.Update(func(n int) int { return n * 2 })
	if count.Get() != 10 {
		t.Errorf("expected value 10, got %d", count.Get())
	}
}

func TestCreateSignalPair(t *testing.T) {
	r := NewRoot()
	name, setName := CreateSignal(r, "ada")

	if got := name(); got != "ada" {
		t.Fatalf("name() = %q, want %q", got, "ada")
	}
	setName("grace")
	if got := name(); got != "grace" {
		t.Fatalf("name() after set = %q, want %q", got, "grace")
	}
}

func TestSignalNoTrackingOutsideEffect(t *testing.T) {
	r := NewRoot()
	count := NewSignal(r, 0)

	_ = count.Get()

	if n := count.Subscribers(); n != 0 {
		t.Errorf("read outside an effect should not subscribe, got %d subscribers", n)
	}
}

func TestSignalPeekDoesNotSubscribe(t *testing.T) {
	r := NewRoot()
	count := NewSignal(r, 42)
	runs := 0

	var first int
	Watch(r, func() {
		runs++
		first = count.Peek()
	})
	if first != 42 {
		t.Errorf("expected 42, got %d", first)
	}

	count.Set(100)
	if runs != 1 {
		t.Errorf("Peek should not subscribe, effect ran %d times", runs)
	}
}

// Subscription on read: an effect that read a signal re-runs on the next write.
func TestSignalWriteRerunsReader(t *testing.T) {
	r := NewRoot()
	count := NewSignal(r, 0)
	var seen []int

	Watch(r, func() {
		seen = append(seen, count.Get())
	})

	count.Set(1)
	count.Set(2)

	if want := []int{0, 1, 2}; !reflect.DeepEqual(seen, want) {
		t.Errorf("seen = %v, want %v", seen, want)
	}
}

// Writes always propagate, even when the value is unchanged.
func TestSignalWriteSameValuePropagates(t *testing.T) {
	r := NewRoot()
	x, setX := CreateSignal(r, 1)
	var log []int

	CreateEffect(r, func() int {
		log = append(log, x())
		return len(log)
	})
	setX(2)
	setX(2)

	if want := []int{1, 2, 2}; !reflect.DeepEqual(log, want) {
		t.Errorf("log = %v, want %v", log, want)
	}
}

func TestSignalMultipleReadsLinkOnce(t *testing.T) {
	r := NewRoot()
	count := NewSignal(r, 0)
	runs := 0

	e := NewEffect(r, func() {
		runs++
		_ = count.Get()
		_ = count.Get()
		_ = count.Get()
	})

	if n := count.Subscribers(); n != 1 {
		t.Errorf("expected 1 subscriber, got %d", n)
	}
	if n := e.Dependencies(); n != 1 {
		t.Errorf("expected 1 dependency, got %d", n)
	}

	count.Set(1)
	if runs != 2 {
		t.Errorf("expected 2 runs, got %d", runs)
	}
}

func TestSignalNotifiesInSubscriptionOrder(t *testing.T) {
	r := NewRoot()
	x := NewSignal(r, 0)
	y := NewSignal(r, 0)
	var order []string

	Watch(r, func() {
		_ = x.Get()
		_ = y.Get()
		order = append(order, "first")
	})
	Watch(r, func() {
		_ = x.Get()
		order = append(order, "second")
	})

	order = nil
	x.Set(1)
	if want := []string{"first", "second"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}

	// Re-running "first" through y unlinks and relinks it, moving it to the
	// end of x's subscriber list.
	y.Set(1)
	order = nil
	x.Set(2)
	if want := []string{"second", "first"}; !reflect.DeepEqual(order, want) {
		t.Errorf("order after relink = %v, want %v", order, want)
	}
}

func TestSignalIDsAreUnique(t *testing.T) {
	r := NewRoot()
	a := NewSignal(r, 0)
	b := NewSignal(r, "")

	if a.ID() == b.ID() {
		t.Errorf("expected distinct ids, both are %d", a.ID())
	}
	if a.Root() != r {
		t.Errorf("Root() returned a different root")
	}
}

func TestNewSignalNilRootPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil root")
		}
	}()
	NewSignal[int](nil, 0)
}
