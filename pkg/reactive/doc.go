// Package reactive provides the dependency-tracking core of pulse.
//
// The engine is deliberately small: signals hold values, subscribers
// (effects and the effects backing memos) re-run whenever a signal they read
// during their latest run is written. Dependencies are discovered at runtime
// and rebuilt on every run, so conditional reads are tracked exactly.
//
// # Core Types
//
// Every graph lives inside a Root, which owns the execution context stack:
//
//	r := reactive.NewRoot()
//	count := reactive.NewSignal(r, 1)
//	doubled := reactive.NewMemo(r, func() int { return count.Get() * 2 })
//
//	reactive.Watch(r, func() {
//	    fmt.Println("doubled is", doubled.Get())
//	})
//
//	count.Set(2) // prints "doubled is 4" before Set returns
//
// The function-pair form mirrors the classic API:
//
//	x, setX := reactive.CreateSignal(r, 1)
//	first := reactive.CreateEffect(r, func() int { return x() * 10 })
//	setX(2)
//
// # Propagation
//
// Set never compares values and never batches: every Set synchronously
// re-runs every subscriber currently linked to the signal, in the order they
// subscribed. The subscriber list is copied before the first subscriber runs,
// so subscribers created during propagation are not visited by that Set.
// Nothing guards against cycles: an effect that writes a signal it reads
// recurses until the goroutine stack is exhausted.
//
// A panicking effect body is not recovered. The execution context is popped
// on the way out and the panic reaches the caller of Set (or CreateEffect);
// subscribers after the panicking one are not run. Use Catch to turn such a
// panic into an error.
//
// # Goroutines
//
// A Root is confined to the goroutine that drives it. Code running elsewhere
// (storage watchers, network feeds) hands work to the root with Dispatch;
// the owning goroutine runs it with Run or Flush.
package reactive
