package reactive

import "time"

// Subscriber is one re-runnable computation: the body of an effect, or the
// recompute step of a memo.
//
// deps lists the subscriber sets this subscriber is currently registered in.
// It exists only so the next execution can unlink itself before running.
type Subscriber struct {
	id   uint64
	root *Root

	deps []*signalBase
	body func()

	runs     uint64
	disposed bool
}

func newSubscriber(r *Root, body func()) *Subscriber {
	if r == nil {
		panic("reactive: subscriber created with nil root")
	}
	return &Subscriber{
		id:   nextID(),
		root: r,
		body: body,
	}
}

// addDependency records that this subscriber sits in source's set.
func (s *Subscriber) addDependency(source *signalBase) {
	for _, dep := range s.deps {
		if dep == source {
			return
		}
	}
	s.deps = append(s.deps, source)
}

// cleanup unlinks the subscriber from every signal it read last time.
func (s *Subscriber) cleanup() {
	for _, dep := range s.deps {
		dep.unsubscribe(s)
	}
	clear(s.deps)
	s.deps = s.deps[:0]
}

// execute reruns the body: unlink, push, run, pop. The pop is deferred so a
// panicking body leaves the execution context as it found it.
func (s *Subscriber) execute() {
	if s.disposed {
		return
	}

	s.cleanup()
	s.runs++

	r := s.root
	depth := len(r.stack) + 1
	start := time.Now()
	panicked := true

	r.push(s)
	defer func() {
		r.pop()
		r.observer.SubscriberExecuted(ExecInfo{
			RootID:       r.id,
			SubscriberID: s.id,
			Run:          s.runs,
			Depth:        depth,
			Dependencies: len(s.deps),
			Start:        start,
			Duration:     time.Since(start),
			Panicked:     panicked,
		})
	}()

	s.body()
	panicked = false
}

// dispose unlinks the subscriber for good.
func (s *Subscriber) dispose() {
	s.disposed = true
	s.cleanup()
}

// Effect is a handle on a running side effect.
type Effect struct {
	sub *Subscriber
}

// NewEffect runs fn immediately and again after every write to a signal fn
// read during its latest run. The returned handle can stop it.
func NewEffect(r *Root, fn func()) *Effect {
	e := &Effect{sub: newSubscriber(r, fn)}
	e.sub.execute()
	return e
}

// CreateEffect runs fn immediately, returning its result, and re-runs it on
// every write to a signal it read during its latest run.
func CreateEffect[T any](r *Root, fn func() T) T {
	var result T
	s := newSubscriber(r, func() {
		result = fn()
	})
	s.execute()
	return result
}

// Watch is CreateEffect for functions without a result.
func Watch(r *Root, fn func()) {
	newSubscriber(r, fn).execute()
}

// ID returns the unique identifier for this effect.
func (e *Effect) ID() uint64 {
	return e.sub.id
}

// Runs returns how many times the body has started.
func (e *Effect) Runs() uint64 {
	return e.sub.runs
}

// Dependencies returns how many signals the latest run linked.
func (e *Effect) Dependencies() int {
	return len(e.sub.deps)
}

// Dispose unlinks the effect from every signal; it never runs again.
// Disposing from inside the effect's own body stops further links.
func (e *Effect) Dispose() {
	e.sub.dispose()
}

// Disposed reports whether Dispose was called.
func (e *Effect) Disposed() bool {
	return e.sub.disposed
}
