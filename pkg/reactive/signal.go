package reactive

// signalBase is the untyped half of a signal: its identity and the ordered
// set of subscribers linked to it. Memo reuses it through its inner Signal.
type signalBase struct {
	id   uint64
	root *Root

	// subs are the linked subscribers in subscription order.
	subs []*Subscriber
}

// track links the running subscriber, if any, to this signal.
func (s *signalBase) track() {
	sub := s.root.current()
	if sub == nil || sub.disposed {
		return
	}
	s.subscribe(sub)
	sub.addDependency(s)
}

// subscribe adds a subscriber. Deduplicates by subscriber ID.
func (s *signalBase) subscribe(sub *Subscriber) {
	for _, existing := range s.subs {
		if existing.id == sub.id {
			return
		}
	}
	s.subs = append(s.subs, sub)
}

// unsubscribe removes a subscriber, keeping the order of the others.
func (s *signalBase) unsubscribe(sub *Subscriber) {
	for i, existing := range s.subs {
		if existing.id == sub.id {
			copy(s.subs[i:], s.subs[i+1:])
			s.subs[len(s.subs)-1] = nil
			s.subs = s.subs[:len(s.subs)-1]
			return
		}
	}
}

// notify executes a snapshot of the current subscribers. Subscribers that
// link themselves while the snapshot runs wait for the next write.
func (s *signalBase) notify() {
	subs := make([]*Subscriber, len(s.subs))
	copy(subs, s.subs)

	s.root.observer.SignalWritten(WriteInfo{
		RootID:      s.root.id,
		SignalID:    s.id,
		Subscribers: len(subs),
		Depth:       len(s.root.stack),
	})

	for _, sub := range subs {
		sub.execute()
	}
}

// Signal is a mutable reactive cell.
//
// Reading it with Get while a subscriber runs links the two; Set stores the
// new value and re-runs every linked subscriber before returning.
type Signal[T any] struct {
	base  signalBase
	value T
}

// NewSignal creates a signal in r holding initial.
func NewSignal[T any](r *Root, initial T) *Signal[T] {
	if r == nil {
		panic("reactive: NewSignal called with nil root")
	}
	return &Signal[T]{
		base: signalBase{
			id:   nextID(),
			root: r,
		},
		value: initial,
	}
}

// CreateSignal creates a signal and returns its read and write functions.
func CreateSignal[T any](r *Root, initial T) (func() T, func(T)) {
	s := NewSignal(r, initial)
	return s.Get, s.Set
}

// Get returns the current value and links the running subscriber.
// Reading the same signal several times in one run links once.
func (s *Signal[T]) Get() T {
	s.base.track()
	return s.value
}

// Peek returns the current value without linking anything.
func (s *Signal[T]) Peek() T {
	return s.value
}

// Set replaces the value and synchronously re-runs every linked subscriber,
// even when value equals the previous one.
func (s *Signal[T]) Set(value T) {
	s.value = value
	s.base.notify()
}

// Update sets the value to fn applied to the current one.
// The current value is read without linking.
func (s *Signal[T]) Update(fn func(T) T) {
	s.Set(fn(s.value))
}

// ID returns the unique identifier for this signal.
func (s *Signal[T]) ID() uint64 {
	return s.base.id
}

// Root returns the graph this signal belongs to.
func (s *Signal[T]) Root() *Root {
	return s.base.root
}

// Subscribers returns how many subscribers are currently linked.
func (s *Signal[T]) Subscribers() int {
	return len(s.base.subs)
}
