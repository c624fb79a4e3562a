package reactive

// Memo is a derived value kept current by an effect.
//
// It is a Signal written by an Effect that evaluates compute: whenever a
// signal compute read changes, compute runs again and its result is stored,
// notifying everything that read the memo. Memos are eager: the value is
// always the result of the latest evaluation.
type Memo[T any] struct {
	signal *Signal[T]
	effect *Effect
}

// NewMemo seeds the memo with compute's result and keeps it current.
//
// compute runs twice at creation: once for the seed, in the caller's
// context, and once inside the memo's own effect. Creating a memo from
// within another subscriber therefore links that subscriber to whatever the
// seeding evaluation reads.
func NewMemo[T any](r *Root, compute func() T) *Memo[T] {
	m := &Memo[T]{signal: NewSignal(r, compute())}
	m.effect = NewEffect(r, func() {
		m.signal.Set(compute())
	})
	return m
}

// CreateMemo returns the read function of a new memo.
func CreateMemo[T any](r *Root, compute func() T) func() T {
	return NewMemo(r, compute).Get
}

// Get returns the cached value and links the running subscriber.
func (m *Memo[T]) Get() T {
	return m.signal.Get()
}

// Peek returns the cached value without linking.
func (m *Memo[T]) Peek() T {
	return m.signal.Peek()
}

// ID returns the identifier of the signal holding the value.
func (m *Memo[T]) ID() uint64 {
	return m.signal.ID()
}

// Dispose stops recomputation. The last value stays readable.
func (m *Memo[T]) Dispose() {
	m.effect.Dispose()
}
