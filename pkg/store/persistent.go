package store

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/pulse/internal/errors"
	"github.com/vango-dev/pulse/pkg/reactive"
)

// DefaultTimeout bounds each adapter call made by a Persistent.
const DefaultTimeout = 10 * time.Second

// ErrClosed is returned by operations on a closed Persistent.
var ErrClosed = stderrors.New("store: closed")

// Option configures Open.
type Option func(*options)

type options struct {
	codec   Codec
	logger  *slog.Logger
	ctx     context.Context
	timeout time.Duration
}

// WithCodec sets the value encoding (default JSON).
func WithCodec(c Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithLogger sets the logger for persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithContext bounds the change feed subscription and every adapter call.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

// WithTimeout sets the per-call adapter timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Persistent is a signal mirrored to one key of an adapter.
//
// Every value the signal takes is encoded and stored by an effect, and
// changes made by other contexts are decoded and written back into the
// signal. All methods except Key and Default must be called on the
// goroutine driving the root.
type Persistent[T any] struct {
	key     string
	def     T
	adapter Adapter
	root    *reactive.Root
	opts    options

	signal *reactive.Signal[T]
	effect *reactive.Effect
	stop   func()

	err    error
	closed bool

	// mu guards pending and scheduled, which onChange fills from the
	// adapter's goroutine.
	mu        sync.Mutex
	pending   []Change
	scheduled bool
}

// Open loads key from adapter (falling back to def when the key is absent
// or cannot be decoded), seeds a signal with it, persists every later value
// and subscribes to the adapter's change feed. The default is stored right
// away when nothing was loaded.
func Open[T any](r *reactive.Root, adapter Adapter, key string, def T, opts ...Option) (*Persistent[T], error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	o := options{
		codec:   JSON{},
		ctx:     context.Background(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default().With("component", "store", "key", key)
	}

	p := &Persistent[T]{
		key:     key,
		def:     def,
		adapter: adapter,
		root:    r,
		opts:    o,
	}

	initial, err := p.load()
	if err != nil {
		return nil, err
	}

	p.signal = reactive.NewSignal(r, initial)
	p.effect = reactive.NewEffect(r, p.persist)

	stop, err := adapter.Watch(o.ctx, p.onChange)
	if err != nil {
		p.effect.Dispose()
		return nil, errors.FromError(err, errors.CodeBackend).WithDetailf("watch %q", key)
	}
	p.stop = stop

	return p, nil
}

// Create opens a persistent signal and returns its read and write functions.
func Create[T any](r *reactive.Root, adapter Adapter, key string, def T, opts ...Option) (func() T, func(T), error) {
	p, err := Open(r, adapter, key, def, opts...)
	if err != nil {
		return nil, nil, err
	}
	return p.Get, p.Set, nil
}

func (p *Persistent[T]) call() (context.Context, context.CancelFunc) {
	return context.WithTimeout(p.opts.ctx, p.opts.timeout)
}

func (p *Persistent[T]) load() (T, error) {
	ctx, cancel := p.call()
	defer cancel()

	data, ok, err := p.adapter.Load(ctx, p.key)
	if err != nil {
		return p.def, errors.FromError(err, errors.CodeBackend).WithDetailf("load %q", p.key)
	}
	if !ok {
		return p.def, nil
	}

	v, err := decode[T](p.opts.codec, data)
	if err != nil {
		p.opts.logger.Debug("Stored value is unreadable, using default", "codec", p.opts.codec.Name(), "error", err)
		return p.def, nil
	}
	return v, nil
}

// persist is the effect body: it reads the signal, linking the effect to
// it, and stores the encoded value.
func (p *Persistent[T]) persist() {
	v := p.signal.Get()

	data, err := p.opts.codec.Marshal(v)
	if err != nil {
		p.err = errors.New(errors.CodeEncode).WithDetailf("key %q", p.key).Wrap(err)
		p.opts.logger.Error("Failed to encode value", "error", err)
		return
	}

	ctx, cancel := p.call()
	defer cancel()

	if err := p.adapter.Store(ctx, p.key, data); err != nil {
		p.err = errors.FromError(err, errors.CodeBackend).WithDetailf("store %q", p.key)
		p.opts.logger.Warn("Failed to persist value", "error", err)
		return
	}
	p.err = nil
}

// onChange runs on the adapter's goroutine and hands matching changes to
// the root.
//
// Changes are queued in arrival order and drained by a single dispatched
// task. Adapters such as the memory backend deliver on the writer's
// goroutine, which may be the one driving the root, so onChange never
// blocks on a full dispatch queue: when TryDispatch refuses the drain, a
// helper goroutine waits for room instead.
func (p *Persistent[T]) onChange(ch Change) {
	if ch.Key != p.key {
		return
	}

	p.mu.Lock()
	p.pending = append(p.pending, ch)
	if p.scheduled {
		p.mu.Unlock()
		return
	}
	p.scheduled = true
	p.mu.Unlock()

	queued, err := p.root.TryDispatch(p.drain)
	switch {
	case err != nil:
		p.dropPending(err)
	case !queued:
		p.opts.logger.Debug("Dispatch queue full, deferring remote change")
		go func() {
			if err := p.root.Dispatch(p.drain); err != nil {
				p.dropPending(err)
			}
		}()
	}
}

// drain applies every queued change on the root's goroutine.
func (p *Persistent[T]) drain() {
	p.mu.Lock()
	changes := p.pending
	p.pending = nil
	p.scheduled = false
	p.mu.Unlock()

	for _, ch := range changes {
		p.apply(ch)
	}
}

func (p *Persistent[T]) dropPending(err error) {
	p.mu.Lock()
	n := len(p.pending)
	p.pending = nil
	p.scheduled = false
	p.mu.Unlock()
	p.opts.logger.Debug("Dropped remote changes", "count", n, "error", err)
}

// apply writes a remote change into the signal.
func (p *Persistent[T]) apply(ch Change) {
	if p.closed {
		return
	}
	if ch.Removed() {
		p.signal.Set(p.def)
		return
	}
	if bytes.Equal(ch.NewValue, ch.OldValue) {
		return
	}

	v, err := decode[T](p.opts.codec, ch.NewValue)
	if err != nil {
		p.opts.logger.Debug("Ignored unreadable remote value", "origin", ch.Origin, "error", err)
		return
	}
	p.signal.Set(v)
}

// Get returns the value and links the running subscriber.
func (p *Persistent[T]) Get() T {
	return p.signal.Get()
}

// Peek returns the value without linking.
func (p *Persistent[T]) Peek() T {
	return p.signal.Peek()
}

// Set writes the value; it is persisted before Set returns.
func (p *Persistent[T]) Set(v T) {
	p.signal.Set(v)
}

// Update sets the value to fn applied to the current one.
func (p *Persistent[T]) Update(fn func(T) T) {
	p.signal.Update(fn)
}

// Reset writes the default value.
func (p *Persistent[T]) Reset() {
	p.signal.Set(p.def)
}

// Signal exposes the underlying signal.
func (p *Persistent[T]) Signal() *reactive.Signal[T] {
	return p.signal
}

// Key returns the adapter key.
func (p *Persistent[T]) Key() string {
	return p.key
}

// Default returns the fallback value.
func (p *Persistent[T]) Default() T {
	return p.def
}

// Err returns the failure of the latest persist attempt, or nil.
func (p *Persistent[T]) Err() error {
	if p.closed {
		return ErrClosed
	}
	return p.err
}

// Close stops persisting and unsubscribes from the change feed. The signal
// keeps working in memory.
func (p *Persistent[T]) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.stop()
	p.effect.Dispose()
}
