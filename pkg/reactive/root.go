package reactive

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultQueueSize is the capacity of a root's dispatch queue.
const DefaultQueueSize = 256

// Root is an independent reactive graph. It owns the execution context: the
// stack of subscribers currently running, whose top receives the
// dependencies discovered by Signal.Get.
//
// The stack is only touched synchronously by the goroutine driving the
// root, so it carries no lock. Other goroutines talk to the root through
// Dispatch.
type Root struct {
	id uint64

	// stack holds the running subscribers, innermost last.
	// A nil entry is an untracked frame (see Untrack).
	stack []*Subscriber

	observer Observer
	logger   *slog.Logger

	// tasks queues work handed in by other goroutines.
	tasks chan func()

	done      chan struct{}
	closeOnce sync.Once
}

// RootOption configures a Root.
type RootOption func(*Root)

// WithObserver installs an observer notified of writes and executions.
// Combine several with Observers.
func WithObserver(o Observer) RootOption {
	return func(r *Root) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithLogger sets the logger used for dispatched-task failures.
func WithLogger(logger *slog.Logger) RootOption {
	return func(r *Root) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithQueueSize sets the dispatch queue capacity.
func WithQueueSize(n int) RootOption {
	return func(r *Root) {
		if n > 0 {
			r.tasks = make(chan func(), n)
		}
	}
}

// NewRoot creates an empty reactive graph.
func NewRoot(opts ...RootOption) *Root {
	r := &Root{
		id:       nextID(),
		observer: nopObserver{},
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default().With("component", "reactive", "root", r.id)
	}
	if r.tasks == nil {
		r.tasks = make(chan func(), DefaultQueueSize)
	}
	return r
}

// ID returns the unique identifier for this root.
func (r *Root) ID() uint64 {
	return r.id
}

// Depth returns how many frames are on the execution context stack.
func (r *Root) Depth() int {
	return len(r.stack)
}

// Tracking reports whether a Signal.Get right now would create a link.
func (r *Root) Tracking() bool {
	return r.current() != nil
}

// current returns the running subscriber, or nil when nothing is tracking.
func (r *Root) current() *Subscriber {
	if len(r.stack) == 0 {
		return nil
	}
	return r.stack[len(r.stack)-1]
}

func (r *Root) push(s *Subscriber) {
	r.stack = append(r.stack, s)
}

func (r *Root) pop() {
	r.stack[len(r.stack)-1] = nil
	r.stack = r.stack[:len(r.stack)-1]
}

// Untrack runs fn with tracking suspended: signals read inside fn are not
// linked to the running subscriber.
func Untrack(r *Root, fn func()) {
	r.push(nil)
	defer r.pop()
	fn()
}

// Dispatch hands fn to the goroutine driving the root. It blocks while the
// queue is full and fails with ErrRootClosed once the root is closed.
//
// Calling Dispatch from the driving goroutine with a full queue deadlocks;
// code already on that goroutine should just call fn, and code that cannot
// tell which goroutine it is on should use TryDispatch.
func (r *Root) Dispatch(fn func()) error {
	select {
	case <-r.done:
		return ErrRootClosed
	default:
	}

	select {
	case r.tasks <- fn:
		return nil
	case <-r.done:
		return ErrRootClosed
	}
}

// TryDispatch queues fn without blocking. It reports false when the queue
// is full, and fails with ErrRootClosed once the root is closed.
func (r *Root) TryDispatch(fn func()) (bool, error) {
	select {
	case <-r.done:
		return false, ErrRootClosed
	default:
	}

	select {
	case r.tasks <- fn:
		return true, nil
	default:
		return false, nil
	}
}

// Run executes dispatched work on the calling goroutine until ctx is done or
// the root is closed. A panicking task is logged and skipped.
func (r *Root) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			r.Flush()
			return nil
		case fn := <-r.tasks:
			r.runTask(fn)
		}
	}
}

// Flush executes every task already queued and returns how many ran.
func (r *Root) Flush() int {
	n := 0
	for {
		select {
		case fn := <-r.tasks:
			r.runTask(fn)
			n++
		default:
			return n
		}
	}
}

// Close stops accepting dispatched work and ends Run.
// Signals and subscribers keep working synchronously.
func (r *Root) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}

// Done is closed when the root is closed.
func (r *Root) Done() <-chan struct{} {
	return r.done
}

func (r *Root) runTask(fn func()) {
	if err := Catch(fn); err != nil {
		r.logger.Error("Dispatched task failed", "error", err)
	}
}
