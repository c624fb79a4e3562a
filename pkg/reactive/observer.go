package reactive

import "time"

// WriteInfo describes one Signal.Set.
type WriteInfo struct {
	RootID   uint64
	SignalID uint64

	// Subscribers is the size of the snapshot about to be executed.
	Subscribers int

	// Depth is the execution context height at the time of the write.
	// Writes from inside an effect have Depth > 0.
	Depth int
}

// ExecInfo describes one subscriber execution. It is reported after the
// execution context frame has been popped, including when the body panicked.
type ExecInfo struct {
	RootID       uint64
	SubscriberID uint64

	// Run counts executions of this subscriber, starting at 1.
	Run uint64

	// Depth is the stack height while the body ran (1 for a top-level run).
	Depth int

	// Dependencies is the number of signals linked by this run.
	Dependencies int

	Start    time.Time
	Duration time.Duration
	Panicked bool
}

// Observer receives instrumentation callbacks from a Root.
// Callbacks run synchronously inside propagation and must not read or
// write signals of the observed root.
type Observer interface {
	SignalWritten(WriteInfo)
	SubscriberExecuted(ExecInfo)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnWrite   func(WriteInfo)
	OnExecute func(ExecInfo)
}

func (o ObserverFuncs) SignalWritten(info WriteInfo) {
	if o.OnWrite != nil {
		o.OnWrite(info)
	}
}

func (o ObserverFuncs) SubscriberExecuted(info ExecInfo) {
	if o.OnExecute != nil {
		o.OnExecute(info)
	}
}

// Observers fans callbacks out to every non-nil observer in order.
func Observers(observers ...Observer) Observer {
	list := make(multiObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) SignalWritten(info WriteInfo) {
	for _, o := range m {
		o.SignalWritten(info)
	}
}

func (m multiObserver) SubscriberExecuted(info ExecInfo) {
	for _, o := range m {
		o.SubscriberExecuted(info)
	}
}

type nopObserver struct{}

func (nopObserver) SignalWritten(WriteInfo)     {}
func (nopObserver) SubscriberExecuted(ExecInfo) {}
