// Package memory provides an in-process storage medium shared by several
// contexts, the way browser tabs share local storage.
//
//	backend := memory.NewBackend()
//	tabA, tabB := backend.Context(), backend.Context()
//
// A write through tabA is delivered to tabB's watchers, never to tabA's.
package memory

import (
	"bytes"
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/vango-dev/pulse/pkg/store"
)

// Backend holds the shared key space.
type Backend struct {
	mu       sync.Mutex
	data     map[string][]byte
	watchers map[uint64]*watcher
	nextID   uint64
}

type watcher struct {
	origin string
	fn     func(store.Change)
}

// NewBackend creates an empty medium.
func NewBackend() *Backend {
	return &Backend{
		data:     make(map[string][]byte),
		watchers: make(map[uint64]*watcher),
	}
}

// Context returns a new handle with its own origin.
func (b *Backend) Context() *Adapter {
	return &Adapter{backend: b, origin: uuid.NewString()}
}

// Keys returns the stored keys in order.
func (b *Backend) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// others returns the watchers not owned by origin. Caller holds mu.
func (b *Backend) others(origin string) []*watcher {
	var list []*watcher
	for _, w := range b.watchers {
		if w.origin != origin {
			list = append(list, w)
		}
	}
	return list
}

// Adapter is one context's view of a Backend.
type Adapter struct {
	backend *Backend
	origin  string
}

var _ store.Adapter = (*Adapter)(nil)

// Origin returns the identifier stamped on this context's changes.
func (a *Adapter) Origin() string {
	return a.origin
}

// Load implements store.Adapter.
func (a *Adapter) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	b := a.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.data[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(data), true, nil
}

// Store implements store.Adapter. Storing the value already present is not
// a change and notifies no one.
func (a *Adapter) Store(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := a.backend
	b.mu.Lock()
	old, had := b.data[key]
	if had && bytes.Equal(old, data) {
		b.mu.Unlock()
		return nil
	}
	value := slices.Clone(data)
	b.data[key] = value
	targets := b.others(a.origin)
	b.mu.Unlock()

	notify(targets, store.Change{
		Key:      key,
		NewValue: value,
		OldValue: old,
		Origin:   a.origin,
	})
	return nil
}

// Delete implements store.Adapter.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := a.backend
	b.mu.Lock()
	old, had := b.data[key]
	if !had {
		b.mu.Unlock()
		return nil
	}
	delete(b.data, key)
	targets := b.others(a.origin)
	b.mu.Unlock()

	notify(targets, store.Change{
		Key:      key,
		OldValue: old,
		Deleted:  true,
		Origin:   a.origin,
	})
	return nil
}

// Watch implements store.Adapter. Changes are delivered synchronously on
// the writer's goroutine, so fn must not block on work that goroutine is
// expected to do. In particular, a watcher feeding a reactive.Root driven by
// the writer must not call Root.Dispatch, which blocks while the queue is
// full; store.Persistent queues through Root.TryDispatch for this reason.
func (a *Adapter) Watch(ctx context.Context, fn func(store.Change)) (func(), error) {
	b := a.backend
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.watchers[id] = &watcher{origin: a.origin, fn: fn}
	b.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.watchers, id)
			b.mu.Unlock()
		})
	}

	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			stop()
		}()
	}
	return stop, nil
}

func notify(targets []*watcher, ch store.Change) {
	for _, w := range targets {
		w.fn(ch)
	}
}
