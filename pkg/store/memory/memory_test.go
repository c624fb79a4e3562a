package memory

import (
	"context"
	"testing"
	"time"

	"github.com/vango-dev/pulse/pkg/store"
)

func TestAdapterLoadStore(t *testing.T) {
	ctx := context.Background()
	a := NewBackend().Context()

	if _, ok, err := a.Load(ctx, "missing"); ok || err != nil {
		t.Fatalf("Load(missing) = ok %v err %v, want absent", ok, err)
	}

	if err := a.Store(ctx, "k", []byte("1")); err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	data, ok, err := a.Load(ctx, "k")
	if err != nil || !ok || string(data) != "1" {
		t.Fatalf("Load(k) = %q %v %v, want \"1\"", data, ok, err)
	}

	// The returned slice is a copy.
	data[0] = '9'
	again, _, _ := a.Load(ctx, "k")
	if string(again) != "1" {
		t.Errorf("stored value was aliased: %q", again)
	}
}

func TestChangesReachOtherContextsOnly(t *testing.T) {
	ctx := context.Background()
	backend := NewBackend()
	writer := backend.Context()
	reader := backend.Context()

	var writerSaw, readerSaw []store.Change
	stopW, _ := writer.Watch(ctx, func(ch store.Change) { writerSaw = append(writerSaw, ch) })
	defer stopW()
	stopR, _ := reader.Watch(ctx, func(ch store.Change) { readerSaw = append(readerSaw, ch) })
	defer stopR()

	writer.Store(ctx, "k", []byte("1"))
	writer.Store(ctx, "k", []byte("1"))
	writer.Store(ctx, "k", []byte("2"))
	writer.Delete(ctx, "k")
	writer.Delete(ctx, "k")

	if len(writerSaw) != 0 {
		t.Errorf("writer heard its own changes: %+v", writerSaw)
	}
	if len(readerSaw) != 3 {
		t.Fatalf("reader saw %d changes, want 3: %+v", len(readerSaw), readerSaw)
	}

	first, second, third := readerSaw[0], readerSaw[1], readerSaw[2]
	if string(first.NewValue) != "1" || first.OldValue != nil {
		t.Errorf("first change = %+v", first)
	}
	if string(second.NewValue) != "2" || string(second.OldValue) != "1" {
		t.Errorf("second change = %+v", second)
	}
	if !third.Deleted || string(third.OldValue) != "2" {
		t.Errorf("third change = %+v", third)
	}
	if first.Origin != writer.Origin() {
		t.Errorf("origin = %q, want %q", first.Origin, writer.Origin())
	}
}

func TestWatchStop(t *testing.T) {
	ctx := context.Background()
	backend := NewBackend()
	writer := backend.Context()
	reader := backend.Context()
	calls := 0

	stop, _ := reader.Watch(ctx, func(store.Change) { calls++ })
	stop()
	stop()

	writer.Store(ctx, "k", []byte("x"))
	if calls != 0 {
		t.Errorf("stopped watcher called %d times", calls)
	}
}

func TestWatchEndsWithContext(t *testing.T) {
	backend := NewBackend()
	writer := backend.Context()
	reader := backend.Context()
	calls := 0

	ctx, cancel := context.WithCancel(context.Background())
	reader.Watch(ctx, func(store.Change) { calls++ })
	cancel()

	deadline := time.Now().Add(time.Second)
	for {
		backend.mu.Lock()
		n := len(backend.watchers)
		backend.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher not removed after cancel")
		}
		time.Sleep(time.Millisecond)
	}

	writer.Store(context.Background(), "k", []byte("x"))
	if calls != 0 {
		t.Errorf("watcher called after cancel")
	}
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	a := NewBackend().Context()
	a.Store(ctx, "b", []byte("1"))
	a.Store(ctx, "a", []byte("1"))

	keys := a.backend.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Keys() = %v, want [a b]", keys)
	}
}
