package hub

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/vango-dev/pulse/internal/errors"
	"github.com/vango-dev/pulse/pkg/store"
	"github.com/vango-dev/pulse/pkg/store/memory"
)

func newTestHub(t *testing.T) (*Server, *memory.Backend, *httptest.Server) {
	t.Helper()
	backend := memory.NewBackend()
	srv := NewServer(backend.Context())
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
	})
	return srv, backend, ts
}

func newTestClient(t *testing.T, ts *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(ts.URL)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClientRoundTrip(t *testing.T) {
	_, _, ts := newTestHub(t)
	c := newTestClient(t, ts)
	ctx := context.Background()

	if _, ok, err := c.Load(ctx, "cart"); err != nil || ok {
		t.Fatalf("Load(missing) = ok %v err %v, want absent", ok, err)
	}

	if err := c.Store(ctx, "cart", []byte(`["apple"]`)); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	data, ok, err := c.Load(ctx, "cart")
	if err != nil || !ok || string(data) != `["apple"]` {
		t.Fatalf("Load() = %q, %v, %v", data, ok, err)
	}

	if err := c.Delete(ctx, "cart"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := c.Load(ctx, "cart"); ok {
		t.Error("Load() after Delete should be absent")
	}
	if err := c.Delete(ctx, "cart"); err != nil {
		t.Errorf("Delete(absent) error = %v", err)
	}
}

func TestClientEscapesKeys(t *testing.T) {
	_, backend, ts := newTestHub(t)
	c := newTestClient(t, ts)
	ctx := context.Background()

	for _, key := range []string{"users/42", "100%", "a b", "%41"} {
		if err := c.Store(ctx, key, []byte(key)); err != nil {
			t.Fatalf("Store(%q) error = %v", key, err)
		}
		data, ok, err := backend.Context().Load(ctx, key)
		if err != nil || !ok || string(data) != key {
			t.Errorf("backend Load(%q) = %q, %v, %v", key, data, ok, err)
		}
	}
}

func TestServerRejectsEmptyKey(t *testing.T) {
	_, _, ts := newTestHub(t)
	c := newTestClient(t, ts)

	_, _, err := c.Load(context.Background(), "")
	if !stderrors.Is(err, errors.New(errors.CodeInvalidKey)) {
		t.Fatalf("Load(\"\") error = %v, want invalid key", err)
	}
}

func TestWatchExcludesOrigin(t *testing.T) {
	srv, _, ts := newTestHub(t)
	ctx := context.Background()
	reader := newTestClient(t, ts)
	writer := newTestClient(t, ts)

	readerCh := make(chan store.Change, 4)
	stopReader, err := reader.Watch(ctx, func(ch store.Change) { readerCh <- ch })
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer stopReader()

	writerCh := make(chan store.Change, 4)
	stopWriter, err := writer.Watch(ctx, func(ch store.Change) { writerCh <- ch })
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer stopWriter()

	waitFor(t, "subscribers", func() bool { return srv.Subscribers() == 2 })

	if err := writer.Store(ctx, "n", []byte("1")); err != nil {
		t.Fatal(err)
	}

	select {
	case ch := <-readerCh:
		if ch.Key != "n" || string(ch.NewValue) != "1" || ch.Origin != writer.Origin() {
			t.Errorf("change = %+v", ch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader saw no change")
	}

	if err := writer.Delete(ctx, "n"); err != nil {
		t.Fatal(err)
	}
	select {
	case ch := <-readerCh:
		if !ch.Deleted || string(ch.OldValue) != "1" {
			t.Errorf("delete change = %+v", ch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader saw no delete")
	}

	select {
	case ch := <-writerCh:
		t.Errorf("writer received its own change %+v", ch)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchReconnectsAndReloadsAfterDrop(t *testing.T) {
	srv, backend, ts := newTestHub(t)
	ctx := context.Background()
	writer := newTestClient(t, ts)
	reader, err := NewClient(ts.URL, WithReconnectBackoff(10*time.Millisecond, 50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if err := writer.Store(ctx, "cart", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := reader.Load(ctx, "cart"); err != nil {
		t.Fatal(err)
	}

	changes := make(chan store.Change, 4)
	stop, err := reader.Watch(ctx, func(ch store.Change) { changes <- ch })
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer stop()
	waitFor(t, "subscriber", func() bool { return srv.Subscribers() == 1 })

	// Written behind the hub's back, so only a reload can surface it.
	if err := backend.Context().Store(ctx, "cart", []byte("2")); err != nil {
		t.Fatal(err)
	}
	srv.Shutdown()

	select {
	case ch := <-changes:
		if ch.Key != "cart" || string(ch.NewValue) != "2" || string(ch.OldValue) != "1" || ch.Deleted {
			t.Errorf("reloaded change = %+v", ch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported after the stream dropped")
	}

	waitFor(t, "reconnect", func() bool { return srv.Subscribers() == 1 })
	if err := writer.Store(ctx, "cart", []byte("3")); err != nil {
		t.Fatal(err)
	}
	select {
	case ch := <-changes:
		if string(ch.NewValue) != "3" || ch.Origin != writer.Origin() {
			t.Errorf("live change after reconnect = %+v", ch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reconnected stream delivered nothing")
	}
}

func TestWatchStopEndsStream(t *testing.T) {
	srv, _, ts := newTestHub(t)
	c, err := NewClient(ts.URL, WithReconnectBackoff(10*time.Millisecond, 50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	stop, err := c.Watch(context.Background(), func(store.Change) {})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	waitFor(t, "subscriber", func() bool { return srv.Subscribers() == 1 })

	stop()
	stop()
	waitFor(t, "disconnect", func() bool { return srv.Subscribers() == 0 })

	time.Sleep(50 * time.Millisecond)
	if n := srv.Subscribers(); n != 0 {
		t.Errorf("stopped stream reconnected, subscribers = %d", n)
	}
}

func TestUnchangedPutIsNotBroadcast(t *testing.T) {
	srv, _, ts := newTestHub(t)
	c := newTestClient(t, ts)
	ctx := context.Background()

	if err := c.Store(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := c.Store(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(srv.metrics.changesTotal); got != 1 {
		t.Errorf("changes_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(srv.metrics.requestsTotal.WithLabelValues("put", strconv.Itoa(http.StatusNoContent))); got != 2 {
		t.Errorf("put requests = %v, want 2", got)
	}
}

func TestServeRelaysBackendChanges(t *testing.T) {
	srv, backend, ts := newTestHub(t)
	c := newTestClient(t, ts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()

	got := make(chan store.Change, 16)
	stop, err := c.Watch(ctx, func(ch store.Change) { got <- ch })
	if err != nil {
		t.Fatal(err)
	}
	defer stop()
	waitFor(t, "subscriber", func() bool { return srv.Subscribers() == 1 })

	// Serve registers its watch asynchronously, so keep writing until one
	// write is relayed.
	other := backend.Context()
	deadline := time.After(2 * time.Second)
	for i := 0; ; i++ {
		if err := other.Store(ctx, "ext", []byte(strconv.Itoa(i))); err != nil {
			t.Fatal(err)
		}
		select {
		case ch := <-got:
			if ch.Key != "ext" {
				t.Fatalf("change = %+v", ch)
			}
			cancel()
			if err := <-served; !stderrors.Is(err, context.Canceled) {
				t.Errorf("Serve() = %v, want context.Canceled", err)
			}
			return
		case <-deadline:
			t.Fatal("backend change never relayed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	_, _, ts := newTestHub(t)
	c := newTestClient(t, ts)
	if err := c.Store(context.Background(), "k", []byte("v")); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "pulse_hub_changes_total 1") {
		t.Errorf("/metrics missing changes counter:\n%s", body)
	}
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	_, err := NewClient("localhost:7070/path")
	if !stderrors.Is(err, errors.New(errors.CodeInvalidConfig)) {
		t.Fatalf("NewClient() error = %v, want invalid config", err)
	}
}

func TestWatchURL(t *testing.T) {
	c, err := NewClient("https://hub.example.com/base/", WithOrigin("me"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.watchURL(), "wss://hub.example.com/base/v1/watch?origin=me"; got != want {
		t.Errorf("watchURL() = %q, want %q", got, want)
	}
	if got, want := c.keyURL("a/b"), "https://hub.example.com/base/v1/keys/a%2Fb"; got != want {
		t.Errorf("keyURL() = %q, want %q", got, want)
	}
}
