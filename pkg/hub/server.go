package hub

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vango-dev/pulse/internal/errors"
	"github.com/vango-dev/pulse/pkg/store"
)

const (
	// OriginHeader carries the writer's origin on mutating requests.
	OriginHeader = "X-Pulse-Origin"

	keysPrefix = "/v1/keys/"

	// DefaultMaxValueSize bounds PUT bodies.
	DefaultMaxValueSize = 1 << 20

	// DefaultSendBuffer is the number of frames queued per subscriber
	// before it is dropped as too slow.
	DefaultSendBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Server is an http.Handler sharing one backend.
type Server struct {
	backend  store.Adapter
	logger   *slog.Logger
	upgrader websocket.Upgrader
	registry *prometheus.Registry
	metrics  *metrics
	router   chi.Router

	maxValueSize int64
	sendBuffer   int

	// mu serialises mutations so the old value reported with a change is
	// the one actually replaced.
	mu sync.Mutex

	clientsMu sync.Mutex
	clients   map[*subscriber]struct{}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegistry registers hub metrics on registry and serves it at /metrics.
func WithRegistry(registry *prometheus.Registry) ServerOption {
	return func(s *Server) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// WithMaxValueSize bounds the size of stored values.
func WithMaxValueSize(n int64) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxValueSize = n
		}
	}
}

// WithCheckOrigin sets the websocket origin check. The default accepts all
// origins.
func WithCheckOrigin(fn func(*http.Request) bool) ServerOption {
	return func(s *Server) {
		s.upgrader.CheckOrigin = fn
	}
}

// NewServer creates a hub over backend.
func NewServer(backend store.Adapter, opts ...ServerOption) *Server {
	s := &Server{
		backend: backend,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		maxValueSize: DefaultMaxValueSize,
		sendBuffer:   DefaultSendBuffer,
		clients:      make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "hub")
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = newMetrics(s.registry)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get("/v1/watch", s.handleWatch)
	r.Get(keysPrefix+"*", s.instrument("get", s.handleGet))
	r.Put(keysPrefix+"*", s.instrument("put", s.handlePut))
	r.Delete(keysPrefix+"*", s.instrument("delete", s.handleDelete))
	s.router = r

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Registry returns the registry served at /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Subscribers returns the number of connected watchers.
func (s *Server) Subscribers() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

// Serve relays changes made to the backend by other contexts until ctx is
// done. It satisfies suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	stop, err := s.backend.Watch(ctx, s.broadcast)
	if err != nil {
		return err
	}
	defer stop()

	<-ctx.Done()
	return ctx.Err()
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(op string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.metrics.requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		s.metrics.requestsTotal.WithLabelValues(op, strconv.Itoa(rec.status)).Inc()
	}
}

// keyFromRequest extracts the key from the escaped path so keys containing
// slashes or percent signs survive routing.
func keyFromRequest(r *http.Request) (string, error) {
	raw := strings.TrimPrefix(r.URL.EscapedPath(), keysPrefix)
	key, err := url.PathUnescape(raw)
	if err != nil {
		return "", errors.New(errors.CodeInvalidKey).WithDetailf("malformed key %q", raw)
	}
	if err := store.ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

func originFromRequest(r *http.Request) string {
	if origin := r.Header.Get(OriginHeader); origin != "" {
		return origin
	}
	return r.URL.Query().Get("origin")
}

// errorBody is the JSON shape of an error response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Code: errors.CodeHubRequest, Message: err.Error()}
	var pe *errors.PulseError
	if stderrors.As(err, &pe) {
		body = errorBody{Code: pe.Code, Message: pe.Message, Detail: pe.Detail}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	data, ok, err := s.backend.Load(r.Context(), key)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New(errors.CodeHubRequest).WithDetailf("key %q not found", key))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxValueSize))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge,
			errors.New(errors.CodeHubRequest).WithDetail("value too large").Wrap(err))
		return
	}

	s.mu.Lock()
	old, had, err := s.backend.Load(r.Context(), key)
	// Unchanged values are not re-announced.
	changed := err == nil && !(had && bytes.Equal(old, data))
	if changed {
		err = s.backend.Store(r.Context(), key, data)
	}
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	if changed {
		s.broadcast(store.Change{
			Key:      key,
			NewValue: data,
			OldValue: old,
			Origin:   originFromRequest(r),
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	old, had, err := s.backend.Load(r.Context(), key)
	if err == nil && had {
		err = s.backend.Delete(r.Context(), key)
	}
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	if had {
		s.broadcast(store.Change{
			Key:      key,
			OldValue: old,
			Deleted:  true,
			Origin:   originFromRequest(r),
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

// subscriber is one websocket watcher.
type subscriber struct {
	conn   *websocket.Conn
	origin string
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *subscriber) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	c := &subscriber{
		conn:   conn,
		origin: originFromRequest(r),
		send:   make(chan []byte, s.sendBuffer),
		done:   make(chan struct{}),
	}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.metrics.subscribers.Set(float64(len(s.clients)))
	s.clientsMu.Unlock()
	s.logger.Debug("Subscriber connected", "origin", c.origin, "remote", r.RemoteAddr)

	go s.writeLoop(c)
	s.readLoop(c)
}

func (s *Server) remove(c *subscriber) {
	s.clientsMu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		s.metrics.subscribers.Set(float64(len(s.clients)))
	}
	s.clientsMu.Unlock()
	c.close()
}

// readLoop discards inbound frames and detects disconnects.
func (s *Server) readLoop(c *subscriber) {
	defer func() {
		s.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Warn("Subscriber read error", "origin", c.origin, "error", err)
			}
			return
		}
	}
}

func (s *Server) writeLoop(c *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.remove(c)
				return
			}
		}
	}
}

// broadcast queues ch for every subscriber except its origin. Subscribers
// whose queue is full are dropped.
func (s *Server) broadcast(ch store.Change) {
	msg, err := json.Marshal(ch)
	if err != nil {
		s.logger.Error("Failed to encode change", "key", ch.Key, "error", err)
		return
	}

	var slow []*subscriber
	sent := 0
	s.clientsMu.Lock()
	for c := range s.clients {
		if ch.Origin != "" && c.origin == ch.Origin {
			continue
		}
		select {
		case c.send <- msg:
			sent++
		default:
			slow = append(slow, c)
		}
	}
	s.clientsMu.Unlock()

	s.metrics.changesTotal.Inc()
	s.metrics.framesSent.Add(float64(sent))
	for _, c := range slow {
		s.logger.Warn("Dropping slow subscriber", "origin", c.origin)
		s.metrics.dropped.Inc()
		s.remove(c)
	}
}

// Shutdown disconnects every subscriber.
func (s *Server) Shutdown() {
	s.clientsMu.Lock()
	clients := make([]*subscriber, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		s.remove(c)
	}
}
