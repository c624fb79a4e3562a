package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vango-dev/pulse/internal/errors"
	"github.com/vango-dev/pulse/pkg/store"
)

// Reconnect backoff bounds used by Watch after the stream drops.
const (
	DefaultReconnectMin = 250 * time.Millisecond
	DefaultReconnectMax = 30 * time.Second
)

// Client is a store.Adapter backed by a hub Server.
type Client struct {
	base   *url.URL
	origin string
	http   *http.Client
	dialer *websocket.Dialer
	logger *slog.Logger

	reconnectMin time.Duration
	reconnectMax time.Duration

	// mu guards seen and streams.
	mu sync.Mutex
	// seen holds the last value this client loaded, stored or deleted per
	// key. New streams start from it, and after a reconnect each stream
	// reloads its keys and reports what changed while it was away.
	seen    map[string]seenValue
	streams map[*stream]struct{}
}

type seenValue struct {
	data    []byte
	present bool
}

// stream is the state of one Watch call.
type stream struct {
	seen map[string]seenValue
}

var _ store.Adapter = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the client used for key requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithDialer sets the websocket dialer used by Watch.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithOrigin overrides the generated origin.
func WithOrigin(origin string) ClientOption {
	return func(c *Client) {
		if origin != "" {
			c.origin = origin
		}
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithReconnectBackoff sets the delay bounds between reconnect attempts.
// The delay doubles after each failed attempt.
func WithReconnectBackoff(initial, limit time.Duration) ClientOption {
	return func(c *Client) {
		if initial > 0 && limit >= initial {
			c.reconnectMin = initial
			c.reconnectMax = limit
		}
	}
}

// NewClient creates a client for the hub at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, errors.New(errors.CodeInvalidConfig).
			WithDetailf("hub url %q", baseURL).
			WithSuggestion("Use an absolute URL such as http://localhost:7070")
	}

	c := &Client{
		base:   base,
		origin: uuid.NewString(),
		http:   http.DefaultClient,
		dialer: websocket.DefaultDialer,

		reconnectMin: DefaultReconnectMin,
		reconnectMax: DefaultReconnectMax,
		seen:         make(map[string]seenValue),
		streams:      make(map[*stream]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default().With("component", "hub-client", "hub", base.Host)
	}
	return c, nil
}

// Origin returns the identifier sent with this client's writes.
func (c *Client) Origin() string {
	return c.origin
}

func (c *Client) keyURL(key string) string {
	return c.base.String() + keysPrefix + url.PathEscape(key)
}

func (c *Client) watchURL() string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/watch"
	u.RawQuery = url.Values{"origin": {c.origin}}.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, key string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.keyURL(key), rd)
	if err != nil {
		return nil, errors.New(errors.CodeHubRequest).WithDetailf("%s %q", method, key).Wrap(err)
	}
	req.Header.Set(OriginHeader, c.origin)
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodeHubRequest).WithDetailf("%s %q", method, key).Wrap(err)
	}
	return resp, nil
}

// responseError turns a non-success response into an error, preferring the
// server's own error code.
func responseError(method, key string, resp *http.Response) error {
	var body errorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Code != "" {
		detail := body.Detail
		if detail == "" {
			detail = body.Message
		}
		return errors.New(body.Code).WithDetailf("%s %q: %s", method, key, detail)
	}
	return errors.New(errors.CodeHubRequest).WithDetailf("%s %q: %s", method, key, resp.Status)
}

// Load implements store.Adapter.
func (c *Client) Load(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok, err := c.load(ctx, key)
	if err == nil {
		c.note(key, seenValue{data: data, present: ok})
	}
	return data, ok, err
}

func (c *Client) load(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, errors.New(errors.CodeHubRequest).WithDetailf("read %q", key).Wrap(err)
		}
		return data, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, responseError(http.MethodGet, key, resp)
	}
}

// Store implements store.Adapter.
func (c *Client) Store(ctx context.Context, key string, data []byte) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	if err := c.mutate(ctx, http.MethodPut, key, data); err != nil {
		return err
	}
	c.note(key, seenValue{data: bytes.Clone(data), present: true})
	return nil
}

// Delete implements store.Adapter.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.mutate(ctx, http.MethodDelete, key, nil); err != nil {
		return err
	}
	c.note(key, seenValue{})
	return nil
}

// note records v as the latest value of key for the client and every live
// stream.
func (c *Client) note(key string, v seenValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[key] = v
	for s := range c.streams {
		s.seen[key] = v
	}
}

func (c *Client) register() *stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &stream{seen: make(map[string]seenValue, len(c.seen))}
	for key, v := range c.seen {
		s.seen[key] = v
	}
	c.streams[s] = struct{}{}
	return s
}

func (c *Client) unregister(s *stream) {
	c.mu.Lock()
	delete(c.streams, s)
	c.mu.Unlock()
}

func (c *Client) mutate(ctx context.Context, method, key string, body []byte) error {
	resp, err := c.do(ctx, method, key, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return responseError(method, key, resp)
	}
	return nil
}

// Watch implements store.Adapter.
//
// When the stream drops, Watch logs the error, redials with exponential
// backoff until ctx is done or stop is called, and then reloads every key
// this client has loaded, stored or deleted, reporting the ones that
// changed in the meantime.
func (c *Client) Watch(ctx context.Context, fn func(store.Change)) (func(), error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	s := c.register()
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer c.unregister(s)
		for {
			err := c.read(ctx, conn, s, fn)
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Watch stream dropped, reconnecting", "error", err)

			if conn = c.redial(ctx); conn == nil {
				return
			}
			c.reload(ctx, s, fn)
		}
	}()

	return cancel, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set(OriginHeader, c.origin)

	conn, resp, err := c.dialer.DialContext(ctx, c.watchURL(), header)
	if err != nil {
		detail := "dial " + c.watchURL()
		if resp != nil {
			detail = fmt.Sprintf("%s: %s", detail, resp.Status)
		}
		return nil, errors.New(errors.CodeHubRequest).WithDetail(detail).Wrap(err)
	}
	return conn, nil
}

// read delivers frames from conn until it fails or ctx is done, and closes
// conn before returning.
func (c *Client) read(ctx context.Context, conn *websocket.Conn, s *stream, fn func(store.Change)) error {
	defer conn.Close()
	release := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	})
	defer release()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ch store.Change
		if err := json.Unmarshal(msg, &ch); err != nil {
			c.logger.Warn("Discarding malformed change frame",
				"error", errors.New(errors.CodeHubProtocol).Wrap(err))
			continue
		}
		if ch.Origin == c.origin {
			continue
		}
		c.track(s, ch.Key, seenValue{data: ch.NewValue, present: !ch.Removed()})
		fn(ch)
	}
}

// track updates a key s already follows.
func (c *Client) track(s *stream, key string, v seenValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		s.seen[key] = v
	}
}

// redial retries the stream with exponential backoff. It returns nil once
// ctx is done.
func (c *Client) redial(ctx context.Context) *websocket.Conn {
	delay := c.reconnectMin
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := c.dial(ctx)
		if err == nil {
			c.logger.Info("Watch stream reconnected", "attempts", attempt)
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		delay = min(delay*2, c.reconnectMax)
		c.logger.Warn("Reconnect failed", "attempt", attempt, "retry_in", delay, "error", err)
	}
}

// reload compares every key s follows with the hub and reports the
// differences as changes.
func (c *Client) reload(ctx context.Context, s *stream, fn func(store.Change)) {
	c.mu.Lock()
	keys := make(map[string]seenValue, len(s.seen))
	for key, v := range s.seen {
		keys[key] = v
	}
	c.mu.Unlock()

	for key, prev := range keys {
		data, ok, err := c.load(ctx, key)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("Failed to reload key after reconnect", "key", key, "error", err)
			}
			continue
		}
		if ok == prev.present && bytes.Equal(data, prev.data) {
			continue
		}

		c.mu.Lock()
		s.seen[key] = seenValue{data: data, present: ok}
		c.mu.Unlock()

		fn(store.Change{
			Key:      key,
			NewValue: data,
			OldValue: prev.data,
			Deleted:  !ok,
		})
	}
}
