// Package filestore keeps values as files in a directory and watches the
// directory for changes made by other processes.
//
// Each key is one file named after the path-escaped key with a ".dat"
// suffix. Writes go to a temporary file that is renamed into place while
// holding an advisory lock on the directory, so readers never observe a
// partial value.
package filestore

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/vango-dev/pulse/internal/errors"
	"github.com/vango-dev/pulse/pkg/store"
)

const (
	fileSuffix   = ".dat"
	lockFileName = ".pulse.lock"

	// lockRetry is how often a blocked writer retries the directory lock.
	lockRetry = 10 * time.Millisecond
)

// Store is one context's handle on a directory.
type Store struct {
	dir    string
	origin string
	lock   *flock.Flock
	logger *slog.Logger

	// writeMu serialises writers in this process; the flock only excludes
	// other processes.
	writeMu sync.Mutex

	// mu guards watches.
	mu      sync.Mutex
	watches map[*watch]struct{}
}

// watch is the state of one Watch call. Every write made through the Store
// is recorded in each live watch's own map, so that each watcher can
// recognize the resulting events as this context's.
type watch struct {
	own   map[string]ownWrite
	known map[string][]byte
}

type ownWrite struct {
	data    []byte
	deleted bool
}

var _ store.Adapter = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for watcher failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New opens dir, creating it if needed.
func New(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(errors.CodeBackend).WithDetailf("create %s", dir).Wrap(err)
	}

	s := &Store{
		dir:     dir,
		origin:  uuid.NewString(),
		lock:    flock.New(filepath.Join(dir, lockFileName)),
		watches: make(map[*watch]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "filestore", "dir", dir)
	}
	return s, nil
}

// Dir returns the directory holding the values.
func (s *Store) Dir() string {
	return s.dir
}

// Origin returns the identifier stamped on this context's changes.
func (s *Store) Origin() string {
	return s.origin
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+fileSuffix)
}

// keyFor maps a file name back to its key.
func keyFor(name string) (string, bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, fileSuffix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(base, fileSuffix))
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}

// Load implements store.Adapter.
func (s *Store) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, errors.New(errors.CodeBackend).WithDetailf("read %q", key).Wrap(err)
	}
	return data, true, nil
}

// Store implements store.Adapter.
func (s *Store) Store(ctx context.Context, key string, data []byte) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	return s.locked(ctx, func() error {
		target := s.path(key)
		tmp := fmt.Sprintf("%s.%s.tmp", target, s.origin[:8])

		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return errors.New(errors.CodeBackend).WithDetailf("write %q", key).Wrap(err)
		}

		s.remember(key, ownWrite{data: slices.Clone(data)})

		if err := os.Rename(tmp, target); err != nil {
			os.Remove(tmp)
			return errors.New(errors.CodeBackend).WithDetailf("rename %q", key).Wrap(err)
		}
		return nil
	})
}

// Delete implements store.Adapter.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.locked(ctx, func() error {
		s.remember(key, ownWrite{deleted: true})

		err := os.Remove(s.path(key))
		if err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return errors.New(errors.CodeBackend).WithDetailf("remove %q", key).Wrap(err)
		}
		return nil
	})
}

func (s *Store) locked(ctx context.Context, fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ok, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return errors.New(errors.CodeBackend).WithDetail("lock " + s.dir).Wrap(err)
	}
	if !ok {
		return errors.New(errors.CodeBackend).WithDetail("lock " + s.dir)
	}
	defer s.lock.Unlock()
	return fn()
}

func (s *Store) remember(key string, w ownWrite) {
	s.mu.Lock()
	for wt := range s.watches {
		wt.own[key] = w
	}
	s.mu.Unlock()
}

func (s *Store) register(wt *watch) {
	s.mu.Lock()
	s.watches[wt] = struct{}{}
	s.mu.Unlock()
}

func (s *Store) unregister(wt *watch) {
	s.mu.Lock()
	delete(s.watches, wt)
	s.mu.Unlock()
}

// consume reports whether state matches this context's latest write to key
// as recorded for wt. The record is dropped either way: a later foreign
// write supersedes it.
func (s *Store) consume(wt *watch, key string, data []byte, deleted bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := wt.own[key]
	if !ok {
		return false
	}
	delete(wt.own, key)
	if w.deleted || deleted {
		return w.deleted && deleted
	}
	return bytes.Equal(w.data, data)
}

// snapshot reads every value currently in the directory.
func (s *Store) snapshot() (map[string][]byte, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	values := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		key, ok := keyFor(entry.Name())
		if !ok || entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		values[key] = data
	}
	return values, nil
}

// Watch implements store.Adapter using fsnotify on the directory.
func (s *Store) Watch(ctx context.Context, fn func(store.Change)) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.New(errors.CodeBackend).WithDetail("watch " + s.dir).Wrap(err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return nil, errors.New(errors.CodeBackend).WithDetail("watch " + s.dir).Wrap(err)
	}

	// Register before the snapshot so no write falls between the two.
	wt := &watch{own: make(map[string]ownWrite)}
	s.register(wt)

	known, err := s.snapshot()
	if err != nil {
		s.unregister(wt)
		w.Close()
		return nil, errors.New(errors.CodeBackend).WithDetail("scan " + s.dir).Wrap(err)
	}
	wt.known = known

	stopC := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() { close(stopC) })
	}

	go func() {
		defer w.Close()
		defer s.unregister(wt)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopC:
				return
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Directory watch error", "error", err)
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				key, isValue := keyFor(ev.Name)
				if !isValue {
					continue
				}
				if ch, changed := s.observe(wt, key); changed {
					fn(ch)
				}
			}
		}
	}()

	return stop, nil
}

// observe re-reads key and turns the difference from wt.known into a
// Change. wt.known is owned by the watch goroutine.
func (s *Store) observe(wt *watch, key string) (store.Change, bool) {
	known := wt.known
	old, had := known[key]

	data, err := os.ReadFile(s.path(key))
	deleted := stderrors.Is(err, fs.ErrNotExist)
	if err != nil && !deleted {
		s.logger.Debug("Skipped unreadable value", "key", key, "error", err)
		return store.Change{}, false
	}

	if deleted {
		if !had {
			return store.Change{}, false
		}
		delete(known, key)
	} else {
		if had && bytes.Equal(old, data) {
			return store.Change{}, false
		}
		known[key] = data
	}

	if s.consume(wt, key, data, deleted) {
		return store.Change{}, false
	}

	return store.Change{
		Key:      key,
		NewValue: data,
		OldValue: old,
		Deleted:  deleted,
	}, true
}
