package store

import (
	"context"
	"strings"

	"github.com/vango-dev/pulse/internal/errors"
)

// Adapter is a key-value medium holding encoded values.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Load returns the stored bytes. ok is false when the key is absent;
	// err is reserved for backend failures.
	Load(ctx context.Context, key string) (data []byte, ok bool, err error)

	// Store replaces the value at key.
	Store(ctx context.Context, key string, data []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Watch delivers changes made by other contexts until stop is called or
	// ctx is done. fn may be called from any goroutine.
	Watch(ctx context.Context, fn func(Change)) (stop func(), err error)
}

// Change is one entry of an adapter's change feed.
type Change struct {
	Key string `json:"key"`

	// NewValue is the value after the change. Empty when Deleted.
	NewValue []byte `json:"new,omitempty"`

	// OldValue is the value the watcher last knew, if any.
	OldValue []byte `json:"old,omitempty"`

	Deleted bool `json:"deleted,omitempty"`

	// Origin identifies the context that made the change.
	Origin string `json:"origin,omitempty"`
}

// Removed reports whether the change clears the key. An empty new value
// counts as a removal.
func (c Change) Removed() bool {
	return c.Deleted || len(c.NewValue) == 0
}

// ValidateKey rejects keys no adapter can hold.
func ValidateKey(key string) error {
	if key == "" {
		return errors.New(errors.CodeInvalidKey).WithDetail("empty key")
	}
	if strings.ContainsRune(key, 0) {
		return errors.New(errors.CodeInvalidKey).WithDetailf("key %q contains NUL", key)
	}
	return nil
}
