// Package cache provides named, versioned stores of cached HTTP responses
// and the registry that owns them.
package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	// ErrStoreNameRequired is returned when a store is opened or deleted without a name
	ErrStoreNameRequired = errors.New("cache store name is required")
	// ErrKeyRequired is returned when an entry is read or written without a key
	ErrKeyRequired = errors.New("cache key is required")
)

// Entry represents one cached response
type Entry struct {
	Key       string      `json:"key"`
	Status    int         `json:"status"`
	Header    http.Header `json:"header,omitempty"`
	Body      []byte      `json:"body"`
	SizeBytes int64       `json:"size_bytes"`
	StoredAt  time.Time   `json:"stored_at"`
}

// Matcher reads entries from a store
type Matcher interface {
	// Match returns the entry stored under key, if any
	Match(ctx context.Context, key string) (*Entry, bool, error)
}

// Putter writes entries to a store
type Putter interface {
	// Put stores entry under key, replacing whatever was there
	Put(ctx context.Context, key string, entry *Entry) error
}

// Store is one named partition of cached responses
type Store interface {
	Matcher
	Putter

	// Name returns the store name, e.g. "static-v2"
	Name() string

	// Delete removes the entry for key and reports whether one existed
	Delete(ctx context.Context, key string) (bool, error)

	// Keys lists every key currently held, in no particular order
	Keys(ctx context.Context) ([]string, error)
}

// Registry manages the set of named stores.
//
// Registries do not evict. Admission control belongs to the caller.
type Registry interface {
	// Open returns the named store, creating it when absent
	Open(ctx context.Context, name string) (Store, error)

	// ListStores returns every store name
	ListStores(ctx context.Context) ([]string, error)

	// DeleteStore removes a store and all of its entries and reports whether it existed
	DeleteStore(ctx context.Context, name string) (bool, error)
}
