// Package storage defines the durable key/value backing used by the cache
// snapshot and the spend ledger.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Item is a single key/value pair returned by List.
type Item struct {
	Key   string
	Value []byte
}

// Store persists opaque values by key. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// List returns every item whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Item, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases resources.
	Close() error
}
