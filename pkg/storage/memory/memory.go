// Package memory implements storage.Store on a map. It backs tests and
// simulate mode where nothing should touch disk.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/clipforge/clipforge/pkg/storage"
)

// Store is a map-backed storage.Store.
type Store struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{items: make(map[string][]byte)}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = append([]byte(nil), value...)
	return nil
}

func (s *Store) List(_ context.Context, prefix string) ([]storage.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.Item
	for k, v := range s.items {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.Item{Key: k, Value: append([]byte(nil), v...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
