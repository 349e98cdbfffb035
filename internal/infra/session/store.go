// Package session holds the per-process session state read by the API
// client: the API origin override and the embed credentials.
package session

import (
	"context"
	"time"

	"github.com/lightdash/lightdash-bff-go/internal/infra/cache"
)

// Store is an in-memory key/value session store. It implements
// port.SessionStore.
type Store struct {
	items *cache.InMemory[string]
}

// NewStore creates a session store whose values live for ttl (0 = forever).
func NewStore(ttl time.Duration) *Store {
	return &Store{items: cache.New[string](ttl)}
}

// Get returns the value stored under key.
func (s *Store) Get(_ context.Context, key string) (string, bool) {
	v, ok := s.items.Get(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Set stores value under key. An empty value deletes the key.
func (s *Store) Set(ctx context.Context, key, value string) {
	if value == "" {
		s.Delete(ctx, key)
		return
	}
	s.items.Set(key, value)
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) {
	s.items.Delete(key)
}

// Close releases the store's background resources.
func (s *Store) Close() {
	s.items.Close()
}
