package storage

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory ObjectStore for tests and local development
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Put stores an object body under a key
func (s *MemoryStore) Put(ctx context.Context, key string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = body
	return ctx.Err()
}

// Get returns the object body for a key, or ErrObjectNotFound
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.data[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out, ctx.Err()
}
