// Package memory provides an in-memory cache store for tests and dry runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Store keeps cache entries in a process-local map.
type Store struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{entries: make(map[string][]byte)}
}

// Get unmarshals the stored entry into out, reporting presence.
func (s *Store) Get(_ context.Context, namespace, key string, out any) (bool, error) {
	s.mu.RLock()
	data, ok := s.entries[namespace+"\x00"+key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode cache entry: %w", err)
	}
	return true, nil
}

// Set stores value under the namespaced key.
func (s *Store) Set(_ context.Context, namespace, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	s.mu.Lock()
	s.entries[namespace+"\x00"+key] = data
	s.mu.Unlock()
	return nil
}

// Len reports the number of entries, for tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
