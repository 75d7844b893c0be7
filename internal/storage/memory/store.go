// Package memory stores artifacts in-memory for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/eld-roster-crawler/internal/storage"
)

// Store keeps artifacts in a map and records every write.
type Store struct {
	mu     sync.RWMutex
	data   map[string][]byte
	writes map[string][][]byte
	// FailPut, when set, is returned by Put for matching keys.
	FailPut func(key string) error
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data:   make(map[string][]byte),
		writes: make(map[string][][]byte),
	}
}

// Get returns a copy of the stored document.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Put stores a copy of data under key.
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPut != nil {
		if err := s.FailPut(key); err != nil {
			return err
		}
	}
	cp := append([]byte(nil), data...)
	s.data[key] = cp
	s.writes[key] = append(s.writes[key], cp)
	return nil
}

// Writes returns every document written under key, oldest first.
func (s *Store) Writes(key string) [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]byte, len(s.writes[key]))
	copy(out, s.writes[key])
	return out
}
