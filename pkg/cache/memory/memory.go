// Package memory is an in-process cache store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
)

// Store keeps entries in a map. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]models.CacheEntry
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]models.CacheEntry)}
}

func (s *Store) Load(_ context.Context, fingerprint string) (models.CacheEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[fingerprint]
	return e, ok, nil
}

func (s *Store) Save(_ context.Context, entry models.CacheEntry) error {
	s.mu.Lock()
	s.entries[entry.Fingerprint] = entry
	s.mu.Unlock()
	return nil
}

func (s *Store) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

func (s *Store) Clear(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.entries {
		if before.IsZero() || e.CreatedAt.Before(before) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) Close() error { return nil }
