package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pushauth/internal/mfa/models"
	"pushauth/pkg/platform/sentinel"
)

type entry struct {
	snapshot  models.SessionSnapshot
	expiresAt time.Time
}

// InMemoryStore is the single-instance store. Expired entries are hidden on
// read and removed by Sweep.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]entry), now: time.Now}
}

func (s *InMemoryStore) Save(_ context.Context, snapshot models.SessionSnapshot, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry{snapshot: snapshot}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[snapshot.ID] = e
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*models.SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok || s.expired(e) {
		return nil, fmt.Errorf("session %s: %w", id, sentinel.ErrNotFound)
	}
	snapshot := e.snapshot
	return &snapshot, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// Sweep drops expired entries and reports how many were removed.
func (s *InMemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

func (s *InMemoryStore) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}
