// Package inmemory keeps live-run snapshots in process memory; the default
// when no Redis is configured.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/skylarkhq/delver/internal/sessions"
)

type entry struct {
	snap      sessions.Snapshot
	expiresAt time.Time
}

type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func New() *Store {
	return &Store{entries: make(map[string]entry)}
}

func (s *Store) Save(ctx context.Context, snap sessions.Snapshot, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	s.entries[snap.RunID] = entry{snap: snap, expiresAt: exp}
	return nil
}

func (s *Store) Get(ctx context.Context, runID string) (sessions.Snapshot, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[runID]
	s.mu.RUnlock()
	if !ok {
		return sessions.Snapshot{}, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, runID)
		s.mu.Unlock()
		return sessions.Snapshot{}, false, nil
	}
	return e.snap, true, nil
}

func (s *Store) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, runID)
	return nil
}
