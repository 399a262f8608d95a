package runner

import (
	"context"
	"sync"
	"time"

	"github.com/nomis52/gosdm/lifecycle"
)

// MemoryStore keeps lifecycles in memory only (no persistence).
type MemoryStore struct {
	lifecycles map[string]*lifecycle.Lifecycle
	mu         sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lifecycles: make(map[string]*lifecycle.Lifecycle),
	}
}

// Save stores a copy of lc.
func (s *MemoryStore) Save(_ context.Context, lc *lifecycle.Lifecycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lifecycles[lc.ID] = lc.Clone()
	return nil
}

// Load returns a copy of the lifecycle.
func (s *MemoryStore) Load(_ context.Context, id string) (*lifecycle.Lifecycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lc, ok := s.lifecycles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return lc.Clone(), nil
}

// List returns copies of every lifecycle, newest first.
func (s *MemoryStore) List(_ context.Context) ([]*lifecycle.Lifecycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*lifecycle.Lifecycle, 0, len(s.lifecycles))
	for _, lc := range s.lifecycles {
		result = append(result, lc.Clone())
	}
	sortNewestFirst(result)
	return result, nil
}

// Prune drops finished lifecycles last updated before the cutoff.
func (s *MemoryStore) Prune(_ context.Context, before time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned []string
	for id, lc := range s.lifecycles {
		if prunable(lc, before) {
			delete(s.lifecycles, id)
			pruned = append(pruned, id)
		}
	}
	return pruned, nil
}
