// Package memstore provides an in-memory implementation of allocation.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/allocator/internal/allocation"
)

var _ allocation.Store = (*Store)(nil)

// Store holds allocation runs in memory. Suitable for dev/testing.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*allocation.Run // run ID -> run
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{runs: make(map[string]*allocation.Run)}
}

// Get retrieves a run by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*allocation.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

// Put stores a copy of the run.
func (s *Store) Put(_ context.Context, r *allocation.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r.Clone()
	return nil
}

// List returns copies of up to limit runs, newest first. Runs created in
// the same instant are ordered by descending ID.
func (s *Store) List(_ context.Context, limit int) ([]*allocation.Run, error) {
	s.mu.RLock()
	out := make([]*allocation.Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
