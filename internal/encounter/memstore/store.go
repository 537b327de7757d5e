// Package memstore is an in-memory encounter.Store used by tests, mirroring
// the teacher's chain/memdb in-process store shape.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/c19x/tracer/internal/encounter"
)

// Store is a mutex-guarded, copy-on-read in-memory encounter.Store.
type Store struct {
	mu   sync.Mutex
	rows []encounter.Encounter
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{}
}

// Append implements encounter.Store.
func (s *Store) Append(_ context.Context, e encounter.Encounter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, e)
	return nil
}

// DeleteBefore implements encounter.Store.
func (s *Store) DeleteBefore(_ context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0:0]
	for _, e := range s.rows {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	s.rows = kept
	return nil
}

// Snapshot implements encounter.Store.
func (s *Store) Snapshot(_ context.Context) ([]encounter.Encounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]encounter.Encounter, len(s.rows))
	copy(out, s.rows)
	return out, nil
}

// Close implements encounter.Store.
func (s *Store) Close(context.Context) error {
	return nil
}
