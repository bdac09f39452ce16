// Package inmemorystore provides an ephemeral, thread-safe ledger.Store.
//
// # Purpose
//
// The store backs rehearsal runs (`--ledger memory://`) and most tests. It
// keeps one record map per store value and never touches disk, so every
// process starts from an empty ledger.
//
// # Characteristics
//
//   - **Ephemeral:** state lives as long as the Store value
//   - **Copying:** Load and Save copy the map, so callers can never alias the
//     stored state
//   - **Lockable:** Lock is exclusive within the process, which is enough to
//     exercise ErrLocked paths
//   - **Observable:** Saves counts writes, and SaveErr/LoadErr inject
//     failures for tests
package inmemorystore

import (
	"context"
	"maps"
	"sync"

	"github.com/specialistvlad/deploygrid/internal/ledger"
)

// Store is an in-memory implementation of ledger.Store.
type Store struct {
	mu      sync.Mutex
	records map[string]ledger.Record
	locked  bool
	saves   int

	// LoadErr, when set, is returned by Load.
	LoadErr error
	// SaveErr, when set, is returned by Save.
	SaveErr error
}

// New creates an empty store, optionally seeded with records.
func New(seed ...ledger.Record) *Store {
	s := &Store{records: make(map[string]ledger.Record)}
	for _, rec := range seed {
		s.records[rec.StepName] = rec
	}
	return s
}

// Lock implements ledger.Store.
func (s *Store) Lock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return ledger.ErrLocked
	}
	s.locked = true
	return nil
}

// Unlock implements ledger.Store.
func (s *Store) Unlock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = false
	return nil
}

// Load implements ledger.Store.
func (s *Store) Load(ctx context.Context) (map[string]ledger.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	return maps.Clone(s.records), nil
}

// Save implements ledger.Store.
func (s *Store) Save(ctx context.Context, records map[string]ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.records = maps.Clone(records)
	if s.records == nil {
		s.records = make(map[string]ledger.Record)
	}
	s.saves++
	return nil
}

// Locked reports whether the store is currently locked.
func (s *Store) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Saves returns the number of successful Save calls.
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Snapshot returns a copy of the persisted records.
func (s *Store) Snapshot() map[string]ledger.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.records)
}
