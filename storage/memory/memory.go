// Package memory provides an in-process storage.Store. Nothing survives a
// restart; it backs tests and throwaway runs.
package memory

import (
	"context"
	"sync"

	"github.com/ggoodman/mcp-vault-server/storage"
)

// Store keeps the encoded snapshot in memory so callers never share
// mutable state with it.
type Store struct {
	mu    sync.RWMutex
	data  []byte
	saves int
}

var _ storage.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// Load decodes the last saved snapshot.
func (s *Store) Load(_ context.Context) (storage.Snapshot, error) {
	s.mu.RLock()
	data := s.data
	s.mu.RUnlock()

	if data == nil {
		return storage.DefaultSnapshot(), nil
	}
	return storage.Decode(data)
}

// Save encodes and keeps snap.
func (s *Store) Save(_ context.Context, snap storage.Snapshot) error {
	b, err := storage.Encode(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = b
	s.saves++
	s.mu.Unlock()
	return nil
}

// Saves reports how many times Save succeeded.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
