// Package file provides a storage.Store backed by a JSON document on disk.
//
// Writes go to a temporary file in the same directory and are renamed into
// place. Reads tolerate comments and trailing commas so the document can be
// edited by hand.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ggoodman/mcp-vault-server/storage"
	"github.com/tidwall/jsonc"
)

// Store persists the snapshot at Path.
type Store struct {
	path string
	mu   sync.Mutex
}

var _ storage.Store = (*Store)(nil)

// New returns a Store writing to path. Parent directories are created on
// the first save.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

// Load reads the document; a missing file yields defaults.
func (s *Store) Load(_ context.Context) (storage.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.DefaultSnapshot(), nil
		}
		return storage.Snapshot{}, fmt.Errorf("read %s: %w", s.path, err)
	}
	snap, err := storage.Decode(jsonc.ToJSON(data))
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("%s: %w", s.path, err)
	}
	return snap, nil
}

// Save atomically replaces the document.
func (s *Store) Save(_ context.Context, snap storage.Snapshot) error {
	b, err := storage.Encode(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename into %s: %w", s.path, err)
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
