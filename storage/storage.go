// Package storage persists the server snapshot: user settings plus the
// process-wide usage ledger.
//
// Backends implement Store. The snapshot is loaded once at startup and
// saved on demand (debounced ledger saves, settings changes). A store with
// nothing persisted yet returns DefaultSnapshot.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/mcp-vault-server/config"
	"github.com/ggoodman/mcp-vault-server/usage"
)

// Store loads and saves the snapshot.
type Store interface {
	// Load returns the persisted snapshot, or DefaultSnapshot when nothing
	// has been saved. Errors are reserved for backend failures and corrupt
	// documents.
	Load(ctx context.Context) (Snapshot, error)

	// Save replaces the persisted snapshot.
	Save(ctx context.Context, s Snapshot) error

	// Close releases backend resources.
	Close() error
}

// Snapshot is the durable state of the server.
type Snapshot struct {
	Settings  config.Settings `json:"settings"`
	ToolStats usage.Ledger    `json:"toolStats"`
}

// DefaultSnapshot is what a fresh install starts from.
func DefaultSnapshot() Snapshot {
	return Snapshot{Settings: config.DefaultSettings(), ToolStats: usage.Ledger{}}
}

// Encode serializes s.
func Encode(s Snapshot) ([]byte, error) {
	if s.ToolStats == nil {
		s.ToolStats = usage.Ledger{}
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// Decode parses a persisted document. Missing settings fields keep their
// defaults. Documents without a "settings" key are the legacy flat format
// (settings at the top level, no ledger).
func Decode(data []byte) (Snapshot, error) {
	snap := DefaultSnapshot()

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	raw, ok := probe["settings"]
	if !ok {
		if err := json.Unmarshal(data, &snap.Settings); err != nil {
			return Snapshot{}, fmt.Errorf("decode legacy settings: %w", err)
		}
		return snap, nil
	}

	if err := json.Unmarshal(raw, &snap.Settings); err != nil {
		return Snapshot{}, fmt.Errorf("decode settings: %w", err)
	}
	if stats, ok := probe["toolStats"]; ok && string(stats) != "null" {
		if err := json.Unmarshal(stats, &snap.ToolStats); err != nil {
			return Snapshot{}, fmt.Errorf("decode tool stats: %w", err)
		}
	}
	return snap, nil
}
