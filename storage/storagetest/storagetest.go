// Package storagetest holds a behavioural suite every storage.Store
// implementation must pass.
package storagetest

import (
	"context"
	"testing"

	"github.com/ggoodman/mcp-vault-server/storage"
	"github.com/ggoodman/mcp-vault-server/usage"
)

// Factory returns a fresh, empty store. Cleanup is the caller's concern.
type Factory func(t *testing.T) storage.Store

// RunStoreTests exercises the Store contract.
func RunStoreTests(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("load of an empty store returns defaults", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		snap, err := s.Load(context.Background())
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		def := storage.DefaultSnapshot()
		if snap.Settings != def.Settings {
			t.Fatalf("expected default settings, got %+v", snap.Settings)
		}
		if len(snap.ToolStats) != 0 {
			t.Fatalf("expected empty stats, got %v", snap.ToolStats)
		}
	})

	t.Run("save then load", func(t *testing.T) {
		s := factory(t)
		defer s.Close()
		ctx := context.Background()

		in := storage.DefaultSnapshot()
		in.Settings.AuthToken = "secret-token"
		in.Settings.Port = 30000
		in.ToolStats = usage.RecordSuccess(usage.RecordCall(nil, "read_note"), "read_note")

		if err := s.Save(ctx, in); err != nil {
			t.Fatalf("save: %v", err)
		}
		out, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if out.Settings != in.Settings {
			t.Fatalf("settings differ: want %+v, got %+v", in.Settings, out.Settings)
		}
		if want, got := in.ToolStats["read_note"], out.ToolStats["read_note"]; want != got {
			t.Fatalf("stats differ: want %+v, got %+v", want, got)
		}
	})

	t.Run("save overwrites", func(t *testing.T) {
		s := factory(t)
		defer s.Close()
		ctx := context.Background()

		first := storage.DefaultSnapshot()
		first.ToolStats = usage.RecordCall(nil, "a")
		second := storage.DefaultSnapshot()
		second.ToolStats = usage.RecordCall(nil, "b")

		if err := s.Save(ctx, first); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := s.Save(ctx, second); err != nil {
			t.Fatalf("save: %v", err)
		}
		out, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if _, ok := out.ToolStats["a"]; ok {
			t.Fatalf("expected first snapshot to be replaced")
		}
		if want, got := 1, out.ToolStats["b"].Total; want != got {
			t.Fatalf("expected %d, got %d", want, got)
		}
	})
}
