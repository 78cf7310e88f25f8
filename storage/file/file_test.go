package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ggoodman/mcp-vault-server/storage"
	"github.com/ggoodman/mcp-vault-server/storage/storagetest"
)

func TestFileStore(t *testing.T) {
	storagetest.RunStoreTests(t, func(t *testing.T) storage.Store {
		return New(filepath.Join(t.TempDir(), "nested", "data.json"))
	})
}

func TestLoadToleratesCommentsAndTrailingCommas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	doc := `{
  // hand edited
  "settings": {
    "port": 31000,
    "blacklist": "Journal/\n#private", /* keep journal out */
  },
  "toolStats": {},
}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	snap, err := New(path).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if want, got := 31000, snap.Settings.Port; want != got {
		t.Fatalf("expected port %d, got %d", want, got)
	}
	if want, got := "Journal/\n#private", snap.Settings.Blacklist; want != got {
		t.Fatalf("expected blacklist %q, got %q", want, got)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "data.json"))
	if err := s.Save(context.Background(), storage.DefaultSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if want, got := 1, len(entries); want != got {
		t.Fatalf("expected %d file, got %d", want, got)
	}
}
