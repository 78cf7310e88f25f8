// Package vault is the note store the server exposes: a directory of
// markdown notes and attachments with a parsed metadata index.
//
// Paths are vault-relative, use '/' and never start with one ("Notes/a.md").
// Entries whose name starts with '.' (".obsidian", ".trash", dotfiles) are
// invisible: they are neither listed nor addressable.
package vault

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for paths that do not exist or are hidden.
	ErrNotFound = errors.New("vault: not found")
	// ErrExists is returned when a create or rename target is taken.
	ErrExists = errors.New("vault: already exists")
	// ErrNotDir is returned when a folder operation hits a file.
	ErrNotDir = errors.New("vault: not a folder")
	// ErrIsDir is returned when a file operation hits a folder.
	ErrIsDir = errors.New("vault: is a folder")
	// ErrInvalidPath is returned for paths escaping the vault root.
	ErrInvalidPath = errors.New("vault: invalid path")
)

// Entry describes a file or folder.
type Entry struct {
	Path    string
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
	// Created falls back to ModTime where the platform does not report
	// birth times.
	Created time.Time
}

// Ext returns the lower-case extension without the dot.
func (e Entry) Ext() string { return extOf(e.Name) }

// Basename returns the name without its extension.
func (e Entry) Basename() string { return basenameOf(e.Name) }

// Heading is one markdown heading.
type Heading struct {
	Level   int    `json:"level"`
	Heading string `json:"heading"`
}

// Link is an outgoing link as written in the note. Target has any
// "#heading" and "|alias" suffix removed.
type Link struct {
	Target   string
	Original string
}

// Metadata is the parsed, cached view of a markdown note.
type Metadata struct {
	Frontmatter map[string]any
	// Tags are inline tags with their leading '#', in document order.
	Tags     []string
	Headings []Heading
	Links    []Link
}

// Store is what the server needs from a note store.
type Store interface {
	Name() string

	Stat(path string) (Entry, error)
	Exists(path string) bool
	Read(path string) (string, error)
	ReadBinary(path string) ([]byte, error)

	Create(path, content string) error
	Modify(path, content string) error
	Delete(path string) error
	Rename(from, to string) error
	CreateFolder(path string) error
	CreateBinary(path string, data []byte) error

	ListChildren(path string) ([]Entry, error)
	AllEntries(ctx context.Context) ([]Entry, error)

	MetadataFor(path string) (*Metadata, error)
	ResolveLink(target, source string) (string, bool)
	ResolvedLinks(ctx context.Context) (map[string]map[string]int, error)
	UnresolvedLinks(path string) ([]string, error)
	Tags(ctx context.Context, keep func(Entry) bool) (map[string]int, error)

	DailyNotePath(day time.Time) string
	AttachmentFolder() string
	AvailablePath(folder, name string) string
}

// EventKind classifies a change.
type EventKind int

const (
	Created EventKind = iota + 1
	Modified
	Deleted
	Renamed
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Event is one change to the vault. OldPath is set for renames.
type Event struct {
	Kind    EventKind
	Path    string
	OldPath string
}
