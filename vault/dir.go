package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const trashDir = ".trash"

// Option configures a Dir.
type Option func(*Dir)

// WithName overrides the vault name (default: the root's base name).
func WithName(name string) Option {
	return func(d *Dir) {
		if name != "" {
			d.name = name
		}
	}
}

// WithDailyFolder sets the folder daily notes live in.
func WithDailyFolder(folder string) Option {
	return func(d *Dir) { d.dailyFolder, _ = Clean(folder) }
}

// WithAttachmentFolder sets the default folder for new attachments.
func WithAttachmentFolder(folder string) Option {
	return func(d *Dir) { d.attachmentFolder, _ = Clean(folder) }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dir) { d.log = log }
}

// Dir is a Store over an OS directory.
type Dir struct {
	root             string
	name             string
	dailyFolder      string
	attachmentFolder string
	log              *slog.Logger

	// mu serializes writes so create-if-absent checks are not racy.
	mu sync.Mutex

	cache metaCache

	obsMu     sync.RWMutex
	observers []func(Event)
}

var _ Store = (*Dir)(nil)

// Open returns a Dir rooted at root, which must be an existing directory.
func Open(root string, opts ...Option) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve vault root: %w", err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("open vault %s: %w", abs, ErrNotDir)
	}
	d := &Dir{
		root: abs,
		name: filepath.Base(abs),
		log:  slog.New(slog.DiscardHandler),
	}
	d.cache.entries = make(map[string]cachedMeta)
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Name returns the vault name.
func (d *Dir) Name() string { return d.name }

// Root returns the absolute OS path of the vault.
func (d *Dir) Root() string { return d.root }

// Observe registers fn for changes made through this Dir.
func (d *Dir) Observe(fn func(Event)) {
	d.obsMu.Lock()
	d.observers = append(d.observers, fn)
	d.obsMu.Unlock()
}

func (d *Dir) emit(ev Event) {
	d.obsMu.RLock()
	obs := d.observers
	d.obsMu.RUnlock()
	for _, fn := range obs {
		fn(ev)
	}
}

// resolve maps a vault path onto the filesystem.
func (d *Dir) resolve(p string) (rel, abs string, err error) {
	rel, ok := Clean(p)
	if !ok {
		return "", "", ErrInvalidPath
	}
	if rel != "" && hidden(rel) {
		return "", "", ErrNotFound
	}
	return rel, filepath.Join(d.root, filepath.FromSlash(rel)), nil
}

func (d *Dir) entry(rel string, fi fs.FileInfo) Entry {
	name := fi.Name()
	if rel == "" {
		name = d.name
	}
	return Entry{
		Path:    rel,
		Name:    name,
		IsDir:   fi.IsDir(),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		Created: birthTime(fi),
	}
}

func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

// Stat describes the entry at p.
func (d *Dir) Stat(p string) (Entry, error) {
	rel, abs, err := d.resolve(p)
	if err != nil {
		return Entry{}, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return Entry{}, notFound(err)
	}
	return d.entry(rel, fi), nil
}

// Exists reports whether p names a visible entry.
func (d *Dir) Exists(p string) bool {
	_, err := d.Stat(p)
	return err == nil
}

// Read returns the text of the file at p.
func (d *Dir) Read(p string) (string, error) {
	b, err := d.ReadBinary(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBinary returns the bytes of the file at p.
func (d *Dir) ReadBinary(p string) ([]byte, error) {
	_, abs, err := d.resolve(p)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, notFound(err)
	}
	if fi.IsDir() {
		return nil, ErrIsDir
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

// Create writes a new file, creating parent folders. It fails with
// ErrExists when anything is already at p.
func (d *Dir) Create(p, content string) error {
	return d.CreateBinary(p, []byte(content))
}

// CreateBinary is Create for raw bytes.
func (d *Dir) CreateBinary(p string, data []byte) error {
	rel, abs, err := d.resolve(p)
	if err != nil {
		return err
	}
	if rel == "" {
		return ErrInvalidPath
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", rel, err)
	}
	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExists
		}
		return fmt.Errorf("create %s: %w", rel, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", rel, err)
	}
	d.emit(Event{Kind: Created, Path: rel})
	return nil
}

// Modify replaces the content of an existing file.
func (d *Dir) Modify(p, content string) error {
	rel, abs, err := d.resolve(p)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	fi, err := os.Stat(abs)
	if err != nil {
		return notFound(err)
	}
	if fi.IsDir() {
		return ErrIsDir
	}
	if err := os.WriteFile(abs, []byte(content), fi.Mode().Perm()); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	d.cache.forget(rel)
	d.emit(Event{Kind: Modified, Path: rel})
	return nil
}

// Delete moves the entry at p into the vault's trash folder.
func (d *Dir) Delete(p string) error {
	rel, abs, err := d.resolve(p)
	if err != nil {
		return err
	}
	if rel == "" {
		return ErrInvalidPath
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(abs); err != nil {
		return notFound(err)
	}
	trash := filepath.Join(d.root, trashDir)
	if err := os.MkdirAll(trash, 0o755); err != nil {
		return fmt.Errorf("create trash: %w", err)
	}
	dst := filepath.Join(trash, filepath.Base(abs))
	for i := 1; ; i++ {
		if _, err := os.Lstat(dst); errors.Is(err, fs.ErrNotExist) {
			break
		}
		base := filepath.Base(abs)
		ext := filepath.Ext(base)
		dst = filepath.Join(trash, fmt.Sprintf("%s %d%s", strings.TrimSuffix(base, ext), i, ext))
	}
	if err := os.Rename(abs, dst); err != nil {
		return fmt.Errorf("trash %s: %w", rel, err)
	}
	d.cache.forgetPrefix(rel)
	d.emit(Event{Kind: Deleted, Path: rel})
	return nil
}

// Rename moves from to to, creating parent folders of to.
func (d *Dir) Rename(from, to string) error {
	relFrom, absFrom, err := d.resolve(from)
	if err != nil {
		return err
	}
	relTo, absTo, err := d.resolve(to)
	if err != nil {
		return err
	}
	if relFrom == "" || relTo == "" {
		return ErrInvalidPath
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(absFrom); err != nil {
		return notFound(err)
	}
	if _, err := os.Lstat(absTo); err == nil {
		return ErrExists
	}
	if err := os.MkdirAll(filepath.Dir(absTo), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", relTo, err)
	}
	if err := os.Rename(absFrom, absTo); err != nil {
		return fmt.Errorf("rename %s: %w", relFrom, err)
	}
	d.cache.forgetPrefix(relFrom)
	d.emit(Event{Kind: Renamed, Path: relTo, OldPath: relFrom})
	return nil
}

// CreateFolder creates p and any missing parents. An existing folder is
// not an error; an existing file is ErrNotDir.
func (d *Dir) CreateFolder(p string) error {
	rel, abs, err := d.resolve(p)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if fi, err := os.Stat(abs); err == nil {
		if !fi.IsDir() {
			return ErrNotDir
		}
		return nil
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		if errors.Is(err, syscallNotDir) || errors.Is(err, fs.ErrExist) {
			return ErrNotDir
		}
		return fmt.Errorf("create folder %s: %w", rel, err)
	}
	d.emit(Event{Kind: Created, Path: rel})
	return nil
}

// ListChildren returns the visible entries directly inside folder p,
// folders first, then by name.
func (d *Dir) ListChildren(p string) ([]Entry, error) {
	rel, abs, err := d.resolve(p)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, notFound(err)
	}
	if !fi.IsDir() {
		return nil, ErrNotDir
	}
	des, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		if strings.HasPrefix(de.Name(), ".") || de.Type()&fs.ModeSymlink != 0 {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, d.entry(path.Join(rel, de.Name()), info))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// AllEntries walks the vault and returns every visible file and folder
// except the root, in lexical path order.
func (d *Dir) AllEntries(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := filepath.WalkDir(d.root, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort listing
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p == d.root {
			return nil
		}
		if strings.HasPrefix(de.Name(), ".") {
			if de.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if de.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return nil
		}
		out = append(out, d.entry(filepath.ToSlash(rel), info))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// markdownFiles returns every visible markdown note.
func (d *Dir) markdownFiles(ctx context.Context) ([]Entry, error) {
	all, err := d.AllEntries(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if !e.IsDir && IsMarkdown(e.Path) {
			out = append(out, e)
		}
	}
	return out, nil
}

// DailyNotePath returns where the daily note for day lives.
func (d *Dir) DailyNotePath(day time.Time) string {
	return path.Join(d.dailyFolder, day.Format("2006-01-02")+".md")
}

// AttachmentFolder returns the default folder for new attachments.
func (d *Dir) AttachmentFolder() string { return d.attachmentFolder }

// AvailablePath returns folder/name, or folder/"name N.ext" with the
// smallest N that is free.
func (d *Dir) AvailablePath(folder, name string) string {
	folder, _ = Clean(folder)
	candidate := path.Join(folder, name)
	if !d.exists(candidate) {
		return candidate
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate = path.Join(folder, fmt.Sprintf("%s %d%s", base, i, ext))
		if !d.exists(candidate) {
			return candidate
		}
	}
}

// exists checks the filesystem, hidden entries included.
func (d *Dir) exists(rel string) bool {
	_, err := os.Lstat(filepath.Join(d.root, filepath.FromSlash(rel)))
	return err == nil
}
