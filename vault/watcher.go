package vault

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultCoalesce is how long the Watcher waits to merge duplicate events
// for the same path.
const DefaultCoalesce = 100 * time.Millisecond

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithCoalesce sets the duplicate-merging window. Zero delivers every
// event immediately.
func WithCoalesce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.coalesce = d }
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(log *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = log }
}

// Watcher fans vault changes out to subscribers. Changes made through the
// Dir are reported directly; changes made by other processes arrive via
// fsnotify once Run is started. Both feed the same per-path coalescing so
// a write is reported once.
type Watcher struct {
	dir      *Dir
	coalesce time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	nextID  int
	subs    map[int]func(Event)
	pending map[pendingKey]*time.Timer
}

type pendingKey struct {
	kind EventKind
	path string
}

// NewWatcher returns a Watcher for d and hooks it into d's writes.
func NewWatcher(d *Dir, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:      d,
		coalesce: DefaultCoalesce,
		log:      slog.New(slog.DiscardHandler),
		subs:     make(map[int]func(Event)),
		pending:  make(map[pendingKey]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	d.Observe(w.Notify)
	return w
}

// Subscribe registers fn and returns a function removing it. fn is called
// from the watcher's goroutines and must not block for long.
func (w *Watcher) Subscribe(fn func(Event)) (unsubscribe func()) {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.subs[id] = fn
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, id)
			w.mu.Unlock()
		})
	}
}

// Notify reports ev to subscribers, merging duplicates inside the window.
func (w *Watcher) Notify(ev Event) {
	if w.coalesce <= 0 {
		w.deliver(ev)
		return
	}
	key := pendingKey{kind: ev.Kind, path: ev.Path}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.pending[key]; ok {
		return
	}
	w.pending[key] = time.AfterFunc(w.coalesce, func() {
		w.mu.Lock()
		delete(w.pending, key)
		w.mu.Unlock()
		w.deliver(ev)
	})
}

func (w *Watcher) deliver(ev Event) {
	w.mu.Lock()
	subs := make([]func(Event), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Run watches the vault directory tree with fsnotify until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		_ = fw.Close()
	}()

	root := w.dir.Root()
	addDirs := func(start string) {
		_ = filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if err := fw.Add(p); err != nil {
				w.log.Debug("watch.add.fail", slog.String("path", p), slog.String("err", err.Error()))
			}
			return nil
		})
	}
	addDirs(root)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			rel, ok := w.relative(ev.Name)
			if !ok {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create):
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					addDirs(ev.Name)
				}
				w.Notify(Event{Kind: Created, Path: rel})
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				// The new name of a rename arrives as its own Create.
				w.Notify(Event{Kind: Deleted, Path: rel})
			case ev.Has(fsnotify.Write):
				w.Notify(Event{Kind: Modified, Path: rel})
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Debug("watch.error", slog.String("err", err.Error()))
		}
	}
}

// relative converts an OS path under the root to a visible vault path.
func (w *Watcher) relative(name string) (string, bool) {
	rel, err := filepath.Rel(w.dir.Root(), name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if hidden(rel) {
		return "", false
	}
	return rel, true
}
