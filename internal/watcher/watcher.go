// Package watcher turns fsnotify notifications for a directory tree into a
// single stream of path events.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// Op is the kind of change reported for a path.
type Op int

const (
	Create Op = iota + 1
	Write
	Remove
	Rename
)

func (o Op) String() string {
	switch o {
	case Create:
		return "create"
	case Write:
		return "write"
	case Remove:
		return "remove"
	case Rename:
		return "rename"
	default:
		return "unknown"
	}
}

// Event is a change to one path under the watched root.
type Event struct {
	Path  string
	Op    Op
	IsDir bool
}

// Watcher monitors a root directory, optionally including every
// subdirectory created after it starts.
type Watcher struct {
	root      string
	recursive bool
	logger    hclog.Logger

	fsw    *fsnotify.Watcher
	events chan Event

	mu      sync.Mutex
	watched map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher for root. Nothing is watched until Start.
func New(root string, recursive bool, logger hclog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		root:      filepath.Clean(root),
		recursive: recursive,
		logger:    logger.Named("watcher"),
		fsw:       fsw,
		events:    make(chan Event, 1000),
		watched:   make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Events returns the event stream. It is closed after Stop.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start adds the root, and its subdirectories when recursive, then begins
// forwarding events.
func (w *Watcher) Start() error {
	if err := w.fsw.Add(w.root); err != nil {
		return fmt.Errorf("failed to add watch for %s: %w", w.root, err)
	}
	w.markWatched(w.root)

	if w.recursive {
		w.addTree(w.root, false)
	}

	w.wg.Add(1)
	go w.loop()

	w.logger.Info("watching directory", "root", w.root, "recursive", w.recursive)
	return nil
}

// Stop stops forwarding and closes the event channel.
func (w *Watcher) Stop() error {
	w.cancel()
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

// WatchedDirs returns the number of directories currently watched.
func (w *Watcher) WatchedDirs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	defer close(w.events)

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	var op Op
	switch {
	case ev.Has(fsnotify.Create):
		op = Create
	case ev.Has(fsnotify.Write):
		op = Write
	case ev.Has(fsnotify.Remove):
		op = Remove
	case ev.Has(fsnotify.Rename):
		op = Rename
	default:
		return
	}

	isDir := false
	if op == Create {
		isDir = isDirectory(ev.Name)
	} else if op == Remove || op == Rename {
		isDir = w.forget(ev.Name)
	}

	w.emit(Event{Path: ev.Name, Op: op, IsDir: isDir})

	if op == Create && isDir && w.recursive && !hidden(ev.Name) {
		// Files can land in a new directory before its watch exists, so
		// walk it and report what is already there.
		w.addTree(ev.Name, true)
	}
}

// addTree watches every directory below dir. With announce set, files found
// along the way are emitted as creations.
func (w *Watcher) addTree(dir string, announce bool) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Debug("failed to walk path", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			if path != dir && hidden(path) {
				return fs.SkipDir
			}
			if w.isWatched(path) {
				return nil
			}
			if err := w.fsw.Add(path); err != nil {
				w.logger.Debug("failed to add watch for subdirectory", "path", path, "error", err)
				return nil
			}
			w.markWatched(path)
			return nil
		}
		if announce {
			w.emit(Event{Path: path, Op: Create})
		}
		return nil
	})
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.ctx.Done():
	}
}

func (w *Watcher) markWatched(path string) {
	w.mu.Lock()
	w.watched[path] = struct{}{}
	w.mu.Unlock()
}

func (w *Watcher) isWatched(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watched[path]
	return ok
}

// forget drops path and anything below it from the watched set, reporting
// whether it was a watched directory.
func (w *Watcher) forget(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, wasDir := w.watched[path]
	prefix := path + string(filepath.Separator)
	for dir := range w.watched {
		if dir == path || strings.HasPrefix(dir, prefix) {
			delete(w.watched, dir)
		}
	}
	return wasDir
}

func isDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
