package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framegrab/internal/watcher"
)

// IntakeConfig controls which watcher events become submissions.
type IntakeConfig struct {
	Root       string
	Recursive  bool
	Extensions map[string]bool
	Debounce   time.Duration
}

// Intake debounces watcher events and submits each quiet, non-empty,
// supported file. A path is admitted after Debounce has passed with no
// further event for it. A write to a path that was already handed to the
// submitter submits it again; the submitter rejects paths it still tracks
// and poisoned files that have not changed.
type Intake struct {
	cfg    IntakeConfig
	submit Submitter
	logger hclog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time // path -> last event
	empty   map[string]struct{}  // quiet but still zero bytes
	seen    map[string]struct{}  // handed to the submitter at least once
}

// NewIntake creates an intake that feeds submit.
func NewIntake(cfg IntakeConfig, submit Submitter, logger hclog.Logger) *Intake {
	return &Intake{
		cfg:     cfg,
		submit:  submit,
		logger:  logger.Named("intake"),
		now:     time.Now,
		pending: make(map[string]time.Time),
		empty:   make(map[string]struct{}),
		seen:    make(map[string]struct{}),
	}
}

// Run consumes events until ctx is cancelled or the channel closes. Events
// still inside their quiet period at that point are dropped.
func (in *Intake) Run(ctx context.Context, events <-chan watcher.Event) {
	tick := in.cfg.Debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			in.drop()
			return
		case ev, ok := <-events:
			if !ok {
				in.drop()
				return
			}
			in.handle(ev)
		case <-ticker.C:
			in.flush()
		}
	}
}

// Scan submits every supported file already present under the root,
// skipping the debounce. It returns the number of admitted files.
func (in *Intake) Scan(ctx context.Context) (int, error) {
	admitted := 0
	err := filepath.WalkDir(in.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == in.cfg.Root {
				return err
			}
			in.logger.Debug("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path == in.cfg.Root {
				return nil
			}
			if !in.cfg.Recursive || strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if in.accepts(path) && in.admit(path) {
			admitted++
		}
		return nil
	})
	if err != nil {
		return admitted, err
	}
	in.logger.Info("startup scan complete", "root", in.cfg.Root, "admitted", admitted)
	return admitted, nil
}

// Pending returns the number of paths waiting out their quiet period.
func (in *Intake) Pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.pending)
}

func (in *Intake) handle(ev watcher.Event) {
	if ev.IsDir || !in.accepts(ev.Path) {
		return
	}

	in.mu.Lock()
	switch ev.Op {
	case watcher.Create:
		delete(in.empty, ev.Path)
		in.pending[ev.Path] = in.now()
	case watcher.Write:
		_, waiting := in.pending[ev.Path]
		_, wasEmpty := in.empty[ev.Path]
		_, wasSeen := in.seen[ev.Path]
		if waiting || wasEmpty || wasSeen {
			delete(in.empty, ev.Path)
			in.pending[ev.Path] = in.now()
		}
	case watcher.Remove, watcher.Rename:
		delete(in.pending, ev.Path)
		delete(in.empty, ev.Path)
		delete(in.seen, ev.Path)
	}
	in.mu.Unlock()

	if in.cfg.Debounce <= 0 {
		in.flush()
	}
}

func (in *Intake) flush() {
	now := in.now()

	in.mu.Lock()
	var ready []string
	for path, last := range in.pending {
		if now.Sub(last) >= in.cfg.Debounce {
			ready = append(ready, path)
			delete(in.pending, path)
		}
	}
	in.mu.Unlock()

	for _, path := range ready {
		in.admit(path)
	}
}

func (in *Intake) drop() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.pending) > 0 {
		in.logger.Info("dropping debounced events on shutdown", "count", len(in.pending))
	}
	in.pending = make(map[string]time.Time)
}

// admit applies the non-empty check and hands the path to the submitter.
func (in *Intake) admit(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		in.logger.Debug("candidate vanished before admission", "path", path, "error", err)
		return false
	}
	if !info.Mode().IsRegular() {
		return false
	}
	if info.Size() == 0 {
		in.mu.Lock()
		in.empty[path] = struct{}{}
		in.mu.Unlock()
		in.logger.Debug("ignoring empty file until it is written", "path", path)
		return false
	}
	in.mu.Lock()
	in.seen[path] = struct{}{}
	in.mu.Unlock()
	return in.submit.Submit(path, info.Size())
}

func (in *Intake) accepts(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return in.cfg.Extensions[strings.ToLower(filepath.Ext(base))]
}
