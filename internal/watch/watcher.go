// Package watch reports debounced changes to static asset files on disk.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
)

// DefaultDebounce is the quiet window before a batch of changes is reported.
const DefaultDebounce = 300 * time.Millisecond

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
}

// Change is one debounced batch of modified files.
type Change struct {
	Paths []string
}

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	// Filter keeps only matching paths. All files are reported when nil.
	Filter func(path string) bool
	Logger *slog.Logger
}

// Watcher watches directory trees and coalesces file events.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	filter   func(string) bool
	logger   *slog.Logger
	changes  chan Change

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
}

// New creates a watcher over every directory below roots. Missing roots
// are skipped.
func New(roots []string, opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryFileSystem, "failed to create file watcher").Build()
	}
	w := &Watcher{
		fsw:      fsw,
		debounce: opts.Debounce,
		filter:   opts.Filter,
		logger:   opts.Logger,
		changes:  make(chan Change, 1),
		pending:  map[string]struct{}{},
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}

	for _, root := range roots {
		if _, err := os.Stat(root); os.IsNotExist(err) {
			continue
		}
		if err := w.addTree(root); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Changes delivers debounced batches. It is closed when Run returns.
func (w *Watcher) Changes() <-chan Change { return w.changes }

// Watched returns the watched directories.
func (w *Watcher) Watched() []string {
	list := w.fsw.WatchList()
	sort.Strings(list)
	return list
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && skipDirs[d.Name()] {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return foundationerrors.WrapError(err, foundationerrors.CategoryFileSystem, "failed to watch directory").
				WithContext("path", p).
				Build()
		}
		return nil
	})
}

// Run processes events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.changes)
	defer func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		_ = w.fsw.Close()
	}()

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.handle(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("File watcher error", logfields.Error(err))
		case <-timerC:
			timerC = nil
			w.flush(ctx)
		}
	}
}

// handle records ev and reports whether it was kept.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !skipDirs[filepath.Base(ev.Name)] {
				if err := w.addTree(ev.Name); err != nil {
					w.logger.Warn("Could not watch new directory", slog.String("path", ev.Name), logfields.Error(err))
				}
			}
			return false
		}
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return false
	}
	if w.filter != nil && !w.filter(ev.Name) {
		return false
	}
	w.logger.Debug("Static file changed", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
	w.mu.Lock()
	w.pending[ev.Name] = struct{}{}
	w.mu.Unlock()
	return true
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = map[string]struct{}{}
	w.mu.Unlock()
	if len(paths) == 0 {
		return
	}
	sort.Strings(paths)
	select {
	case w.changes <- Change{Paths: paths}:
	case <-ctx.Done():
	}
}

// ExtensionFilter keeps paths whose extension is one of exts (".css", ".js").
func ExtensionFilter(exts ...string) func(string) bool {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[e] = true
	}
	return func(p string) bool {
		return set[filepath.Ext(p)]
	}
}
