// Package watch turns file system changes under the source directories
// into event.SourceChanged events during development.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/shashiranjanraj/appshell/pkg/event"
)

const defaultDebounce = 100 * time.Millisecond

// Options configures New.
type Options struct {
	// Ignore lists directories whose changes are not reported, typically
	// the bundle output directory.
	Ignore []string
	// Debounce coalesces bursts of events for the same file. Editors often
	// write a file in several steps.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher reports changes below a set of directories, recursively.
type Watcher struct {
	fsw      *fsnotify.Watcher
	ignore   []string
	debounce time.Duration
	log      *slog.Logger
}

// New starts watching dirs and every sub-directory beneath them. Missing
// directories are skipped.
func New(dirs []string, opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}

	w := &Watcher{
		fsw:      fsw,
		debounce: opts.Debounce,
		log:      opts.Logger,
	}
	if w.debounce <= 0 {
		w.debounce = defaultDebounce
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	for _, dir := range opts.Ignore {
		w.ignore = append(w.ignore, filepath.Clean(dir))
	}

	for _, dir := range dirs {
		if err := w.addTree(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) ignored(path string) bool {
	path = filepath.Clean(path)
	for _, dir := range w.ignore {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) addTree(root string) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
	if err != nil {
		return fmt.Errorf("watch: add %s: %w", root, err)
	}
	return nil
}

// Run forwards changes to bus until ctx is cancelled, then releases the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context, bus *event.Bus) error {
	defer w.fsw.Close()

	pending := map[string]string{}
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.ignored(ev.Name) || strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						w.log.Warn("watch: add directory failed", "path", ev.Name, "error", err)
					}
				}
			}
			op := opName(ev.Op)
			if op == "" {
				continue
			}
			pending[ev.Name] = op
			timer.Reset(w.debounce)

		case <-timer.C:
			for path, op := range pending {
				w.log.Debug("watch: source changed", "path", path, "op", op)
				bus.Fire(event.SourceChanged, event.Change{Path: path, Op: op})
			}
			clear(pending)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watch: watcher error", "error", err)
		}
	}
}

func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return ""
	}
}
