// Package watcher reruns a karma-coverage session when JavaScript sources
// under the base path change.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/nmalaguti/karma-coverage/internal/application"
)

// DefaultExtensions are the file types that trigger a rerun.
var DefaultExtensions = []string{".js", ".mjs", ".cjs", ".map"}

// Watcher monitors script files for changes.
type Watcher struct {
	watcher    *fsnotify.Watcher
	debounce   time.Duration
	extensions []string
	ignore     []string
	log        *log.Logger
}

var _ application.FileWatcher = (*Watcher)(nil)

// Option configures the watcher.
type Option func(*Watcher)

// WithDebounce sets the debounce duration for file change events.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithExtensions sets the file extensions to watch.
func WithExtensions(exts ...string) Option {
	return func(w *Watcher) {
		w.extensions = exts
	}
}

// WithIgnore skips directories with the given base names, in addition to
// hidden directories and node_modules. Report output directories belong here
// so writing reports does not trigger another run.
func WithIgnore(dirs ...string) Option {
	return func(w *Watcher) {
		w.ignore = append(w.ignore, dirs...)
	}
}

// WithLogger reports watch errors to logger.
func WithLogger(logger *log.Logger) Option {
	return func(w *Watcher) {
		w.log = logger
	}
}

// New creates a new file watcher.
func New(opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:    fsw,
		debounce:   300 * time.Millisecond,
		extensions: DefaultExtensions,
		ignore:     []string{"node_modules"},
	}

	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = log.New(os.Stderr)
	}

	return w, nil
}

// WatchDir adds a directory and its subdirectories to the watch list.
func (w *Watcher) WatchDir(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skipDir(filepath.Base(path)) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) skipDir(base string) bool {
	return strings.HasPrefix(base, ".") || slices.Contains(w.ignore, base)
}

// Events returns a channel that emits when relevant files change.
// The channel is debounced so a burst of saves yields one run.
func (w *Watcher) Events(ctx context.Context) <-chan struct{} {
	out := make(chan struct{})

	go func() {
		defer close(out)

		var timer *time.Timer
		var timerCh <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}

				if event.Op.Has(fsnotify.Create) && w.isNewDir(event.Name) {
					if err := w.WatchDir(event.Name); err != nil {
						w.log.Warn("watch new directory", "dir", event.Name, "err", err)
					}
					continue
				}
				if !isChangeEvent(event.Op) || !w.hasRelevantExtension(event.Name) {
					continue
				}

				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C

			case <-timerCh:
				select {
				case out <- struct{}{}:
				case <-ctx.Done():
					return
				}
				timerCh = nil

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn("file watch error", "err", err)
			}
		}
	}()

	return out
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) isNewDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	return !w.skipDir(filepath.Base(path))
}

// isChangeEvent reports edits, new files and removals. Chmod alone is noise.
func isChangeEvent(op fsnotify.Op) bool {
	return op.Has(fsnotify.Write) ||
		op.Has(fsnotify.Create) ||
		op.Has(fsnotify.Remove) ||
		op.Has(fsnotify.Rename)
}

func (w *Watcher) hasRelevantExtension(path string) bool {
	return slices.Contains(w.extensions, filepath.Ext(path))
}
