// Package watch reloads a CSV file when it changes on disk.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events an editor or exporter
// produces while writing a file.
const DefaultDebounce = 100 * time.Millisecond

// ReloadFunc receives the file's new contents.
type ReloadFunc func(ctx context.Context, data []byte) error

// Watcher watches one file. The containing directory is watched so that
// files replaced by rename are picked up too.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange ReloadFunc
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
}

// New starts watching path. Events are delivered once Run is called.
func New(path string, onChange ReloadFunc) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		debounce: DefaultDebounce,
		onChange: onChange,
		fsw:      fsw,
		logger:   slog.Default(),
	}, nil
}

// SetDebounce changes the quiet period before a reload.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// SetLogger replaces the default logger.
func (w *Watcher) SetLogger(l *slog.Logger) {
	w.logger = l
}

// Run delivers reloads until ctx is cancelled. It closes the watcher on
// return.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		// A rename-based save may leave the file briefly absent; the
		// following Create event triggers another attempt.
		w.logger.Warn("reading changed file", "file", w.path, "error", err)
		return
	}
	w.logger.Debug("file changed, reloading", "file", w.path, "bytes", len(data))
	if err := w.onChange(ctx, data); err != nil {
		w.logger.Error("reload failed", "file", w.path, "error", err)
	}
}
