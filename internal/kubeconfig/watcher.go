package kubeconfig

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/giantswarm/kubecontexts/internal/logging"
)

// DefaultWatchDebounce is how long the Watcher waits for a burst of file
// events to settle before reloading.
const DefaultWatchDebounce = 250 * time.Millisecond

// LoadFunc produces a fresh configuration snapshot.
type LoadFunc func() (RawConfig, error)

// Watcher reloads kubeconfig files when they change and hands every
// successfully loaded snapshot to a callback.
//
// The parent directories are watched rather than the files themselves, so
// editors and tools that replace a file via rename keep being observed.
type Watcher struct {
	paths    []string
	load     LoadFunc
	onChange func(RawConfig)
	debounce time.Duration
	logger   *slog.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchDebounce overrides DefaultWatchDebounce.
func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatchLogger sets the logger.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a Watcher for paths.
func NewWatcher(paths []string, load LoadFunc, onChange func(RawConfig), opts ...WatcherOption) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no kubeconfig paths to watch")
	}
	if load == nil || onChange == nil {
		return nil, fmt.Errorf("load and onChange are required")
	}

	w := &Watcher{
		paths:    paths,
		load:     load,
		onChange: onChange,
		debounce: DefaultWatchDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches until ctx is done. It returns an error only if the file system
// watcher could not be created.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		if err := fw.Close(); err != nil {
			w.logger.Debug("error closing file watcher", logging.Err(err))
		}
	}()

	targets := make(map[string]struct{}, len(w.paths))
	dirs := make(map[string]struct{})
	for _, p := range w.paths {
		clean := filepath.Clean(p)
		targets[clean] = struct{}{}

		dir := filepath.Dir(clean)
		if _, seen := dirs[dir]; seen {
			continue
		}
		if err := fw.Add(dir); err != nil {
			w.logger.Warn("cannot watch kubeconfig directory",
				slog.String("dir", dir),
				logging.Err(err))
			continue
		}
		dirs[dir] = struct{}{}
	}

	w.logger.Info("watching kubeconfig files",
		slog.Any("paths", w.paths),
		slog.Duration("debounce", w.debounce))

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if _, tracked := targets[filepath.Clean(ev.Name)]; !tracked {
				continue
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			w.logger.Debug("kubeconfig file event",
				slog.String("file", ev.Name),
				slog.String("op", ev.Op.String()))

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("kubeconfig watcher error", logging.Err(err))

		case <-timerC:
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.load()
	if err != nil {
		// Keep the previous snapshot; a half-written file is common mid-save.
		w.logger.Warn("failed to reload kubeconfig", logging.Err(err))
		return
	}
	w.onChange(cfg)
}
