package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/inquest-dev/inquest/internal/logging"
)

// ReloadCallback is invoked when a watched catalog file changes on disk.
// Errors from the callback are logged; the watcher keeps watching.
type ReloadCallback func(path string) error

// CatalogWatcher watches custom tool catalog files and triggers registry
// refreshes with debouncing, so editor save sequences produce one reload
// instead of a storm.
type CatalogWatcher struct {
	paths    []string
	debounce time.Duration
	callback ReloadCallback
	logger   *logging.Logger

	cancel  context.CancelFunc
	stopped chan struct{}

	mu            sync.Mutex
	debounceTimer *time.Timer
}

// NewCatalogWatcher creates a watcher for the given catalog files.
func NewCatalogWatcher(paths []string, debounce time.Duration, callback ReloadCallback) (*CatalogWatcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no catalog paths to watch")
	}
	if callback == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}
	if debounce == 0 {
		debounce = 500 * time.Millisecond
	}

	return &CatalogWatcher{
		paths:    paths,
		debounce: debounce,
		callback: callback,
		logger:   logging.GetLogger("config.watcher"),
		stopped:  make(chan struct{}),
	}, nil
}

// Start begins watching. Returns after the fsnotify watcher is registered;
// events are handled on a background goroutine until Stop or context
// cancellation.
func (w *CatalogWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch parent directories: editors often replace files via rename,
	// which drops a watch registered on the file itself.
	dirs := make(map[string]bool)
	for _, p := range w.paths {
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch %q: %w", dir, err)
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.watchLoop(watchCtx, watcher)
	return nil
}

// Stop halts the watcher and waits for the watch loop to exit.
func (w *CatalogWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.stopped
	}
}

func (w *CatalogWatcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(w.stopped)
	defer watcher.Close()

	watched := make(map[string]bool, len(w.paths))
	for _, p := range w.paths {
		watched[filepath.Clean(p)] = true
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !watched[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload(event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error: %v", err)
		}
	}
}

// scheduleReload coalesces change events within the debounce window.
func (w *CatalogWatcher) scheduleReload(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, func() {
		w.logger.Info("catalog changed, reloading: %s", path)
		if err := w.callback(path); err != nil {
			w.logger.ErrorWithErr("catalog reload failed, keeping previous catalog", err)
		}
	})
}
