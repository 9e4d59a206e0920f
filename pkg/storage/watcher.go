package storage

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a FileLandingPage when its file changes.
type Watcher struct {
	page     *FileLandingPage
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
	onReload func(error)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WatcherOption customises a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithReloadHook registers fn to observe every reload attempt.
func WithReloadHook(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// NewWatcher creates a watcher for page. Call Start to begin watching.
func NewWatcher(page *FileLandingPage, logger *slog.Logger, opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		page:     page,
		watcher:  fw,
		logger:   logger,
		debounce: DefaultDebounce,
		onReload: func(error) {},
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start watches the directory holding the page, since editors often replace files by
// rename.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	if err := w.watcher.Add(filepath.Dir(w.page.Path())); err != nil {
		return err
	}
	w.running = true

	w.logger.Info("landing page watcher started", "path", w.page.Path())
	go w.loop(ctx)
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	err := w.watcher.Close()
	<-w.doneCh
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.isPageEvent(event) || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("landing page event", "event", event.Op.String(), "file", event.Name)

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("landing page watcher error", "error", err)

		case <-w.stopCh:
			return

		case <-ctx.Done():
			w.logger.Info("landing page watcher context cancelled")
			return
		}
	}
}

func (w *Watcher) isPageEvent(event fsnotify.Event) bool {
	path, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return path == w.page.Path()
}

func (w *Watcher) reload() {
	err := w.page.Reload()
	if err != nil {
		w.logger.Error("landing page reload failed", "path", w.page.Path(), "error", err)
	} else {
		w.logger.Info("landing page reloaded", "path", w.page.Path())
	}
	w.onReload(err)
}
