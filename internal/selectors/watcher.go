package selectors

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a selector map file when it changes on disk and installs
// it into a Source once it parses and validates. The directory is watched
// rather than the file because editors and deploy tools replace files by
// rename.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	source      *Source
	path        string
	logger      *zap.Logger
	pending     time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// WatcherStats counts reload activity.
type WatcherStats struct {
	Reloads      int
	Rejected     int
	Errors       int
	LastVersion  string
	LastReloadAt time.Time
}

// NewWatcher creates a watcher for path feeding source.
func NewWatcher(path string, source *Source, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &Watcher{
		watcher:     fw,
		source:      source,
		path:        abs,
		logger:      logger,
		debounceDur: 300 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	w.logger.Info("watching selector map", zap.String("path", w.path))

	go w.run(ctx)
	return nil
}

// Stop ends the watch loop and releases the fsnotify handle.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("error closing selector watcher", zap.Error(err))
	}
}

// Stats returns a copy of the reload counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("selector watcher error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.reloadIfSettled()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}
	w.mu.Lock()
	w.pending = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) reloadIfSettled() {
	w.mu.Lock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.mu.Unlock()

	w.Reload()
}

// Reload reads the file now. An invalid file is logged and the current map
// stays in place.
func (w *Watcher) Reload() {
	m, err := Load(w.path)
	if err != nil {
		w.logger.Error("rejected selector map update; keeping current version",
			zap.String("path", w.path),
			zap.String("current_version", w.source.Snapshot().Version),
			zap.Error(err))
		w.mu.Lock()
		w.stats.Rejected++
		w.mu.Unlock()
		return
	}
	prev := w.source.Swap(m)
	prevVersion := ""
	if prev != nil {
		prevVersion = prev.Version
	}
	w.logger.Info("selector map reloaded",
		zap.String("previous_version", prevVersion),
		zap.String("version", m.Version))

	w.mu.Lock()
	w.stats.Reloads++
	w.stats.LastVersion = m.Version
	w.stats.LastReloadAt = time.Now()
	w.mu.Unlock()
}
