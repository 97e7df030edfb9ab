package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadEvent reports one completed reload attempt
type ReloadEvent struct {
	Timestamp time.Time
	Config    *Config
	Error     error
}

// ApplyFunc receives each successfully reloaded configuration. Returning an
// error marks the reload failed without reverting the previous config.
type ApplyFunc func(*Config) error

// Watcher monitors the configuration file and hot-reloads it on change.
// Only the settings the apply function consumes take effect at runtime;
// server bind settings still need a restart.
type Watcher struct {
	watcher         *fsnotify.Watcher
	path            string
	apply           ApplyFunc
	logger          *zap.Logger
	debounceTimeout time.Duration
	debounceTimer   *time.Timer
	eventChan       chan ReloadEvent
	stopChan        chan struct{}
	mu              sync.RWMutex
	isWatching      bool
}

// NewWatcher creates a watcher for one configuration file
func NewWatcher(path string, apply ApplyFunc, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher:         fsw,
		path:            path,
		apply:           apply,
		logger:          logger,
		debounceTimeout: 500 * time.Millisecond,
		eventChan:       make(chan ReloadEvent, 10),
		stopChan:        make(chan struct{}),
	}, nil
}

// Watch starts watching the configuration file's directory. Watching the
// directory instead of the file survives atomic rename-replace edits.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.isWatching {
		w.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	w.isWatching = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.isWatching = false
		w.mu.Unlock()
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	w.logger.Info("config watcher started",
		zap.String("path", w.path),
		zap.Duration("debounce", w.debounceTimeout))

	go w.watchLoop(ctx)
	return nil
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.isWatching = false
		w.mu.Unlock()
		w.logger.Info("config watcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.shouldProcessEvent(event) {
				w.handleEvent(event)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) shouldProcessEvent(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return false
	}
	return event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename)
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.logger.Debug("config file change detected",
		zap.String("file", event.Name),
		zap.String("op", event.Op.String()))

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceTimeout, w.performReload)
}

func (w *Watcher) performReload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed", zap.String("path", w.path), zap.Error(err))
		w.emit(ReloadEvent{Timestamp: time.Now(), Error: err})
		return
	}

	if w.apply != nil {
		if err := w.apply(cfg); err != nil {
			w.logger.Error("config apply failed", zap.String("path", w.path), zap.Error(err))
			w.emit(ReloadEvent{Timestamp: time.Now(), Config: cfg, Error: err})
			return
		}
	}

	w.logger.Info("config reloaded", zap.String("path", w.path))
	w.emit(ReloadEvent{Timestamp: time.Now(), Config: cfg})
}

func (w *Watcher) emit(event ReloadEvent) {
	select {
	case w.eventChan <- event:
	default:
	}
}

// EventChan returns the channel of completed reload attempts
func (w *Watcher) EventChan() <-chan ReloadEvent {
	return w.eventChan
}

// SetDebounceTimeout adjusts the debounce window
func (w *Watcher) SetDebounceTimeout(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounceTimeout = d
}

// IsWatching reports whether the watch loop is running
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.isWatching
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isWatching {
		return nil
	}

	close(w.stopChan)
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	return w.watcher.Close()
}
