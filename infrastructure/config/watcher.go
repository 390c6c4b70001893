package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher reloads the YAML config file when it changes and notifies subscribers.
// The parent directory is watched so editors that replace the file are seen too.
type Watcher struct {
	path     string
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewWatcher starts watching path. initial is the configuration currently in use.
func NewWatcher(path string, initial *Config, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	w := &Watcher{
		path:     abs,
		logger:   logger,
		watcher:  fsWatcher,
		debounce: reloadDebounce,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		config:   initial,
	}
	go w.watchLoop()

	logger.Info("Configuration hot reloading enabled", zap.String("path", abs))
	return w, nil
}

func (w *Watcher) watchLoop() {
	defer close(w.done)
	defer w.watcher.Close()

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("Configuration file changed",
				zap.String("file", event.Name),
				zap.String("operation", event.Op.String()))

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	next, err := LoadFrom(w.path)
	if err != nil {
		// keep serving the last good configuration
		w.logger.Error("Invalid configuration after reload", zap.Error(err))
		return
	}

	w.mu.Lock()
	prev := w.config
	w.config = next
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	if prev != nil && prev.LogLevel != next.LogLevel {
		w.logger.Info("Log level changed",
			zap.String("from", prev.LogLevel),
			zap.String("to", next.LogLevel))
	}
	for _, cb := range callbacks {
		cb(next)
	}
	w.logger.Info("Configuration reloaded", zap.Int("callbacks_notified", len(callbacks)))
}

// OnChange registers a callback run after every successful reload
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Current returns the last successfully loaded configuration
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Stop stops watching and waits for the watch loop to exit
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.done
}

// BindLevel keeps level in sync with the log_level of every reloaded configuration
func (w *Watcher) BindLevel(level zap.AtomicLevel) {
	w.OnChange(func(cfg *Config) {
		if l, err := ParseLevel(cfg.LogLevel); err == nil {
			level.SetLevel(l)
		}
	})
}

// ParseLevel converts a log_level setting into a zap level
func ParseLevel(s string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q: %w", s, err)
	}
	return l, nil
}
