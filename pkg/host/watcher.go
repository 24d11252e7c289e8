package host

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// PluginWatcher monitors the plugin root for changes and fires a debounced
// callback so the host can rescan. It does not interpret events itself; what
// a rescan means is the caller's decision.
type PluginWatcher struct {
	watcher  *fsnotify.Watcher
	root     string
	debounce time.Duration
	onChange func()
	logger   zerolog.Logger

	done     chan struct{}
	stopOnce sync.Once

	timerMu sync.Mutex
	timer   *time.Timer
}

// PluginWatcherConfig holds configuration for the watcher.
type PluginWatcherConfig struct {
	Root     string
	Debounce time.Duration
	OnChange func()
	Logger   zerolog.Logger
}

// NewPluginWatcher creates a watcher on the plugin root.
func NewPluginWatcher(cfg PluginWatcherConfig) (*PluginWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	return &PluginWatcher{
		watcher:  watcher,
		root:     cfg.Root,
		debounce: cfg.Debounce,
		onChange: cfg.OnChange,
		logger:   cfg.Logger.With().Str("component", "plugin-watcher").Logger(),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Events are collapsed: the callback fires once per
// quiet period, not once per filesystem event.
func (w *PluginWatcher) Start() error {
	if err := w.watcher.Add(w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}

	go func() {
		for {
			select {
			case <-w.done:
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.logger.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("plugin root changed")
				w.scheduleCallback()
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn().Err(err).Msg("watcher error")
			}
		}
	}()

	w.logger.Info().Str("root", w.root).Msg("watching plugin root")
	return nil
}

func (w *PluginWatcher) scheduleCallback() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if w.onChange != nil {
			w.onChange()
		}
	})
}

// Stop ends watching and cancels any pending callback.
func (w *PluginWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()

		w.timerMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timerMu.Unlock()
	})
}
