package app

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/NodePath81/netgauge/internal/util"
	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// ConfigWatcher calls onChange after the config file is written, created or
// renamed into place. Bursts of events within the debounce window collapse
// into one call.
type ConfigWatcher struct {
	path     string
	onChange func()
	logger   util.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewConfigWatcher(path string, onChange func(), logger util.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		logger:   logger,
		debounce: watchDebounce,
		done:     make(chan struct{}),
	}
}

// Start watches the file's directory, so editors that replace the file
// atomically are still seen.
func (w *ConfigWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = watcher
	w.wg.Add(1)
	go w.loop()
	w.logger.Info("watching config file", "path", w.path)
	return nil
}

func (w *ConfigWatcher) Stop() {
	if w.watcher == nil {
		return
	}
	close(w.done)
	_ = w.watcher.Close()
	w.wg.Wait()
}

func (w *ConfigWatcher) loop() {
	defer w.wg.Done()
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("config file event", "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		case <-fire:
			fire = nil
			w.logger.Info("config file changed", "path", w.path)
			w.onChange()
		}
	}
}
