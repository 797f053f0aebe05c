package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sonroyaalmerol/sharesync/internal/syslog"
)

// WatchCallback receives the re-parsed configuration after a file change.
type WatchCallback func(*Config)

// Watcher reloads a profile file when it changes on disk. Used by service
// mode so edits between scheduled runs take effect without a restart.
type Watcher struct {
	mu            sync.Mutex
	watcher       *fsnotify.Watcher
	callback      WatchCallback
	debounceTimer *time.Timer
	watching      map[string]bool
	events        map[string]bool
}

func NewWatcher(callback WatchCallback) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("NewWatcher: failed to create watcher -> %w", err)
	}

	return &Watcher{
		watcher:  watcher,
		callback: callback,
		watching: make(map[string]bool),
		events:   make(map[string]bool),
	}, nil
}

func (w *Watcher) Watch(filename string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return fmt.Errorf("Watch: failed to get absolute path -> %w", err)
	}

	if w.watching[absPath] {
		return nil
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("Watch: failed to create directory -> %w", err)
	}

	// Watch the directory for file creation/deletion as well as the file
	// itself; editors often replace instead of rewrite.
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("Watch: failed to watch directory -> %w", err)
	}
	if err := w.watcher.Add(absPath); err != nil {
		return fmt.Errorf("Watch: failed to watch file -> %w", err)
	}

	w.watching[absPath] = true

	go w.watchLoop(absPath)

	return nil
}

func (w *Watcher) watchLoop(filename string) {
	const debounceInterval = 100 * time.Millisecond

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			w.mu.Lock()

			// If the file was recreated, reattach the watcher.
			if event.Op&fsnotify.Create == fsnotify.Create {
				if event.Name == filename {
					_ = w.watcher.Add(filename)
				}
			}

			w.events[event.Name] = true

			if w.debounceTimer != nil {
				w.debounceTimer.Stop()
			}

			currentEvents := make(map[string]bool, len(w.events))
			for k, v := range w.events {
				currentEvents[k] = v
			}
			w.events = make(map[string]bool)

			w.debounceTimer = time.AfterFunc(debounceInterval, func() {
				if _, exists := currentEvents[filename]; exists {
					w.handleConfigChange(filename)
				}
			})

			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			syslog.L.Error(err).WithMessage("config watcher error").Write()
		}
	}
}

func (w *Watcher) handleConfigChange(filename string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cfg, err := Load(filename)
	if err != nil {
		syslog.L.Error(err).WithMessage("error parsing updated config").Write()
		return
	}

	if w.callback != nil {
		w.callback(cfg)
	}
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	return w.watcher.Close()
}
