// Package watch regenerates the client secret when its inputs change. It
// watches the private key file (and the config file, when one is in use)
// with fsnotify and supports SIGHUP-triggered regeneration on Unix.
package watch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay absorbs the multiple events editors and atomic-save tools
// emit for a single file replacement.
const debounceDelay = 300 * time.Millisecond

// Watcher observes a set of files and invokes a regenerate callback when any
// of them changes.
type Watcher struct {
	mu      sync.Mutex // serializes onEvent invocations
	pathsMu sync.Mutex // guards paths
	paths   []string
	logger  *slog.Logger
	onEvent func()
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// New creates a Watcher over the given file paths. onEvent is invoked
// (debounced) after any watched file is written, created, or replaced.
func New(paths []string, onEvent func(), logger *slog.Logger) *Watcher {
	return &Watcher{
		paths:   paths,
		logger:  logger,
		onEvent: onEvent,
		stopCh:  make(chan struct{}),
	}
}

// Start begins watching the files and, on Unix, listening for SIGHUP.
// Must be called once after New.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	for _, p := range w.paths {
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			w.watcher = nil
			return err
		}
		w.logger.Info("watching file", "path", p)
	}

	go w.watchLoop()

	// Register SIGHUP handler (Unix only - no-op on Windows)
	w.registerSignalHandler()

	return nil
}

// Stop terminates the file watcher and signal handler.
func (w *Watcher) Stop() {
	close(w.stopCh)
	if w.watcher != nil {
		w.watcher.Close()
	}
}

// SetPaths replaces the watched file set, for when a config reload moves the
// key file. Safe to call from inside the onEvent callback.
func (w *Watcher) SetPaths(paths []string) error {
	w.pathsMu.Lock()
	defer w.pathsMu.Unlock()

	for _, p := range w.paths {
		w.watcher.Remove(p) //nolint:errcheck
	}

	var firstErr error
	for _, p := range paths {
		if err := w.watcher.Add(p); err != nil {
			w.logger.Error("failed to watch file", "path", p, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		w.logger.Info("watching file", "path", p)
	}

	w.paths = paths
	return firstErr
}

// isWatched reports whether path is in the current watch set.
func (w *Watcher) isWatched(path string) bool {
	w.pathsMu.Lock()
	defer w.pathsMu.Unlock()
	for _, p := range w.paths {
		if p == path {
			return true
		}
	}
	return false
}

// trigger runs the callback. Serialized so a SIGHUP and a file event cannot
// regenerate concurrently.
func (w *Watcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onEvent()
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop() {
	var debounce *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					select {
					case <-w.stopCh:
						return
					default:
					}
					// Re-add the path: rename/replace (how keys are usually
					// swapped) drops the old inode from the watch list.
					if w.isWatched(event.Name) {
						if err := w.watcher.Add(event.Name); err != nil {
							w.logger.Warn("failed to re-watch file after change",
								"path", event.Name, "error", err)
						}
					}
					w.trigger()
				})
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)
		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}
