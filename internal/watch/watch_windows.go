//go:build windows

package watch

// registerSignalHandler is a no-op on Windows; SIGHUP does not exist there.
// File watching via fsnotify still works.
func (w *Watcher) registerSignalHandler() {}
