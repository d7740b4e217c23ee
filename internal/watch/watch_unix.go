//go:build !windows

package watch

import (
	"os"
	"os/signal"
	"syscall"
)

// registerSignalHandler listens for SIGHUP and triggers a regeneration.
func (w *Watcher) registerSignalHandler() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-sigCh:
				w.logger.Info("SIGHUP received, regenerating secret")
				w.trigger()
			case <-w.stopCh:
				signal.Stop(sigCh)
				return
			}
		}
	}()

	w.logger.Info("SIGHUP regenerate handler registered")
}
