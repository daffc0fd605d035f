package auth

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the store when the token file changes on disk, so tokens
// rotated by an external tool are picked up without a restart. Events are
// debounced because editors and atomic renames fire several per save.
func (s *Store) Watch(onReload func()) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(s.path); err != nil {
		w.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil {
						slog.Error("token watch re-add", "path", ev.Name, "err", err)
					}
				}
				debounce.Reset(250 * time.Millisecond)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("token watch", "err", err)
			case <-debounce.C:
				if err := s.Reload(); err != nil {
					slog.Error("token reload", "path", s.path, "err", err)
					continue
				}
				slog.Info("token file reloaded", "path", s.path)
				if onReload != nil {
					onReload()
				}
			}
		}
	}()

	return func() { close(done) }, nil
}
