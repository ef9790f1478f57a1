package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadDelay coalesces the burst of events editors emit for one save.
const ReloadDelay = 200 * time.Millisecond

// Watch reloads filename into a fresh target from newTarget after every
// change and passes it to onReload. Files that fail to load or validate are
// reported to onError and the previous configuration stays in effect.
//
// The parent directory is watched so that atomic replaces (write to a
// temporary file, then rename) are seen. Watch blocks until ctx is done.
func Watch[T any](ctx context.Context, filename string, newTarget func() *T, onReload func(*T), onError func(error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	path := filepath.Clean(filename)
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case <-fire:
			fire = nil
			target := newTarget()
			if err := Load(path, target); err != nil {
				onError(err)
				continue
			}
			onReload(target)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(ReloadDelay)
			} else {
				timer.Reset(ReloadDelay)
			}
			fire = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			onError(err)
		}
	}
}
