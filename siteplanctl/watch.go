package main

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// watchFile calls redraw once, then again after every write to path, until
// ctx is done. The parent directory is watched so editors that save by
// renaming a temp file over path are picked up.
func watchFile(ctx context.Context, path string, logger *log.Logger, redraw func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}
	if err := redraw(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if name, err := filepath.Abs(evt.Name); err != nil || name != target {
				continue
			}
			if err := redraw(); err != nil {
				logger.WithError(err).WithField("file", path).Warn("reload failed, keeping last chart")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("file watcher error")
		}
	}
}
