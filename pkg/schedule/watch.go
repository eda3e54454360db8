package schedule

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/modelops/retrainflow/pkg/config"
)

// watch monitors the config file and swaps in the newly loaded Config each
// time the file is written. It runs until ctx is cancelled.
//
// If a reload fails (e.g., invalid YAML), the error is logged and the
// previous config remains active.
func (s *Scheduler) watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	s.Logger.Info("watching config for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Only reload on write or create events. Editors often write via
			// rename (atomic save), so also catch fsnotify.Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := config.LoadFile(path)
			if err != nil {
				s.Logger.Error("config reload failed, keeping previous config",
					"path", path, "err", err)
				continue
			}

			s.swap(cfg)
			s.Logger.Info("config reloaded", "path", path)

			// Re-add the file in case an atomic save replaced the inode.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.Logger.Error("config watcher error", "err", err)
		}
	}
}
