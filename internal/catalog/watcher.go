package catalog

import (
	"context"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the store whenever a YAML file in its directory changes,
// so new or edited service definitions take effect without a restart.
// It blocks until ctx is cancelled; run it in its own goroutine. A store
// with no directory has nothing to watch and returns immediately.
func (s *Store) Watch(ctx context.Context) error {
	if s.dir == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".yaml") {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}
			if err := s.Reload(); err != nil {
				// Keep serving the previous catalog.
				slog.WarnContext(ctx, "catalog reload failed", "file", event.Name, "error", err)
				continue
			}
			slog.InfoContext(ctx, "catalog reloaded", "file", event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "catalog watcher error", "error", err)
		}
	}
}
