package rules

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch hot-reloads the rule set when the overlay file changes. It blocks
// until ctx is cancelled and is meant to run on its own goroutine. Editors
// often replace files instead of writing in place, so the watch is on the
// directory and events are filtered by name.
func (s *Service) Watch(ctx context.Context) error {
	if s.cfg.OverlayFile == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.cfg.OverlayFile)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(s.cfg.OverlayFile)

	// Debounce: editors fire several events per save.
	var timer *time.Timer
	reloadCh := make(chan struct{}, 1)
	scheduleReload := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(200*time.Millisecond, func() {
			select {
			case reloadCh <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			scheduleReload()
		case <-reloadCh:
			if err := s.Reload(ctx, "overlay"); err != nil {
				s.logger.ErrorTag("RULES", "overlay reload failed", map[string]interface{}{
					"file":  s.cfg.OverlayFile,
					"error": err.Error(),
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WarnTag("RULES", "overlay watcher error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}
