package workflow

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// refDebounce coalesces bursts of ref updates (a fetch moves many refs at
// once) into a single cache invalidation.
const refDebounce = 100 * time.Millisecond

// RefWatcher invalidates the conflict cache when branch refs move outside
// engine calls, e.g. a background pull advancing main.
type RefWatcher struct {
	watcher *fsnotify.Watcher
	engine  *Engine
}

// WatchRefs starts watching the repository's branch refs. The watcher stops
// when ctx is cancelled.
func (e *Engine) WatchRefs(ctx context.Context) (*RefWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	refsDir := filepath.Join(e.repo.Path(), ".git", "refs", "heads")
	if err := os.MkdirAll(refsDir, 0o755); err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(refsDir); err != nil {
		watcher.Close()
		return nil, err
	}

	rw := &RefWatcher{watcher: watcher, engine: e}
	go rw.run(ctx)

	return rw, nil
}

// run consumes watcher events until the context ends.
func (rw *RefWatcher) run(ctx context.Context) {
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			rw.watcher.Close()
			return

		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if !isRefChange(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(refDebounce)
				timerCh = timer.C
			} else {
				timer.Reset(refDebounce)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			rw.engine.InvalidateConflicts()
			slog.Debug("conflict cache invalidated by ref change")

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("ref watcher error", slog.String("error", err.Error()))
		}
	}
}

// isRefChange filters the event kinds that mean a ref moved.
func isRefChange(event fsnotify.Event) bool {
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

// Close stops the watcher.
func (rw *RefWatcher) Close() error {
	return rw.watcher.Close()
}
