package frontfollowing

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/frontfollow/frontfollow/utils"
)

// reloadDebounce collapses the burst of events an atomic rewrite produces.
const reloadDebounce = 100 * time.Millisecond

// WatchCheckpoint reloads the parameters whenever the checkpoint at path is written or replaced,
// until the returned workers are stopped or ctx is done. A checkpoint that fails to load is
// logged and the current parameters stay in place. The containing directory is watched so that
// rename-into-place writes are seen.
func (m *Model) WatchCheckpoint(ctx context.Context, path string) (*utils.StoppableWorkers, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating checkpoint watcher")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, multierr.Combine(err, watcher.Close())
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return nil, errors.Wrapf(multierr.Combine(err, watcher.Close()), "watching %q", filepath.Dir(abs))
	}

	return utils.NewStoppableWorkers(ctx, func(ctx context.Context) {
		debounced := debounce.New(reloadDebounce)
		reload := func() {
			if ctx.Err() != nil {
				return
			}
			if err := m.LoadCheckpoint(ctx, abs); err != nil {
				m.logger.Errorw("reloading checkpoint failed; keeping current parameters", "path", abs, "error", err)
			}
		}
		defer func() {
			// drop a reload that has not fired yet
			debounced(func() {})
			if err := watcher.Close(); err != nil {
				m.logger.Warnw("closing checkpoint watcher", "error", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				debounced(reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warnw("checkpoint watcher error", "error", err)
			}
		}
	}), nil
}
