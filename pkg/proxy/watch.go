package proxy

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chrisalpuerto/parallel-sessions/pkg/logging"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads the pool whenever its file changes, until ctx is done. The
// parent directory is watched so editors that replace the file by rename are
// picked up.
func (p *Pool) Watch(ctx context.Context, logger *logging.Logger) error {
	if p.path == "" {
		return errors.New("proxy pool has no backing file")
	}
	logger = logging.OrDiscard(logger)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(p.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	debounce := time.NewTimer(reloadDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
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
			debounce.Reset(reloadDebounce)

		case <-debounce.C:
			if err := p.Reload(); err != nil {
				logger.Warn("proxy reload failed", "path", p.path, "error", err)
				continue
			}
			logger.ProxyPoolReloaded(p.path, p.Len())

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Debug("proxy watcher error", "error", err)
		}
	}
}
