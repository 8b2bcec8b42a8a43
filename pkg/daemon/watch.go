package daemon

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events editors emit for one save.
const watchDebounce = 500 * time.Millisecond

// watchConfig reloads when the configuration file changes on disk. The
// parent directory is watched so atomic rename-in-place saves are seen.
func (d *Daemon) watchConfig() (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(d.configPath)); err != nil {
		watcher.Close()
		return nil, err
	}

	target := filepath.Base(d.configPath)
	done := make(chan struct{})
	go func() {
		var timer *time.Timer
		var pending <-chan time.Time
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
				} else {
					timer.Reset(watchDebounce)
				}
				pending = timer.C
			case <-pending:
				pending = nil
				d.logger.Info().Str("path", d.configPath).Msg("configuration changed on disk")
				if err := d.Reload(); err != nil {
					d.logger.Error().Err(err).Msg("automatic reload failed; previous configuration stays active")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Warn().Err(err).Msg("config watcher error")
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
