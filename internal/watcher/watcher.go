// Package watcher watches the configuration file and triggers hot reloads.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/wsmitm/internal/config"
)

// configReloadDebounce coalesces the burst of events editors emit for one
// save (write, chmod, atomic rename).
const configReloadDebounce = 150 * time.Millisecond

// Watcher reloads the configuration file on change and hands the parsed
// result to the reload callback. Malformed edits are logged and skipped, so a
// bad save never takes the running proxy down.
type Watcher struct {
	configPath     string
	reloadCallback func(*config.Config)

	watcher  *fsnotify.Watcher
	reloadMu sync.Mutex
	timer    *time.Timer
}

// New creates a watcher for configPath. Start must be called to begin
// watching.
func New(configPath string, reloadCallback func(*config.Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		configPath:     configPath,
		reloadCallback: reloadCallback,
		watcher:        fsw,
	}, nil
}

// Start watches the config file's directory (editors replace files by rename,
// which a file-level watch would lose) until ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		return err
	}
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("Config watcher error: %v", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(configReloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := config.Load(w.configPath)
	if err != nil {
		log.Warnf("Ignoring config reload: %v", err)
		return
	}
	log.Infof("Config reloaded from %s", w.configPath)
	w.reloadCallback(cfg)
}
