package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// debounce collapses the write bursts editors produce into one reload.
const debounce = 250 * time.Millisecond

// Watcher reloads the config file on change and hands the result to a
// callback. A reload that fails to parse keeps the previous config.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*Config)
	stopCh   chan struct{}
	log      *logrus.Entry
}

// NewWatcher builds a watcher for the given config path.
func NewWatcher(path string, onReload func(*Config), log *logrus.Entry) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	w := &Watcher{
		path:     path,
		watcher:  fw,
		onReload: onReload,
		stopCh:   make(chan struct{}),
		log:      log,
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	var timer *time.Timer
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.WithError(err).Warn("config reload failed, keeping previous config")
		return
	}
	w.log.Info("config reloaded")
	w.onReload(cfg)

	// Editors that replace the file break the watch; re-add it.
	_ = w.watcher.Add(w.path)
}

// Stop ends the watch loop and releases the fsnotify watcher.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}
