package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"gopkg.in/fsnotify.v1"
)

// ConfigWatcher watches a single LinkCheckConfig file on disk and invokes
// onChange with the freshly parsed config whenever it is written. Parse
// errors are logged and the previous config is left in place — a
// malformed edit must not tear down an in-progress build.
type ConfigWatcher struct {
	mu       sync.Mutex
	path     string
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	onChange func(*LinkCheckConfig)
	logger   *log.Logger
}

// NewConfigWatcher builds a watcher for the config file at path. onChange
// is called from the watch goroutine with the newly parsed config each
// time the file changes.
func NewConfigWatcher(path string, onChange func(*LinkCheckConfig)) *ConfigWatcher {
	return &ConfigWatcher{
		path:     path,
		onChange: onChange,
		logger:   log.Default(),
	}
}

// Watch starts the background fsnotify watch on the config file's
// directory. It is an error to call Watch twice without an intervening
// Stop.
func (w *ConfigWatcher) Watch() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return fmt.Errorf("config: watcher already running for %s", w.path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}

	w.watcher = watcher
	w.stopChan = make(chan struct{})

	go w.watchLoop()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		w.watcher.Close()
		w.watcher = nil
		return fmt.Errorf("config: watching directory %s: %w", dir, err)
	}
	return nil
}

// Stop ends the background watch. Safe to call more than once.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher == nil {
		return
	}
	close(w.stopChan)
	w.watcher.Close()
	w.watcher = nil
}

func (w *ConfigWatcher) watchLoop() {
	for {
		select {
		case <-w.stopChan:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("config: watch error for %s: %v", w.path, err)
		}
	}
}

func (w *ConfigWatcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Printf("config: reload of %s failed, keeping previous config: %v", w.path, err)
		return
	}
	w.onChange(cfg)
}
