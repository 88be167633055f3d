package config

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the config file and invokes onChange with the re-parsed
// learning section whenever it is rewritten. Only learning tunables are
// reloadable; everything else requires a restart. The returned stop
// function releases the watcher.
func Watch(path string, onChange func(LearningConfig)) (func(), error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required for watching")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Watch the directory: editors replace files, which would detach a
	// watch on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	target, _ := filepath.Abs(path)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				evPath, _ := filepath.Abs(event.Name)
				if evPath != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Printf("[Config] Ignoring invalid reload of %s: %v", path, err)
					continue
				}
				onChange(cfg.Learning)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[Config] Watcher error: %v", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
