package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// WatchSettings reloads the settings file when it is edited on disk. Editors
// often replace the file, so the parent directory is watched instead of the file.
func WatchSettings(ctx context.Context) error {
	path := SettingsFilePath()
	dir := filepath.Dir(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var (
			debounce   *time.Timer
			debounceCh <-chan time.Time
		)

		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.NewTimer(watchDebounce)
				debounceCh = debounce.C

			case <-debounceCh:
				debounceCh = nil
				reloadFromFile(path)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("Settings watcher error", "error", err)
			}
		}
	}()

	log.Debug("Watching settings file", "path", path)
	return nil
}

func reloadFromFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("Settings reload: read failed", "path", path, "error", err)
		return
	}

	next, err := DefaultConfig()
	if err == nil {
		err = json.Unmarshal(data, &next)
	}
	if err != nil {
		log.Warn("Settings reload: keeping current configuration", "path", path, "error", err)
		return
	}

	// Our own writes come back through the watcher with identical content.
	if reflect.DeepEqual(next, GetConfig()) {
		return
	}

	if err := applyConfigUpdate(next, configUpdateOptions{broadcast: true, source: "watch"}); err != nil {
		log.Warn("Settings reload: rejected", "path", path, "error", err)
		return
	}
	log.Info("Settings reloaded from disk", "path", path)
}
