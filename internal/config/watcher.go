package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the configuration whenever the file is written and hands the
// result to onChange. Invalid files are logged and skipped. The watcher stops
// when done is closed.
func Watch(configPath string, logger *zap.Logger, done <-chan struct{}, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	target := filepath.Clean(configPath)

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-done:
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if filepath.Clean(event.Name) != target {
					continue
				}

				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				logger.Info("config file modified, reloading", zap.String("path", configPath))

				newConfig, err := Load(configPath)
				if err != nil {
					logger.Error("failed to reload config", zap.Error(err))
					continue
				}

				onChange(newConfig)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}()

	// Watch the directory, not just the file, so editors that replace the
	// file are still seen.
	dir := filepath.Dir(configPath)
	return watcher.Add(dir)
}
