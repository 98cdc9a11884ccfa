// Package server watches the configuration file and hands valid reloads to
// the running hub.
package server

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// WatchConfig reloads the file at path whenever it is written or replaced and
// hands each valid result to onChange. Invalid files are logged and skipped so
// the last good configuration stays active. The watch ends with ctx.
func WatchConfig(ctx context.Context, path string, log zerolog.Logger, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}

	target := filepath.Clean(path)
	// Editors often replace the file via rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	log = log.With().Str("component", "config").Str("path", target).Logger()

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := LoadConfig(target)
				if err != nil {
					log.Warn().Err(err).Msg("config reload rejected")
					continue
				}
				log.Info().Str("config", cfg.String()).Msg("config reloaded")
				onChange(*cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()

	return nil
}
