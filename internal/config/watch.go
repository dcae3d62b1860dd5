package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch reloads filePath whenever it is written or replaced and passes each
// valid result to onChange. Invalid files are logged and skipped. Watch
// returns when ctx is done.
func Watch(ctx context.Context, filePath string, log zerolog.Logger, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error creating config watcher: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(filePath)
	// Watch the directory so editors that replace the file are still seen.
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("error watching config directory: %w", err)
	}
	log.Debug().Str("path", target).Msg("Watching configuration")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			cfg, err := LoadFromFile(target)
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				log.Warn().Err(err).Str("path", target).Msg("Ignoring invalid configuration")
				continue
			}
			log.Info().Str("path", target).Msg("Configuration reloaded")
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}
