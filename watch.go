package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/firmai/firmsync/internal/config"
)

// watchConfig re-resolves the configuration whenever the config file is
// written or created, and hands the result to onChange. The directory is
// watched, not the file, since editors replace files by rename. A reload
// that fails validation is logged and ignored. Returns nil when ctx is done or watching is impossible.
func watchConfig(ctx context.Context, cc *CLIContext, onChange func(*config.Config)) error {
	path := filepath.Clean(cc.Cfg.Path)
	if path == "." {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cc.Logger.Warn("config watcher unavailable, live reload disabled", slog.String("error", err.Error()))
		return nil
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		cc.Logger.Debug("config directory not watchable, live reload disabled",
			slog.String("dir", filepath.Dir(path)),
			slog.String("error", err.Error()),
		)

		return nil
	}

	cc.Logger.Debug("watching config file", slog.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != path {
				continue
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			reloadConfig(cc, onChange)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			cc.Logger.Warn("config watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func reloadConfig(cc *CLIContext, onChange func(*config.Config)) {
	cfg, err := config.Resolve(cc.Env, cc.CLI)
	if err != nil {
		cc.Logger.Warn("config reload failed, keeping previous settings", slog.String("error", err.Error()))
		return
	}

	cc.Logger.Debug("config reloaded", slog.String("path", cfg.Path))
	onChange(cfg)
}
