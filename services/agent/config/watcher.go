// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk.
//
// # Description
//
// Watches the config file's directory (editors replace files rather
// than writing in place, so watching the file itself misses renames)
// and invokes the callback with the freshly loaded config. A reload
// that fails validation is logged and skipped, keeping the previous
// config in effect.
//
// # Thread Safety
//
// Safe for concurrent use. Start should only be called once.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	callback func(AgentConfig)
	logger   *slog.Logger
}

// NewWatcher creates a watcher for the config at path. The callback
// receives each successfully reloaded config.
func NewWatcher(path string, callback func(AgentConfig), logger *slog.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		watcher:  watcher,
		callback: callback,
		logger:   logger,
	}, nil
}

// Start begins watching for config changes. Blocks until the context
// is cancelled. Should be run in a goroutine.
func (w *Watcher) Start(ctx context.Context) {
	defer w.watcher.Close()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.logger.Warn("failed to watch config directory",
			"path", w.path,
			"error", err)
		return
	}
	w.logger.Debug("watching config file", "path", w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			cfg, err := loadFile(w.path)
			if err != nil {
				w.logger.Warn("config reload skipped",
					"path", w.path,
					"error", err)
				continue
			}
			w.logger.Info("config reloaded", "path", w.path)
			w.callback(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}
