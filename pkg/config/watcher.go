// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ChangeFunc receives the outcome of reloading the settings file after a
// filesystem event. settings is valid only when err is nil; on error the
// caller is expected to fall back to the unconfigured state.
type ChangeFunc func(settings Settings, err error)

// Watcher reloads the settings file when it changes on disk.
//
// # Description
//
// Watcher observes the file's parent directory (editors replace files
// rather than writing in place, so watching the path directly would lose
// the watch after the first save) and reloads on any write/create/rename
// touching the settings file. Each reload revalidates; the conversation
// layer reconfigures on success and resets to Unconfigured on failure.
//
// # Thread Safety
//
// Start may be called once. The callback fires from the watch goroutine.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	onChg   ChangeFunc
}

// NewWatcher creates a watcher for the settings file at path.
func NewWatcher(path string, onChange ChangeFunc) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		closeErr := fsWatcher.Close()
		if closeErr != nil {
			slog.Error("failed to close fsnotify watcher", "error", closeErr)
		}
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	return &Watcher{
		path:    filepath.Clean(path),
		watcher: fsWatcher,
		onChg:   onChange,
	}, nil
}

// Start runs the watch loop until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer func() {
			if err := w.watcher.Close(); err != nil {
				slog.Error("failed to close fsnotify watcher", "error", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if !w.relevant(event) {
					continue
				}
				slog.Debug("settings file changed", "path", w.path, "op", event.Op.String())
				settings, err := Load(w.path)
				w.onChg(settings, err)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("settings watcher error", "error", err)
			}
		}
	}()
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename)
}
