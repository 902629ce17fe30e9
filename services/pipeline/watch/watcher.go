// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch surfaces files the tool creates in the test directory
// while stages 2 and 3 run, so the shell can show progress before the
// subprocess returns.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports file creations under a directory. Each Watch call
// owns one fsnotify session; sessions end when stop is called or the
// context is cancelled.
//
// Thread Safety: safe for concurrent use; sessions are independent.
type Watcher struct {
	logger *slog.Logger
}

// New creates a Watcher. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{logger: logger}
}

// Watch invokes onCreate for every file created under dir. Repeated
// create events for the same path are collapsed: editors and the tool
// both tend to fire create/rename pairs for one logical file.
func (w *Watcher) Watch(ctx context.Context, dir string, onCreate func(path string)) (func(), error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	done := make(chan struct{})
	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			close(done)
			fsw.Close()
		})
	}

	go func() {
		seen := make(map[string]bool)
		for {
			select {
			case <-ctx.Done():
				stop()
				return
			case <-done:
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Create) && !seen[event.Name] {
					seen[event.Name] = true
					onCreate(event.Name)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watch error", slog.String("dir", dir), slog.String("error", err.Error()))
			}
		}
	}()

	return stop, nil
}
