// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/AleutianAI/AleutianMedic/cmd/medic/config"
	"github.com/AleutianAI/AleutianMedic/pkg/logging"
	"github.com/AleutianAI/AleutianMedic/services/pipeline"
	"github.com/AleutianAI/AleutianMedic/services/pipeline/claude"
	"github.com/AleutianAI/AleutianMedic/services/pipeline/events"
	"github.com/AleutianAI/AleutianMedic/services/pipeline/store"
	"github.com/AleutianAI/AleutianMedic/services/pipeline/watch"
)

// app bundles the wired pipeline components behind one Close.
type app struct {
	cfg     config.MedicConfig
	logger  *logging.Logger
	emitter *events.Emitter
	manager *pipeline.Manager
	history *store.Store
}

// newApp wires the pipeline from config. quiet suppresses stderr
// logging while the bubbletea shell owns the terminal; file logging
// stays active either way.
func newApp(cfg config.MedicConfig, quiet bool) (*app, error) {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "medic",
		Quiet:   quiet,
	})
	sl := logger.Slog()

	emitter := events.NewEmitter(cfg.Events.BufferSize, sl)

	invoker := claude.NewClient(claude.Config{
		Binary:              cfg.Claude.Binary,
		SkipPermissionsFlag: cfg.Claude.SkipPermissionsFlag,
		Timeout:             cfg.Claude.StageTimeout(),
		MaxOutputBytes:      cfg.Claude.MaxOutputBytes,
	}, sl)

	detector := pipeline.NewDetector(sentinels(cfg))
	artifacts := pipeline.NewArtifactWriter(cfg.Pipeline.ArtifactsDirName, sl)
	prompts := pipeline.Prompts{
		Sentinels:   sentinels(cfg),
		TestCommand: cfg.Pipeline.TestCommand,
	}

	runner := pipeline.NewRunner(invoker, detector, artifacts, emitter, prompts,
		watch.New(sl),
		pipeline.RunnerConfig{
			MaxAttempts: cfg.Pipeline.MaxAttempts,
			TestDirName: cfg.Pipeline.TestDirName,
		}, sl)

	var history *store.Store
	var managerStore pipeline.Store
	if cfg.History.Enabled {
		s, err := store.Open(store.Config{
			Path:       expandPath(cfg.History.Path),
			SyncWrites: true,
		})
		if err != nil {
			logger.Close()
			return nil, fmt.Errorf("open history store: %w", err)
		}
		history = s
		managerStore = s
	}

	manager := pipeline.NewManager(runner, emitter, managerStore, sl)

	return &app{
		cfg:     cfg,
		logger:  logger,
		emitter: emitter,
		manager: manager,
		history: history,
	}, nil
}

// Close stops the pipeline, closes the history store, and flushes logs.
func (a *app) Close() {
	a.manager.Stop()
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("history close failed", "error", err.Error())
		}
	}
	a.logger.Close()
}

func sentinels(cfg config.MedicConfig) pipeline.SentinelSet {
	return pipeline.SentinelSet{
		TestsWritten: cfg.Sentinels.TestsWritten,
		Pass:         cfg.Sentinels.Pass,
		Fail:         cfg.Sentinels.Fail,
	}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
