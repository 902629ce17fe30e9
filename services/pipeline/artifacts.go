// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactWriter persists raw stage output for audit.
//
// Layout: <project root>/<artifacts dir>/item_<task id>/stepN.md.
// Stages 1 and 2 overwrite on re-run; stage 3 appends one block per
// attempt to preserve the iteration history.
//
// Persistence is best-effort: callers log write failures and keep the
// pipeline moving. Only the worker goroutine writes artifacts.
type ArtifactWriter struct {
	// DirName is the artifacts directory name under the project root.
	DirName string

	logger *slog.Logger
}

// NewArtifactWriter creates a writer. A nil logger falls back to
// slog.Default.
func NewArtifactWriter(dirName string, logger *slog.Logger) *ArtifactWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtifactWriter{DirName: dirName, logger: logger}
}

// TaskDir returns the per-task artifact directory path.
func (w *ArtifactWriter) TaskDir(projectRoot string, task *Task) string {
	id := strings.ReplaceAll(task.ID.String(), "-", "")
	return filepath.Join(projectRoot, w.DirName, "item_"+id)
}

// StagePath returns the artifact file path for a stage.
func (w *ArtifactWriter) StagePath(projectRoot string, task *Task, stage int) string {
	return filepath.Join(w.TaskDir(projectRoot, task), fmt.Sprintf("step%d.md", stage))
}

// WriteStage persists stage 1 or 2 output, overwriting any previous
// run of the same stage.
func (w *ArtifactWriter) WriteStage(task *Task, stage int, text string) error {
	path := w.StagePath(task.ProjectRoot, task, stage)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("write artifact %s: %w", filepath.Base(path), err)
	}
	return nil
}

// AppendAttempt appends one stage-3 attempt block to step3.md.
func (w *ArtifactWriter) AppendAttempt(task *Task, attempt int, text string) error {
	path := w.StagePath(task.ProjectRoot, task, 3)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open artifact %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	block := fmt.Sprintf("--- Attempt %d ---\n%s\n", attempt, text)
	if _, err := f.WriteString(block); err != nil {
		return fmt.Errorf("append artifact %s: %w", filepath.Base(path), err)
	}
	return nil
}

// EnsureTestDir creates the conventional test subdirectory before
// stage 2 runs, so the tool has a place to write.
func (w *ArtifactWriter) EnsureTestDir(projectRoot, testDirName string) (string, error) {
	dir := filepath.Join(projectRoot, testDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create test dir: %w", err)
	}
	return dir, nil
}
