// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline implements the three-stage code-fixing orchestrator.
//
// A single worker drains a FIFO of tasks. Each task runs a fixed
// protocol against the claude CLI: analyze the project (stage 1), write
// failing tests (stage 2), then iterate on fixes until the tests pass
// or the attempt budget is exhausted (stage 3). Raw output of every
// invocation is persisted per task, and progress crosses to the
// presentation layer as typed events.
package pipeline

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Package-level errors for task-level failures.
var (
	// ErrInvalidTransition means a status change violated the task
	// lifecycle. Indicates a pipeline bug, never user input.
	ErrInvalidTransition = errors.New("pipeline: invalid status transition")

	// ErrShuttingDown is returned by Submit after Stop has begun.
	ErrShuttingDown = errors.New("pipeline: manager is shutting down")
)

// TaskType is the kind of work the pipeline performs.
type TaskType string

const (
	// TaskBugFix repairs a described defect.
	TaskBugFix TaskType = "Bug-fix"

	// TaskFeatureTest builds tests capturing intended behavior.
	TaskFeatureTest TaskType = "Feature-test"
)

// TaskStatus is the lifecycle state of a task. Transitions are
// monotonic: ENQUEUED → RUNNING_STAGE1 → RUNNING_STAGE2 →
// RUNNING_STAGE3 → COMPLETED | FAILED, with FAILED reachable from any
// running state.
type TaskStatus string

const (
	StatusEnqueued      TaskStatus = "ENQUEUED"
	StatusRunningStage1 TaskStatus = "RUNNING_STAGE1"
	StatusRunningStage2 TaskStatus = "RUNNING_STAGE2"
	StatusRunningStage3 TaskStatus = "RUNNING_STAGE3"
	StatusCompleted     TaskStatus = "COMPLETED"
	StatusFailed        TaskStatus = "FAILED"
)

// Terminal reports whether the status is COMPLETED or FAILED.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Running reports whether a stage is executing.
func (s TaskStatus) Running() bool {
	switch s {
	case StatusRunningStage1, StatusRunningStage2, StatusRunningStage3:
		return true
	}
	return false
}

// Task is one unit of queued work.
//
// Tasks are created on submission and mutated only by the pipeline
// worker. Once terminal they are immutable; the presentation layer
// observes them through events and the history store, never directly.
type Task struct {
	// ID is the opaque task identifier.
	ID uuid.UUID

	// Type is Bug-fix or Feature-test.
	Type TaskType

	// Description is the user's free-text description of the work.
	Description string

	// ProjectRoot is the absolute path the tool operates in.
	ProjectRoot string

	// Status is the current lifecycle state.
	Status TaskStatus

	// FailureReason is the human-readable reason for FAILED status.
	FailureReason string

	// CreatedAt is the submission time.
	CreatedAt time.Time

	// StartedAt and FinishedAt bound the worker's processing window.
	StartedAt  time.Time
	FinishedAt time.Time

	// Stages is the ordered log of stage outputs, one entry per
	// invocation (stage 3 contributes one per attempt).
	Stages []StageResult
}

// ShortID returns the 8-character prefix used in log payloads.
func (t *Task) ShortID() string {
	s := t.ID.String()
	if len(s) < 8 {
		return s
	}
	return s[:8]
}

// StageResult is the immutable outcome of one CLI invocation.
type StageResult struct {
	// Stage is 1, 2, or 3.
	Stage int

	// Attempt is 1-based; always 1 for stages 1 and 2.
	Attempt int

	// Output is the raw captured text (stdout then stderr).
	Output string

	// ExitCode is the process exit code; -1 if it never ran cleanly.
	ExitCode int

	// Elapsed is wall time for the invocation.
	Elapsed time.Duration

	// Sentinel is the detected marker, empty when none was found.
	Sentinel string

	// Success is the stage-level verdict for this invocation.
	Success bool

	// Err is the invocation error text, if any.
	Err string
}
