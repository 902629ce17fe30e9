// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events carries pipeline progress to the presentation layer.
//
// Events are the only boundary the orchestrator exposes to the shell:
// the worker produces them, the UI polls and discards them. The emitter
// never blocks the worker; on overflow the oldest event is dropped.
//
// Thread Safety:
//
//	All types in this package are safe for concurrent use.
package events

import "time"

// Kind identifies the kind of event.
type Kind string

const (
	// KindTaskEnqueued is emitted when a task enters the queue.
	KindTaskEnqueued Kind = "task_enqueued"

	// KindStageStarted is emitted before a stage's first invocation.
	KindStageStarted Kind = "stage_started"

	// KindStageFinished is emitted after a stage settles, including
	// after each stage-3 attempt.
	KindStageFinished Kind = "stage_finished"

	// KindLogLine is a human-readable progress line for the log pane.
	KindLogLine Kind = "log_line"

	// KindTaskCompleted is emitted when a task reaches COMPLETED.
	KindTaskCompleted Kind = "task_completed"

	// KindTaskFailed is emitted when a task reaches FAILED. Payload
	// carries the human-readable reason.
	KindTaskFailed Kind = "task_failed"
)

// Event is a single progress notification.
//
// Event structs are immutable after creation.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Kind identifies what happened.
	Kind Kind `json:"kind"`

	// TaskID is the task this event belongs to.
	TaskID string `json:"task_id"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// Stage is the stage number (1-3), when applicable.
	Stage int `json:"stage,omitempty"`

	// Attempt is the stage-3 attempt number, when applicable.
	Attempt int `json:"attempt,omitempty"`

	// Payload is the optional text payload (log line, failure reason).
	Payload string `json:"payload,omitempty"`

	// Status is the optional task status value, as a string so the
	// presentation layer needs no pipeline types.
	Status string `json:"status,omitempty"`
}
