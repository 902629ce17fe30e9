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

import "fmt"

// StateMachine enforces the monotonic task lifecycle.
//
// The transition graph:
//
//	ENQUEUED       → RUNNING_STAGE1            : worker picked up the task
//	RUNNING_STAGE1 → RUNNING_STAGE2            : analysis persisted
//	RUNNING_STAGE2 → RUNNING_STAGE3            : tests-written marker found
//	RUNNING_STAGE3 → COMPLETED                 : pass marker found
//	RUNNING_*      → FAILED                    : stage failure
//	ENQUEUED       → FAILED                    : cancelled before start
//
// There are no backward transitions and no stage skips; stage 3
// repeats internally without a state change per attempt.
//
// Thread Safety: the table is immutable after construction, so the
// StateMachine is safe for concurrent use.
type StateMachine struct {
	transitions map[TaskStatus]map[TaskStatus]bool
}

// NewStateMachine builds the transition table.
func NewStateMachine() *StateMachine {
	sm := &StateMachine{transitions: make(map[TaskStatus]map[TaskStatus]bool)}

	sm.addTransition(StatusEnqueued, StatusRunningStage1)
	sm.addTransition(StatusEnqueued, StatusFailed)

	sm.addTransition(StatusRunningStage1, StatusRunningStage2)
	sm.addTransition(StatusRunningStage1, StatusFailed)

	sm.addTransition(StatusRunningStage2, StatusRunningStage3)
	sm.addTransition(StatusRunningStage2, StatusFailed)

	sm.addTransition(StatusRunningStage3, StatusCompleted)
	sm.addTransition(StatusRunningStage3, StatusFailed)

	return sm
}

func (sm *StateMachine) addTransition(from, to TaskStatus) {
	if sm.transitions[from] == nil {
		sm.transitions[from] = make(map[TaskStatus]bool)
	}
	sm.transitions[from][to] = true
}

// CanTransition checks whether from → to is a legal lifecycle step.
func (sm *StateMachine) CanTransition(from, to TaskStatus) bool {
	return sm.transitions[from][to]
}

// Transition moves the task to the target status, or returns
// ErrInvalidTransition leaving the task untouched.
func (sm *StateMachine) Transition(task *Task, to TaskStatus) error {
	if !sm.CanTransition(task.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, to)
	}
	task.Status = to
	return nil
}
