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
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianMedic/services/pipeline/claude"
	"github.com/AleutianAI/AleutianMedic/services/pipeline/events"
)

// blockingInvoker parks every Invoke until released or the context is
// cancelled, so tests can hold a task "in flight".
type blockingInvoker struct {
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func newBlockingInvoker() *blockingInvoker {
	return &blockingInvoker{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (b *blockingInvoker) Invoke(ctx context.Context, _ claude.Request) (*claude.Result, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.started <- struct{}{}

	select {
	case <-ctx.Done():
		return nil, claude.ErrTimeout
	case <-b.release:
		return &claude.Result{Output: "RESULT: PASS"}, nil
	}
}

func newTestManager(inv claude.Invoker, store Store) (*Manager, *events.Emitter) {
	em := events.NewEmitter(256, nil)
	aw := NewArtifactWriter(".claude_tasks", nil)
	prompts := Prompts{Sentinels: testSentinels(), TestCommand: `python -m pytest "{dir}" -q`}
	r := NewRunner(inv, NewDetector(testSentinels()), aw, em, prompts, nil,
		RunnerConfig{MaxAttempts: 5, TestDirName: "test_bugfix"}, nil)
	return NewManager(r, em, store, nil), em
}

// waitEvent blocks until an event of the given kind arrives or the
// deadline passes.
func waitEvent(t *testing.T, em *events.Emitter, kind events.Kind) events.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-em.Events():
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestManagerRunsSubmittedTaskToCompletion(t *testing.T) {
	inv := &scriptedInvoker{script: []scriptStep{
		{output: "analysis"},
		{output: "RESULT: TESTS_WRITTEN"},
		{output: "RESULT: PASS"},
	}}
	m, em := newTestManager(inv, nil)
	defer m.Stop()

	task, err := m.Submit(SubmitRequest{
		Type:        TaskBugFix,
		Description: "parser drops trailing newline",
		ProjectRoot: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ev := waitEvent(t, em, events.KindTaskCompleted)
	if ev.TaskID != task.ID.String() {
		t.Fatalf("completed event for %s, want %s", ev.TaskID, task.ID)
	}
}

func TestManagerSubmitValidation(t *testing.T) {
	m, _ := newTestManager(&scriptedInvoker{}, nil)
	defer m.Stop()

	root := t.TempDir()
	cases := []struct {
		name string
		req  SubmitRequest
	}{
		{"empty description", SubmitRequest{Type: TaskBugFix, ProjectRoot: root}},
		{"missing project root", SubmitRequest{Type: TaskBugFix, Description: "x"}},
		{"nonexistent project root", SubmitRequest{Type: TaskBugFix, Description: "x", ProjectRoot: root + "/nope"}},
		{"unknown type", SubmitRequest{Type: "Refactor", Description: "x", ProjectRoot: root}},
	}

	for _, c := range cases {
		if _, err := m.Submit(c.req); err == nil {
			t.Errorf("%s: Submit succeeded, want validation error", c.name)
		}
	}
	if m.Pending() != 0 {
		t.Fatalf("pending = %d after rejected submits, want 0", m.Pending())
	}
}

func TestManagerProcessesTasksOneAtATime(t *testing.T) {
	inv := newBlockingInvoker()
	m, _ := newTestManager(inv, nil)
	defer m.Stop()

	root := t.TempDir()
	for i := 0; i < 3; i++ {
		if _, err := m.Submit(SubmitRequest{Type: TaskBugFix, Description: "d", ProjectRoot: root}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	<-inv.started
	// First task holds the worker; nothing else may start.
	select {
	case <-inv.started:
		t.Fatal("second task started while the first was in flight")
	case <-time.After(100 * time.Millisecond):
	}
	if m.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", m.Pending())
	}
}

func TestManagerCancelPendingLeavesRunningTask(t *testing.T) {
	inv := newBlockingInvoker()
	m, em := newTestManager(inv, nil)
	defer m.Stop()

	root := t.TempDir()
	running, err := m.Submit(SubmitRequest{Type: TaskBugFix, Description: "d", ProjectRoot: root})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := m.Submit(SubmitRequest{Type: TaskBugFix, Description: "d", ProjectRoot: root}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	<-inv.started

	if n := m.CancelPending(); n != 2 {
		t.Fatalf("CancelPending = %d, want 2", n)
	}
	if m.Pending() != 0 {
		t.Fatalf("pending = %d after cancel, want 0", m.Pending())
	}

	ev := waitEvent(t, em, events.KindTaskFailed)
	if ev.TaskID == running.ID.String() {
		t.Fatalf("running task was cancelled")
	}
	if cur := m.Current(); cur == nil || cur.ID != running.ID {
		t.Fatalf("running task no longer current after cancel")
	}
}

func TestManagerStopTerminatesInFlightTask(t *testing.T) {
	inv := newBlockingInvoker()
	m, em := newTestManager(inv, nil)

	task, err := m.Submit(SubmitRequest{Type: TaskBugFix, Description: "d", ProjectRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-inv.started

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return; worker never joined")
	}

	if task.Status != StatusFailed {
		t.Fatalf("in-flight task status = %s after Stop, want FAILED", task.Status)
	}

	// The event channel must be closed after Stop.
	for {
		ev, ok := <-em.Events()
		if !ok {
			break
		}
		_ = ev
	}
}

func TestManagerSubmitAfterStop(t *testing.T) {
	m, _ := newTestManager(&scriptedInvoker{}, nil)
	m.Stop()

	_, err := m.Submit(SubmitRequest{Type: TaskBugFix, Description: "d", ProjectRoot: t.TempDir()})
	if !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("Submit after Stop = %v, want ErrShuttingDown", err)
	}
}

func TestManagerContinuesAfterFailedTask(t *testing.T) {
	inv := &scriptedInvoker{script: []scriptStep{
		// First task: stage 1 times out.
		{err: claude.ErrTimeout},
		// Second task: clean run.
		{output: "analysis"},
		{output: "RESULT: TESTS_WRITTEN"},
		{output: "RESULT: PASS"},
	}}
	m, em := newTestManager(inv, nil)
	defer m.Stop()

	root := t.TempDir()
	first, err := m.Submit(SubmitRequest{Type: TaskBugFix, Description: "a", ProjectRoot: root})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := m.Submit(SubmitRequest{Type: TaskFeatureTest, Description: "b", ProjectRoot: root})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	failed := waitEvent(t, em, events.KindTaskFailed)
	if failed.TaskID != first.ID.String() {
		t.Fatalf("failed event for %s, want %s", failed.TaskID, first.ID)
	}
	completed := waitEvent(t, em, events.KindTaskCompleted)
	if completed.TaskID != second.ID.String() {
		t.Fatalf("completed event for %s, want %s", completed.TaskID, second.ID)
	}
}

// recordingStore captures terminal tasks handed to the history layer.
type recordingStore struct {
	mu    sync.Mutex
	tasks []*Task
}

func (s *recordingStore) Record(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	return nil
}

func TestManagerRecordsTerminalTasks(t *testing.T) {
	inv := &scriptedInvoker{script: []scriptStep{
		{output: "analysis"},
		{output: "RESULT: TESTS_WRITTEN"},
		{output: "RESULT: PASS"},
	}}
	store := &recordingStore{}
	m, em := newTestManager(inv, store)
	defer m.Stop()

	task, err := m.Submit(SubmitRequest{Type: TaskBugFix, Description: "d", ProjectRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitEvent(t, em, events.KindTaskCompleted)

	// Recording happens right after the run; give the worker a beat.
	deadline := time.Now().Add(2 * time.Second)
	for {
		store.mu.Lock()
		n := len(store.tasks)
		store.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("recorded %d tasks, want 1", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.tasks[0].ID != task.ID {
		t.Fatalf("recorded task %s, want %s", store.tasks[0].ID, task.ID)
	}
}
