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
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianMedic/services/pipeline/claude"
	"github.com/AleutianAI/AleutianMedic/services/pipeline/events"
)

// scriptStep is one canned invocation outcome.
type scriptStep struct {
	output   string
	exitCode int
	err      error
}

// scriptedInvoker replays canned outcomes in order, recording every
// request so tests can inspect prompts and working directories.
type scriptedInvoker struct {
	mu     sync.Mutex
	script []scriptStep
	calls  []claude.Request
}

func (s *scriptedInvoker) Invoke(_ context.Context, req claude.Request) (*claude.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)

	if len(s.script) == 0 {
		return nil, fmt.Errorf("%w: unexpected invocation %d", claude.ErrIO, len(s.calls))
	}
	step := s.script[0]
	s.script = s.script[1:]

	if step.err != nil {
		return nil, step.err
	}
	return &claude.Result{
		Output:   step.output,
		Stdout:   step.output,
		Elapsed:  time.Millisecond,
		ExitCode: step.exitCode,
	}, nil
}

func (s *scriptedInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestRunner(inv claude.Invoker, maxAttempts int) (*Runner, *events.Emitter, *ArtifactWriter) {
	em := events.NewEmitter(256, nil)
	aw := NewArtifactWriter(".claude_tasks", nil)
	prompts := Prompts{Sentinels: testSentinels(), TestCommand: `python -m pytest "{dir}" -q`}
	r := NewRunner(inv, NewDetector(testSentinels()), aw, em, prompts, nil,
		RunnerConfig{MaxAttempts: maxAttempts, TestDirName: "test_bugfix"}, nil)
	return r, em, aw
}

func drainEvents(em *events.Emitter) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-em.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func hasEvent(evs []events.Event, kind events.Kind) bool {
	for _, ev := range evs {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func TestRunnerHappyPathSingleAttempt(t *testing.T) {
	inv := &scriptedInvoker{script: []scriptStep{
		{output: "likely cause: off-by-one in parser"},
		{output: "wrote tests\nRESULT: TESTS_WRITTEN"},
		{output: "all green\nRESULT: PASS"},
	}}
	r, em, aw := newTestRunner(inv, 5)
	task := newTestTask(t)

	r.Run(context.Background(), task)

	if task.Status != StatusCompleted {
		t.Fatalf("status = %s (%s), want COMPLETED", task.Status, task.FailureReason)
	}
	if inv.callCount() != 3 {
		t.Fatalf("invocations = %d, want 3", inv.callCount())
	}
	if len(task.Stages) != 3 {
		t.Fatalf("stage results = %d, want 3", len(task.Stages))
	}

	for stage := 1; stage <= 3; stage++ {
		path := aw.StagePath(task.ProjectRoot, task, stage)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("step%d.md missing: %v", stage, err)
		}
	}

	evs := drainEvents(em)
	if !hasEvent(evs, events.KindTaskCompleted) {
		t.Errorf("no TaskCompleted event emitted")
	}
	if hasEvent(evs, events.KindTaskFailed) {
		t.Errorf("unexpected TaskFailed event")
	}
}

func TestRunnerStage3RetriesThenPasses(t *testing.T) {
	inv := &scriptedInvoker{script: []scriptStep{
		{output: "analysis"},
		{output: "RESULT: TESTS_WRITTEN"},
		{output: "2 tests still failing\nRESULT: FAIL", exitCode: 1},
		{output: "fixed\nRESULT: PASS"},
	}}
	r, _, aw := newTestRunner(inv, 5)
	task := newTestTask(t)

	r.Run(context.Background(), task)

	if task.Status != StatusCompleted {
		t.Fatalf("status = %s (%s), want COMPLETED", task.Status, task.FailureReason)
	}
	if len(task.Stages) != 4 {
		t.Fatalf("stage results = %d, want 4 (two stage-3 attempts)", len(task.Stages))
	}

	data, err := os.ReadFile(aw.StagePath(task.ProjectRoot, task, 3))
	if err != nil {
		t.Fatalf("read step3.md: %v", err)
	}
	if n := strings.Count(string(data), "--- Attempt "); n != 2 {
		t.Fatalf("step3.md has %d attempt blocks, want 2", n)
	}

	// The retry prompt must mention the attempt number.
	last := inv.calls[len(inv.calls)-1]
	if !strings.Contains(last.Prompt, "Attempt 2 of 5") {
		t.Errorf("retry prompt missing attempt counter")
	}
}

func TestRunnerStage2MissingMarkerFailsTask(t *testing.T) {
	inv := &scriptedInvoker{script: []scriptStep{
		{output: "analysis"},
		{output: "I wrote tests but printed nothing conclusive"},
	}}
	r, em, aw := newTestRunner(inv, 5)
	task := newTestTask(t)

	r.Run(context.Background(), task)

	if task.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", task.Status)
	}
	if !strings.Contains(task.FailureReason, "marker") {
		t.Errorf("failure reason = %q, want marker mention", task.FailureReason)
	}
	if inv.callCount() != 2 {
		t.Fatalf("invocations = %d, want 2 (stage 3 never ran)", inv.callCount())
	}
	if _, err := os.Stat(aw.StagePath(task.ProjectRoot, task, 3)); !os.IsNotExist(err) {
		t.Errorf("step3.md exists for a task that never reached stage 3")
	}
	if !hasEvent(drainEvents(em), events.KindTaskFailed) {
		t.Errorf("no TaskFailed event emitted")
	}
}

func TestRunnerStage1TimeoutFailsTask(t *testing.T) {
	inv := &scriptedInvoker{script: []scriptStep{
		{err: fmt.Errorf("%w after 30m", claude.ErrTimeout)},
	}}
	r, em, _ := newTestRunner(inv, 5)
	task := newTestTask(t)

	r.Run(context.Background(), task)

	if task.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", task.Status)
	}
	if !strings.Contains(task.FailureReason, "timed out") {
		t.Errorf("failure reason = %q, want timeout mention", task.FailureReason)
	}
	if !hasEvent(drainEvents(em), events.KindTaskFailed) {
		t.Errorf("no TaskFailed event emitted")
	}
}

func TestRunnerStage1NonZeroExitFailsTask(t *testing.T) {
	inv := &scriptedInvoker{script: []scriptStep{
		{output: "usage: claude ...", exitCode: 2},
	}}
	r, _, _ := newTestRunner(inv, 5)
	task := newTestTask(t)

	r.Run(context.Background(), task)

	if task.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", task.Status)
	}
	if !strings.Contains(task.FailureReason, "exited with code 2") {
		t.Errorf("failure reason = %q", task.FailureReason)
	}
}

func TestRunnerAttemptBudgetExhausted(t *testing.T) {
	inv := &scriptedInvoker{script: []scriptStep{
		{output: "analysis"},
		{output: "RESULT: TESTS_WRITTEN"},
		{output: "RESULT: FAIL", exitCode: 1},
		{output: "no marker at all", exitCode: 1},
	}}
	r, _, aw := newTestRunner(inv, 2)
	task := newTestTask(t)

	r.Run(context.Background(), task)

	if task.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", task.Status)
	}
	if !strings.Contains(task.FailureReason, "2 attempts") {
		t.Errorf("failure reason = %q, want attempt budget mention", task.FailureReason)
	}
	if inv.callCount() != 4 {
		t.Fatalf("invocations = %d, want 4", inv.callCount())
	}

	data, err := os.ReadFile(aw.StagePath(task.ProjectRoot, task, 3))
	if err != nil {
		t.Fatalf("read step3.md: %v", err)
	}
	if n := strings.Count(string(data), "--- Attempt "); n != 2 {
		t.Fatalf("step3.md has %d attempt blocks, want 2", n)
	}
}

func TestRunnerCreatesTestDirBeforeStage2(t *testing.T) {
	inv := &scriptedInvoker{script: []scriptStep{
		{output: "analysis"},
		{output: "RESULT: TESTS_WRITTEN"},
		{output: "RESULT: PASS"},
	}}
	r, _, _ := newTestRunner(inv, 5)
	task := newTestTask(t)

	r.Run(context.Background(), task)

	info, err := os.Stat(task.ProjectRoot + "/test_bugfix")
	if err != nil || !info.IsDir() {
		t.Fatalf("test_bugfix dir missing after run: %v", err)
	}
	// The stage-2 prompt must point the tool at that directory.
	if !strings.Contains(inv.calls[1].Prompt, "test_bugfix") {
		t.Errorf("stage 2 prompt does not reference the test dir")
	}
}
