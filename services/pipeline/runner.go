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
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianMedic/services/pipeline/claude"
	"github.com/AleutianAI/AleutianMedic/services/pipeline/events"
)

// TestDirWatcher observes the test directory while stages 2 and 3 run,
// so the shell can surface files the tool creates. Implemented by
// watch.Watcher; nil disables watching.
type TestDirWatcher interface {
	// Watch invokes onCreate for every file created under dir until
	// stop is called or ctx is cancelled.
	Watch(ctx context.Context, dir string, onCreate func(path string)) (stop func(), err error)
}

// RunnerConfig holds the per-stage knobs.
type RunnerConfig struct {
	// MaxAttempts is the stage-3 retry budget.
	MaxAttempts int

	// TestDirName is the test subdirectory name under the project root.
	TestDirName string
}

// Runner executes the three-stage protocol for one task at a time.
//
// The Runner owns all task mutation. It transitions the task through
// the state machine, persists every invocation's raw output before
// advancing, and emits an event for every transition and attempt.
// Failures never propagate as panics or errors: they become a FAILED
// status plus an event carrying the reason.
//
// Thread Safety: Run must not be called concurrently for the same
// Runner; the Manager guarantees a single worker.
type Runner struct {
	invoker   claude.Invoker
	detector  *Detector
	artifacts *ArtifactWriter
	emitter   *events.Emitter
	prompts   Prompts
	watcher   TestDirWatcher
	sm        *StateMachine
	cfg       RunnerConfig
	logger    *slog.Logger
}

// NewRunner wires a Runner. invoker, detector, artifacts, and emitter
// are required; watcher may be nil; a nil logger falls back to
// slog.Default.
func NewRunner(
	invoker claude.Invoker,
	detector *Detector,
	artifacts *ArtifactWriter,
	emitter *events.Emitter,
	prompts Prompts,
	watcher TestDirWatcher,
	cfg RunnerConfig,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Runner{
		invoker:   invoker,
		detector:  detector,
		artifacts: artifacts,
		emitter:   emitter,
		prompts:   prompts,
		watcher:   watcher,
		sm:        NewStateMachine(),
		cfg:       cfg,
		logger:    logger,
	}
}

// Run drives the task from ENQUEUED to COMPLETED or FAILED.
func (r *Runner) Run(ctx context.Context, task *Task) {
	task.StartedAt = time.Now()
	log := r.logger.With(slog.String("task_id", task.ShortID()))

	if r.runStage1(ctx, task, log) && r.runStage2(ctx, task, log) {
		r.runStage3(ctx, task, log)
	}
}

// runStage1 executes the read-only analysis. Returns true to advance.
func (r *Runner) runStage1(ctx context.Context, task *Task, log *slog.Logger) bool {
	if !r.transition(task, StatusRunningStage1, log) {
		return false
	}
	r.emitStage(task, events.KindStageStarted, 1, 0, "")
	r.emitter.Log(task.ID.String(), fmt.Sprintf("[%s] step 1: analyzing scope...", task.ShortID()))

	prompt := r.prompts.Stage1(task.ProjectRoot, task.Description)
	res, err := r.invoker.Invoke(ctx, claude.Request{WorkDir: task.ProjectRoot, Prompt: prompt})

	r.persistStage(task, 1, res, log)

	sr := stageResult(1, 1, res, err)
	if err != nil {
		task.Stages = append(task.Stages, sr)
		r.fail(task, failureReason(1, err), log)
		return false
	}
	if res.ExitCode != 0 {
		task.Stages = append(task.Stages, sr)
		r.fail(task, fmt.Sprintf("stage 1 exited with code %d", res.ExitCode), log)
		return false
	}
	if strings.TrimSpace(res.Output) == "" {
		task.Stages = append(task.Stages, sr)
		r.fail(task, "stage 1 produced no output", log)
		return false
	}

	sr.Success = true
	task.Stages = append(task.Stages, sr)
	r.emitStage(task, events.KindStageFinished, 1, 0, "")
	r.emitter.Log(task.ID.String(), fmt.Sprintf("[%s] step 1: analysis complete", task.ShortID()))
	return true
}

// runStage2 asks for failing tests and requires the tests-written
// marker. The marker alone decides: exit codes are ignored here
// because the tool routinely exits non-zero after running the new
// (intentionally failing) tests.
func (r *Runner) runStage2(ctx context.Context, task *Task, log *slog.Logger) bool {
	if !r.transition(task, StatusRunningStage2, log) {
		return false
	}
	r.emitStage(task, events.KindStageStarted, 2, 0, "")
	r.emitter.Log(task.ID.String(), fmt.Sprintf("[%s] step 2: generating failing tests...", task.ShortID()))

	testsDir, err := r.artifacts.EnsureTestDir(task.ProjectRoot, r.cfg.TestDirName)
	if err != nil {
		r.fail(task, fmt.Sprintf("could not create test dir: %v", err), log)
		return false
	}

	if stop := r.watchTestDir(ctx, task, testsDir, log); stop != nil {
		defer stop()
	}

	step1Path := r.artifacts.StagePath(task.ProjectRoot, task, 1)
	prompt := r.prompts.Stage2(step1Path, testsDir)
	res, invokeErr := r.invoker.Invoke(ctx, claude.Request{WorkDir: task.ProjectRoot, Prompt: prompt})

	r.persistStage(task, 2, res, log)

	sr := stageResult(2, 1, res, invokeErr)
	if invokeErr != nil {
		task.Stages = append(task.Stages, sr)
		r.fail(task, failureReason(2, invokeErr), log)
		return false
	}

	if !r.detector.TestsWritten(res.Output) {
		task.Stages = append(task.Stages, sr)
		r.fail(task, "stage 2 output is missing the tests-written marker", log)
		return false
	}

	sr.Success = true
	sr.Sentinel = r.detector.set.TestsWritten
	task.Stages = append(task.Stages, sr)
	r.emitStage(task, events.KindStageFinished, 2, 0, sr.Sentinel)
	r.emitter.Log(task.ID.String(), fmt.Sprintf("[%s] step 2: tests written", task.ShortID()))
	return true
}

// runStage3 iterates fix attempts until the pass marker appears or the
// budget runs out.
func (r *Runner) runStage3(ctx context.Context, task *Task, log *slog.Logger) {
	if !r.transition(task, StatusRunningStage3, log) {
		return
	}
	r.emitStage(task, events.KindStageStarted, 3, 0, "")
	r.emitter.Log(task.ID.String(), fmt.Sprintf("[%s] step 3: fixing and running tests...", task.ShortID()))

	testsDir := filepath.Join(task.ProjectRoot, r.cfg.TestDirName)
	if stop := r.watchTestDir(ctx, task, testsDir, log); stop != nil {
		defer stop()
	}

	step1Path := r.artifacts.StagePath(task.ProjectRoot, task, 1)
	step2Path := r.artifacts.StagePath(task.ProjectRoot, task, 2)

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		r.emitter.Log(task.ID.String(), fmt.Sprintf("[%s] step 3: attempt %d/%d",
			task.ShortID(), attempt, r.cfg.MaxAttempts))

		prompt := r.prompts.Stage3(testsDir, step1Path, step2Path, attempt, r.cfg.MaxAttempts)
		res, err := r.invoker.Invoke(ctx, claude.Request{WorkDir: task.ProjectRoot, Prompt: prompt})

		if res != nil {
			if werr := r.artifacts.AppendAttempt(task, attempt, res.Output); werr != nil {
				log.Warn("artifact write failed, continuing",
					slog.Int("stage", 3),
					slog.Int("attempt", attempt),
					slog.String("error", werr.Error()),
				)
			}
		}

		sr := stageResult(3, attempt, res, err)
		if err != nil {
			task.Stages = append(task.Stages, sr)
			r.fail(task, failureReason(3, err), log)
			return
		}

		verdict := r.detector.Stage3(res.Output)
		sr.Sentinel = r.detector.Marker(verdict)
		sr.Success = verdict == VerdictPass
		task.Stages = append(task.Stages, sr)
		r.emitStage(task, events.KindStageFinished, 3, attempt, sr.Sentinel)

		if verdict == VerdictPass {
			r.complete(task, log)
			return
		}
		log.Info("stage 3 attempt did not pass",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", r.cfg.MaxAttempts),
			slog.Bool("fail_marker", verdict == VerdictFail),
		)
	}

	r.fail(task, fmt.Sprintf("no pass marker after %d attempts", r.cfg.MaxAttempts), log)
}

// watchTestDir starts the optional test-directory watcher. Watch
// failures are logged and ignored: surfacing created files is a
// convenience, not part of the pipeline contract.
func (r *Runner) watchTestDir(ctx context.Context, task *Task, dir string, log *slog.Logger) func() {
	if r.watcher == nil {
		return nil
	}
	taskID := task.ID.String()
	short := task.ShortID()
	stop, err := r.watcher.Watch(ctx, dir, func(path string) {
		rel, relErr := filepath.Rel(task.ProjectRoot, path)
		if relErr != nil {
			rel = path
		}
		r.emitter.Log(taskID, fmt.Sprintf("[%s] test file created: %s", short, rel))
	})
	if err != nil {
		log.Warn("test dir watch unavailable", slog.String("error", err.Error()))
		return nil
	}
	return stop
}

func (r *Runner) transition(task *Task, to TaskStatus, log *slog.Logger) bool {
	if err := r.sm.Transition(task, to); err != nil {
		log.Error("lifecycle violation", slog.String("error", err.Error()))
		r.fail(task, err.Error(), log)
		return false
	}
	return true
}

func (r *Runner) complete(task *Task, log *slog.Logger) {
	if err := r.sm.Transition(task, StatusCompleted); err != nil {
		log.Error("lifecycle violation", slog.String("error", err.Error()))
		return
	}
	task.FinishedAt = time.Now()
	r.emitter.Emit(events.Event{
		Kind:   events.KindTaskCompleted,
		TaskID: task.ID.String(),
		Status: string(StatusCompleted),
	})
	r.emitter.Log(task.ID.String(), fmt.Sprintf("[%s] done: %s", task.ShortID(), r.detector.set.Pass))
	log.Info("task completed", slog.Duration("elapsed", task.FinishedAt.Sub(task.StartedAt)))
}

// fail marks the task FAILED with a human-readable reason. Safe to
// call from any non-terminal state.
func (r *Runner) fail(task *Task, reason string, log *slog.Logger) {
	if task.Status.Terminal() {
		return
	}
	task.FailureReason = reason
	if err := r.sm.Transition(task, StatusFailed); err != nil {
		log.Error("lifecycle violation", slog.String("error", err.Error()))
		return
	}
	task.FinishedAt = time.Now()
	r.emitter.Emit(events.Event{
		Kind:    events.KindTaskFailed,
		TaskID:  task.ID.String(),
		Payload: reason,
		Status:  string(StatusFailed),
	})
	r.emitter.Log(task.ID.String(), fmt.Sprintf("[%s] failed: %s", task.ShortID(), reason))
	log.Warn("task failed", slog.String("reason", reason))
}

func (r *Runner) emitStage(task *Task, kind events.Kind, stage, attempt int, payload string) {
	r.emitter.Emit(events.Event{
		Kind:    kind,
		TaskID:  task.ID.String(),
		Stage:   stage,
		Attempt: attempt,
		Payload: payload,
		Status:  string(task.Status),
	})
}

// persistStage writes a stage 1/2 artifact, logging failures instead
// of propagating them.
func (r *Runner) persistStage(task *Task, stage int, res *claude.Result, log *slog.Logger) {
	if res == nil {
		return
	}
	if err := r.artifacts.WriteStage(task, stage, res.Output); err != nil {
		log.Warn("artifact write failed, continuing",
			slog.Int("stage", stage),
			slog.String("error", err.Error()),
		)
	}
}

func stageResult(stage, attempt int, res *claude.Result, err error) StageResult {
	sr := StageResult{Stage: stage, Attempt: attempt, ExitCode: -1}
	if res != nil {
		sr.Output = res.Output
		sr.ExitCode = res.ExitCode
		sr.Elapsed = res.Elapsed
	}
	if err != nil {
		sr.Err = err.Error()
	}
	return sr
}

// failureReason maps an invocation error to the reason shown to the
// user, distinguishing the taxonomy the shell cares about.
func failureReason(stage int, err error) string {
	switch {
	case errors.Is(err, claude.ErrTimeout):
		return fmt.Sprintf("stage %d timed out", stage)
	case errors.Is(err, claude.ErrLaunch):
		return fmt.Sprintf("stage %d could not launch claude: %v", stage, err)
	default:
		return fmt.Sprintf("stage %d i/o failure: %v", stage, err)
	}
}
