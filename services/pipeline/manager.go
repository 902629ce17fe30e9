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
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianMedic/services/pipeline/events"
)

// Store records terminal tasks for the history view. Implemented by
// the badger-backed store; nil disables recording.
type Store interface {
	Record(task *Task) error
}

// SubmitRequest is the validated input for a new task.
type SubmitRequest struct {
	Type        TaskType `validate:"required,oneof=Bug-fix Feature-test"`
	Description string   `validate:"required"`
	ProjectRoot string   `validate:"required,dir"`
}

// Manager owns the task queue and the single worker goroutine.
//
// Submissions append to a FIFO; the worker drains it one task at a
// time, so at most one claude subprocess exists at any moment. Stop
// cancels the worker's context, which kills any in-flight subprocess,
// then joins the worker before closing the event stream.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Manager struct {
	runner   *Runner
	emitter  *events.Emitter
	store    Store
	validate *validator.Validate
	logger   *slog.Logger

	mu      sync.Mutex
	queue   []*Task
	current *Task
	closed  bool

	wake   chan struct{}
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewManager creates a Manager and starts its worker. store may be nil.
func NewManager(runner *Runner, emitter *events.Emitter, store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	m := &Manager{
		runner:   runner,
		emitter:  emitter,
		store:    store,
		validate: validator.New(),
		logger:   logger,
		wake:     make(chan struct{}, 1),
		cancel:   cancel,
		group:    group,
	}
	group.Go(func() error {
		m.work(ctx)
		return nil
	})
	return m
}

// Submit validates the request, enqueues a new task, and returns it.
// Returns ErrShuttingDown once Stop has begun.
func (m *Manager) Submit(req SubmitRequest) (*Task, error) {
	if err := m.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	task := &Task{
		ID:          uuid.New(),
		Type:        req.Type,
		Description: req.Description,
		ProjectRoot: req.ProjectRoot,
		Status:      StatusEnqueued,
		CreatedAt:   time.Now(),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	m.queue = append(m.queue, task)
	m.mu.Unlock()

	m.emitter.Emit(events.Event{
		Kind:    events.KindTaskEnqueued,
		TaskID:  task.ID.String(),
		Payload: string(task.Type),
		Status:  string(StatusEnqueued),
	})
	m.emitter.Log(task.ID.String(), fmt.Sprintf("[%s] enqueued: %s", task.ShortID(), task.Type))
	m.logger.Info("task enqueued",
		slog.String("task_id", task.ShortID()),
		slog.String("type", string(task.Type)),
		slog.String("project_root", task.ProjectRoot),
	)

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return task, nil
}

// CancelPending fails every queued task that has not started. The task
// currently running, if any, is not touched. Returns how many tasks
// were cancelled.
func (m *Manager) CancelPending() int {
	m.mu.Lock()
	cancelled := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, task := range cancelled {
		task.FailureReason = "cancelled before start"
		task.Status = StatusFailed
		task.FinishedAt = time.Now()
		m.emitter.Emit(events.Event{
			Kind:    events.KindTaskFailed,
			TaskID:  task.ID.String(),
			Payload: task.FailureReason,
			Status:  string(StatusFailed),
		})
		m.emitter.Log(task.ID.String(), fmt.Sprintf("[%s] cancelled", task.ShortID()))
		m.record(task)
	}
	if len(cancelled) > 0 {
		m.logger.Info("pending tasks cancelled", slog.Int("count", len(cancelled)))
	}
	return len(cancelled)
}

// Pending returns the number of tasks waiting to start.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Current returns the task the worker is executing, or nil when idle.
func (m *Manager) Current() *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Stop shuts the pipeline down: no new submissions, the in-flight
// subprocess is terminated via context cancellation, the worker joins,
// and the event channel closes. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	if err := m.group.Wait(); err != nil {
		m.logger.Error("worker exited with error", slog.String("error", err.Error()))
	}
	m.emitter.Close()
	m.logger.Info("pipeline stopped")
}

// work is the single worker loop. A panic while running one task is
// caught and converted to a FAILED status so the queue keeps draining.
func (m *Manager) work(ctx context.Context) {
	for {
		task := m.next()
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
				continue
			}
		}

		select {
		case <-ctx.Done():
			// Shutdown raced the dequeue; treat the task as cancelled.
			task.FailureReason = "cancelled by shutdown"
			task.Status = StatusFailed
			task.FinishedAt = time.Now()
			m.record(task)
			return
		default:
		}

		m.setCurrent(task)
		m.runOne(ctx, task)
		m.setCurrent(nil)
		m.record(task)

		// A shutdown that killed the subprocess mid-stage shows up as a
		// stage failure; stop draining once the context is gone.
		if ctx.Err() != nil {
			return
		}
	}
}

func (m *Manager) runOne(ctx context.Context, task *Task) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("worker panic recovered",
				slog.String("task_id", task.ShortID()),
				slog.Any("panic", rec),
			)
			if !task.Status.Terminal() {
				task.FailureReason = fmt.Sprintf("internal error: %v", rec)
				task.Status = StatusFailed
				task.FinishedAt = time.Now()
				m.emitter.Emit(events.Event{
					Kind:    events.KindTaskFailed,
					TaskID:  task.ID.String(),
					Payload: task.FailureReason,
					Status:  string(StatusFailed),
				})
			}
		}
	}()
	m.runner.Run(ctx, task)
}

func (m *Manager) next() *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	task := m.queue[0]
	m.queue = m.queue[1:]
	return task
}

func (m *Manager) setCurrent(task *Task) {
	m.mu.Lock()
	m.current = task
	m.mu.Unlock()
}

func (m *Manager) record(task *Task) {
	if m.store == nil {
		return
	}
	if err := m.store.Record(task); err != nil {
		m.logger.Warn("history record failed",
			slog.String("task_id", task.ShortID()),
			slog.String("error", err.Error()),
		)
	}
}
