// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Emitter delivers events to the presentation layer through a bounded
// channel. Emit never blocks: when the buffer is full the oldest event
// is discarded and counted.
//
// Thread Safety: Emitter is safe for concurrent use, though the
// pipeline only ever has one producer goroutine.
type Emitter struct {
	mu      sync.Mutex
	ch      chan Event
	dropped int64
	closed  bool
	logger  *slog.Logger
}

// NewEmitter creates an Emitter with the given buffer size. A nil
// logger falls back to slog.Default.
func NewEmitter(bufferSize int, logger *slog.Logger) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		ch:     make(chan Event, bufferSize),
		logger: logger,
	}
}

// Emit assigns an ID and timestamp and delivers the event without
// blocking. On overflow the oldest buffered event is dropped so the
// consumer always sees the most recent state.
func (e *Emitter) Emit(event Event) {
	event.ID = uuid.NewString()
	event.Timestamp = time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	for {
		select {
		case e.ch <- event:
			return
		default:
		}

		// Buffer full: evict the oldest. The loop retries because the
		// consumer may have drained concurrently.
		select {
		case old := <-e.ch:
			e.dropped++
			e.logger.Warn("event buffer full, dropping oldest",
				slog.String("dropped_kind", string(old.Kind)),
				slog.Int64("total_dropped", e.dropped),
			)
		default:
		}
	}
}

// Log is shorthand for a KindLogLine event.
func (e *Emitter) Log(taskID, payload string) {
	e.Emit(Event{Kind: KindLogLine, TaskID: taskID, Payload: payload})
}

// Events returns the receive side for the presentation layer. The
// consumer polls it on a fixed interval; the channel is closed by Close.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Dropped returns how many events were discarded due to overflow.
func (e *Emitter) Dropped() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close closes the channel. Must be called only after the producing
// worker has joined; later Emit calls are ignored.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
