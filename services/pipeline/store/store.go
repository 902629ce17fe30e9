// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists finished tasks in an embedded BadgerDB so the
// history view survives restarts.
//
// Records are compact summaries, not full transcripts; the raw stage
// output lives in the per-project artifact files.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianMedic/services/pipeline"
)

// keyPrefix namespaces task records; keys sort by creation time so a
// reverse iteration yields newest-first.
const keyPrefix = "task:"

// TaskRecord is the persisted summary of one finished task.
type TaskRecord struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Description   string    `json:"description"`
	ProjectRoot   string    `json:"project_root"`
	Status        string    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`

	// FixAttempts is how many stage-3 invocations ran.
	FixAttempts int `json:"fix_attempts"`
}

// Config holds configuration for the history database.
type Config struct {
	// Path is the directory for database files. Required unless
	// InMemory is true.
	Path string

	// InMemory enables in-memory mode. Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. If nil, that
	// logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production settings for the given path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns settings for testing: no disk I/O.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is the task history database.
//
// Thread Safety: safe for concurrent use; BadgerDB handles its own
// transaction isolation.
type Store struct {
	db *badger.DB
}

// Open opens the history database, creating the directory if needed.
// Caller must call Close when done.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent history")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create history directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	return &Store{db: db}, nil
}

// Record persists a summary of the task. Implements pipeline.Store.
func (s *Store) Record(task *pipeline.Task) error {
	rec := summarize(task)

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal task record: %w", err)
	}
	key := recordKey(rec)

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("write task record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	records := make([]TaskRecord, 0, limit)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration must seek past the prefix range first.
		seek := append([]byte(keyPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix([]byte(keyPrefix)) && len(records) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec TaskRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("decode task record %s: %w", it.Item().Key(), err)
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(rec TaskRecord) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", keyPrefix, rec.CreatedAt.UnixNano(), rec.ID))
}

func summarize(task *pipeline.Task) TaskRecord {
	attempts := 0
	for _, sr := range task.Stages {
		if sr.Stage == 3 {
			attempts++
		}
	}
	return TaskRecord{
		ID:            task.ID.String(),
		Type:          string(task.Type),
		Description:   task.Description,
		ProjectRoot:   task.ProjectRoot,
		Status:        string(task.Status),
		FailureReason: task.FailureReason,
		CreatedAt:     task.CreatedAt,
		StartedAt:     task.StartedAt,
		FinishedAt:    task.FinishedAt,
		FixAttempts:   attempts,
	}
}
