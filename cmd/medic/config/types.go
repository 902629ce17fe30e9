// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"
)

// MedicConfig is the root configuration for the medic shell.
//
// The upstream CLI's output format is not under our control, so the
// sentinel strings are configuration rather than hardcoded literals.
type MedicConfig struct {
	// Claude configures the external CLI invocation.
	Claude ClaudeConfig `yaml:"claude"`

	// Pipeline configures the three-stage runner.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Sentinels are the exact, case-sensitive completion markers
	// searched for in captured output.
	Sentinels SentinelConfig `yaml:"sentinels"`

	// Events configures the worker-to-UI channel.
	Events EventConfig `yaml:"events"`

	// History configures the local task history store.
	History HistoryConfig `yaml:"history"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

type ClaudeConfig struct {
	// Binary is the claude executable name or absolute path.
	Binary string `yaml:"binary" validate:"required"`

	// SkipPermissionsFlag is passed on every invocation. The pipeline
	// is useless without it: every stage needs file access.
	SkipPermissionsFlag string `yaml:"skip_permissions_flag" validate:"required"`

	// TimeoutMinutes bounds a single invocation, not a whole task.
	TimeoutMinutes int `yaml:"timeout_minutes" validate:"min=1"`

	// MaxOutputBytes caps captured stdout/stderr per invocation.
	MaxOutputBytes int `yaml:"max_output_bytes" validate:"min=1024"`
}

type PipelineConfig struct {
	// MaxAttempts is the stage-3 retry budget.
	MaxAttempts int `yaml:"max_attempts" validate:"min=1,max=20"`

	// TestDirName is the conventional subdirectory for generated tests,
	// relative to the task's project root.
	TestDirName string `yaml:"test_dir_name" validate:"required"`

	// ArtifactsDirName is the per-project directory holding task
	// artifact folders, relative to the project root.
	ArtifactsDirName string `yaml:"artifacts_dir_name" validate:"required"`

	// TestCommand is the command the stage-3 prompt instructs the tool
	// to run; {dir} is replaced with the test directory path.
	TestCommand string `yaml:"test_command" validate:"required"`
}

type SentinelConfig struct {
	// TestsWritten marks stage 2 success.
	TestsWritten string `yaml:"tests_written" validate:"required"`

	// Pass terminates stage 3 successfully.
	Pass string `yaml:"pass" validate:"required"`

	// Fail is the recognized "failed, another attempt" marker.
	Fail string `yaml:"fail" validate:"required"`
}

type EventConfig struct {
	// BufferSize bounds the UI event channel. Sends never block; on
	// overflow the oldest event is dropped and counted.
	BufferSize int `yaml:"buffer_size" validate:"min=16"`

	// PollIntervalMillis is how often the shell drains the channel.
	PollIntervalMillis int `yaml:"poll_interval_millis" validate:"min=10"`
}

type HistoryConfig struct {
	// Enabled toggles the Badger-backed history store.
	Enabled bool `yaml:"enabled"`

	// Path is the Badger directory. Supports ~ expansion.
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Dir enables file logging when set. Supports ~ expansion.
	Dir string `yaml:"dir"`
}

// StageTimeout returns the per-invocation timeout as a Duration.
func (c ClaudeConfig) StageTimeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// PollInterval returns the UI poll interval as a Duration.
func (c EventConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// DefaultConfig returns the defaults written on first run.
//
// The sentinel defaults match what the stage prompts instruct the tool
// to print; changing one side without the other breaks detection.
func DefaultConfig() MedicConfig {
	return MedicConfig{
		Claude: ClaudeConfig{
			Binary:              "claude",
			SkipPermissionsFlag: "--dangerously-skip-permissions",
			TimeoutMinutes:      30,
			MaxOutputBytes:      4 << 20,
		},
		Pipeline: PipelineConfig{
			MaxAttempts:      5,
			TestDirName:      "test_bugfix",
			ArtifactsDirName: ".claude_tasks",
			TestCommand:      `python -m pytest "{dir}" -q`,
		},
		Sentinels: SentinelConfig{
			TestsWritten: "RESULT: TESTS_WRITTEN",
			Pass:         "RESULT: PASS",
			Fail:         "RESULT: FAIL",
		},
		Events: EventConfig{
			BufferSize:         1024,
			PollIntervalMillis: 100,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "~/.aleutian/medic/history",
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.aleutian/medic/logs",
		},
	}
}
