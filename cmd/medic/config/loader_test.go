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
	"os"
	"path/filepath"
	"testing"
)

// TestLoadFromCreatesDefault verifies first-run default creation.
func TestLoadFromCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".aleutian", "medic.yaml")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatal("config file was not created")
	}
	if cfg.Claude.Binary != "claude" {
		t.Errorf("Claude.Binary = %q, want %q", cfg.Claude.Binary, "claude")
	}
	if cfg.Pipeline.MaxAttempts != 5 {
		t.Errorf("Pipeline.MaxAttempts = %d, want 5", cfg.Pipeline.MaxAttempts)
	}
	if cfg.Sentinels.Pass != "RESULT: PASS" {
		t.Errorf("Sentinels.Pass = %q, want %q", cfg.Sentinels.Pass, "RESULT: PASS")
	}
}

// TestLoadFromPartialFile verifies missing keys fall back to defaults.
func TestLoadFromPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medic.yaml")
	partial := "pipeline:\n  max_attempts: 3\n"
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if cfg.Pipeline.MaxAttempts != 3 {
		t.Errorf("Pipeline.MaxAttempts = %d, want 3", cfg.Pipeline.MaxAttempts)
	}
	if cfg.Sentinels.TestsWritten != "RESULT: TESTS_WRITTEN" {
		t.Errorf("Sentinels.TestsWritten = %q, want default", cfg.Sentinels.TestsWritten)
	}
	if cfg.Claude.TimeoutMinutes != 30 {
		t.Errorf("Claude.TimeoutMinutes = %d, want 30", cfg.Claude.TimeoutMinutes)
	}
}

// TestLoadFromRejectsInvalid verifies validator catches bad values.
func TestLoadFromRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"zero attempts", "pipeline:\n  max_attempts: 0\n"},
		{"empty binary", "claude:\n  binary: \"\"\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"zero timeout", "claude:\n  timeout_minutes: 0\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "medic.yaml")
			if err := os.WriteFile(path, []byte(tc.yaml), 0644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}
			if _, err := LoadFrom(path); err == nil {
				t.Error("LoadFrom() accepted invalid config")
			}
		})
	}
}

// TestStageTimeout verifies the duration conversion.
func TestStageTimeout(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.Claude.StageTimeout().Minutes(); got != 30 {
		t.Errorf("StageTimeout() = %v minutes, want 30", got)
	}
}
