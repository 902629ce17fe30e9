// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package claude wraps the external claude CLI behind a small
// capability interface.
//
// The pipeline never talks to the tool directly; it depends on Invoker
// so tests substitute a scripted fake without spawning processes. The
// only observable contract with the real tool is its exit code and
// combined stdout/stderr text.
package claude

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Package-level errors distinguishing the failure taxonomy. A non-zero
// exit is NOT an error here: the Result carries the code and the stage
// logic decides what it means.
var (
	// ErrLaunch means the process could not be started at all
	// (executable missing, permission denied).
	ErrLaunch = errors.New("claude: failed to launch")

	// ErrTimeout means the invocation exceeded its deadline and the
	// process was killed.
	ErrTimeout = errors.New("claude: invocation timed out")

	// ErrIO means output capture failed mid-run. Fatal to the task.
	ErrIO = errors.New("claude: i/o failure")
)

// Request describes a single invocation of the tool.
type Request struct {
	// WorkDir is the working directory, normally the task's project root.
	WorkDir string

	// Prompt is the full prompt text, passed as the sole positional
	// argument and mirrored on stdin for shells that truncate argv.
	Prompt string
}

// Result is the outcome of one invocation.
//
// Result structs are immutable after creation.
type Result struct {
	// Output is stdout and stderr concatenated, in that order.
	Output string

	// Stdout and Stderr are the individual streams, kept for artifacts.
	Stdout string
	Stderr string

	// ExitCode is the process exit code; -1 when the process was
	// killed or never ran.
	ExitCode int

	// Elapsed is wall time for the invocation.
	Elapsed time.Duration

	// TimedOut is true when the deadline killed the process.
	TimedOut bool

	// Truncated is true when either stream hit the capture limit.
	Truncated bool
}

// Invoker is the subprocess capability the pipeline depends on.
type Invoker interface {
	// Invoke runs the tool to completion and returns the captured
	// outcome. Launch failures, timeouts, and I/O errors come back as
	// wrapped ErrLaunch/ErrTimeout/ErrIO; a non-zero exit does not.
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// Config configures a Client.
type Config struct {
	// Binary is the executable name or path.
	Binary string

	// SkipPermissionsFlag is prepended to every invocation.
	SkipPermissionsFlag string

	// Timeout bounds a single invocation.
	Timeout time.Duration

	// MaxOutputBytes caps each captured stream.
	MaxOutputBytes int
}

// Client invokes the real claude CLI.
//
// Thread Safety: safe for concurrent use; each invocation creates its
// own process. The pipeline only ever runs one at a time regardless.
type Client struct {
	cfg    Config
	logger *slog.Logger
}

// NewClient creates a Client. A nil logger falls back to slog.Default.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.MaxOutputBytes == 0 {
		cfg.MaxOutputBytes = 4 << 20
	}
	return &Client{cfg: cfg, logger: logger}
}

// Invoke implements Invoker against the real CLI.
//
// Description:
//
//	Spawns `<binary> <skip-permissions-flag> "<prompt>"` with the
//	working directory set to req.WorkDir, streams both outputs into
//	size-limited buffers, and waits for exit or deadline.
//
// Thread Safety: safe for concurrent use.
func (c *Client) Invoke(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.cfg.Binary, c.cfg.SkipPermissionsFlag, req.Prompt)
	cmd.Dir = req.WorkDir
	cmd.Stdin = strings.NewReader(req.Prompt)

	var stdout, stderr bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdout, limit: c.cfg.MaxOutputBytes}
	stderrLimited := &limitedWriter{w: &stderr, limit: c.cfg.MaxOutputBytes}
	cmd.Stdout = stdoutLimited
	cmd.Stderr = stderrLimited

	c.logger.Debug("Invoking claude",
		slog.String("binary", c.cfg.Binary),
		slog.String("workdir", req.WorkDir),
		slog.Int("prompt_len", len(req.Prompt)),
		slog.Duration("timeout", c.cfg.Timeout),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	err := cmd.Wait()
	elapsed := time.Since(start)

	result := &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Output:    stdout.String() + stderr.String(),
		Elapsed:   elapsed,
		Truncated: stdoutLimited.truncated || stderrLimited.truncated,
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		c.logger.Warn("Claude invocation timed out",
			slog.Duration("timeout", c.cfg.Timeout),
			slog.Int("output_bytes", len(result.Output)),
		)
		return result, fmt.Errorf("%w after %s", ErrTimeout, c.cfg.Timeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			return result, fmt.Errorf("%w: %v", ErrIO, err)
		}
	}

	c.logger.Info("Claude invocation finished",
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("elapsed", elapsed),
		slog.Int("output_bytes", len(result.Output)),
		slog.Bool("truncated", result.Truncated),
	)

	return result, nil
}

var _ Invoker = (*Client)(nil)

// limitedWriter wraps a writer with a size limit, silently discarding
// the overflow so a chatty tool cannot exhaust memory.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	orig := len(p)
	if lw.written >= lw.limit {
		lw.truncated = true
		return orig, nil
	}

	remaining := lw.limit - lw.written
	if len(p) > remaining {
		p = p[:remaining]
		lw.truncated = true
	}

	n, err = lw.w.Write(p)
	lw.written += n
	// Report the original length so the copier does not treat the
	// truncation as a short write.
	return orig, err
}
