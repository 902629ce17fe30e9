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

import "strings"

// SentinelSet holds the exact completion markers. The upstream tool's
// output format is not under our control, so these come from config.
type SentinelSet struct {
	// TestsWritten marks stage 2 success.
	TestsWritten string

	// Pass terminates stage 3 successfully.
	Pass string

	// Fail is the recognized "failed, retry" marker for stage 3.
	Fail string
}

// Stage3Verdict is the outcome of scanning stage-3 output.
type Stage3Verdict int

const (
	// VerdictPass means the pass marker was found; the task completes.
	VerdictPass Stage3Verdict = iota

	// VerdictFail means the recognized fail marker was found; another
	// attempt is warranted if budget remains.
	VerdictFail

	// VerdictInconclusive means no recognized marker was found. Treated
	// like a failed attempt.
	VerdictInconclusive
)

// Detector decides stage success from captured output.
//
// Matching is exact, case-sensitive substring search over the full
// combined text (stdout and stderr concatenated). No fuzzy matching:
// a tool that almost printed the marker did not print the marker.
type Detector struct {
	set SentinelSet
}

// NewDetector creates a Detector for the given marker set.
func NewDetector(set SentinelSet) *Detector {
	return &Detector{set: set}
}

// TestsWritten reports whether stage-2 output carries its marker.
// Exit codes are irrelevant here: the marker alone decides.
func (d *Detector) TestsWritten(output string) bool {
	return strings.Contains(output, d.set.TestsWritten)
}

// Stage3 scans stage-3 output. The pass marker wins when both appear,
// since the tool prints its final verdict last and a transcript of a
// failing run can quote earlier markers.
func (d *Detector) Stage3(output string) Stage3Verdict {
	// Scan from the end: the verdict is the LAST recognized marker.
	passIdx := strings.LastIndex(output, d.set.Pass)
	failIdx := strings.LastIndex(output, d.set.Fail)

	switch {
	case passIdx < 0 && failIdx < 0:
		return VerdictInconclusive
	case passIdx >= failIdx:
		return VerdictPass
	default:
		return VerdictFail
	}
}

// Marker returns the marker string detected for a stage-3 verdict,
// for recording in StageResult.
func (d *Detector) Marker(v Stage3Verdict) string {
	switch v {
	case VerdictPass:
		return d.set.Pass
	case VerdictFail:
		return d.set.Fail
	default:
		return ""
	}
}
