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
	"fmt"
	"strings"
)

// Prompts builds the stage prompt text. The marker instructions must
// match the configured sentinels exactly or detection breaks.
type Prompts struct {
	// Sentinels are embedded into the stage 2 and 3 instructions.
	Sentinels SentinelSet

	// TestCommand is the command template the stage-3 prompt instructs
	// the tool to run; {dir} is replaced with the test directory.
	TestCommand string
}

// Stage1 is the read-only scope/analysis prompt.
func (p Prompts) Stage1(projectRoot, description string) string {
	return fmt.Sprintf(`[SYSTEM]
You are an expert codebase investigator. First understand the repository
structure and how the described issue might manifest. Be concise; produce a
focused report and a proposed search plan. Do NOT modify any files in this step.

Task: Understand the scope and narrow the search.
Project root: %s
User description:
%s

Output:
1) Likely impacted modules/packages
2) How components interact with the bug/feature
3) Shortlist of files/functions to inspect next
`, projectRoot, description)
}

// Stage2 instructs the tool to write minimal failing tests under
// testsDir, ending with the tests-written marker on its own line.
func (p Prompts) Stage2(step1Path, testsDir string) string {
	return fmt.Sprintf(`[SYSTEM]
You are a senior test engineer. Generate minimal failing tests that capture the
intended behavior. Keep tests deterministic and small.

Using the analysis from: %s
Write tests ONLY under: %s
- Name files so they are clearly part of this suite.
- Keep each file short and focused.
- If project APIs are unclear, create minimal fakes/mocks.

At the VERY END, print exactly one line:
%s`, step1Path, testsDir, p.Sentinels.TestsWritten)
}

// Stage3 instructs the tool to run the tests and apply minimal fixes.
// From the second attempt on it carries a note that the previous
// attempt did not reach a passing state.
func (p Prompts) Stage3(testsDir, step1Path, step2Path string, attempt, maxAttempts int) string {
	testCmd := strings.ReplaceAll(p.TestCommand, "{dir}", testsDir)

	var retryNote string
	if attempt > 1 {
		retryNote = "\nThe previous attempt ended without a passing result. Re-read the failing output before changing anything else.\n"
	}

	return fmt.Sprintf(`[SYSTEM]
You are a surgical code fixer. Iterate: run tests, propose the smallest change
set, apply, re-run, until green or attempts are exhausted. Avoid irrelevant
edits.
%s
See %s for the analysis.
See %s for the info about the tests written.

Goal: Make the tests in %s pass.
You MUST execute all commands yourself.

Run tests with:
%s

If failing:
- Apply the smallest possible code changes
- Re-run tests
- Repeat until green or attempts exhausted

At the ABSOLUTE END of your output, print exactly ONE line:
%s
or
%s

Attempt %d of %d.`,
		retryNote, step1Path, step2Path, testsDir, testCmd,
		p.Sentinels.Pass, p.Sentinels.Fail, attempt, maxAttempts)
}
