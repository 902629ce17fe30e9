// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/AleutianAI/AleutianMedic/services/pipeline"
)

// taskInput holds the form's bound values.
type taskInput struct {
	projectRoot string
	taskType    string
	description string
}

func (in *taskInput) request() pipeline.SubmitRequest {
	return pipeline.SubmitRequest{
		Type:        pipeline.TaskType(in.taskType),
		Description: strings.TrimSpace(in.description),
		ProjectRoot: strings.TrimSpace(in.projectRoot),
	}
}

// newTaskForm builds the submission form. Validation here is a UX
// convenience; the Manager re-validates on Submit.
func newTaskForm(in *taskInput) *huh.Form {
	if in.taskType == "" {
		in.taskType = string(pipeline.TaskBugFix)
	}
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Project root").
				Description("Directory the claude CLI will operate in").
				Value(&in.projectRoot).
				Validate(validateProjectRoot),
			huh.NewSelect[string]().
				Title("Task type").
				Options(
					huh.NewOption("Bug-fix", string(pipeline.TaskBugFix)),
					huh.NewOption("Feature-test", string(pipeline.TaskFeatureTest)),
				).
				Value(&in.taskType),
			huh.NewText().
				Title("Description").
				Description("What is broken, or what behavior the tests should capture").
				Value(&in.description).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("a description is required")
					}
					return nil
				}),
		),
	)
}

func validateProjectRoot(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("a project root is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("not accessible: %v", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}
	return nil
}
