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
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianMedic/cmd/medic/config"
	"github.com/AleutianAI/AleutianMedic/pkg/ux"
	"github.com/AleutianAI/AleutianMedic/services/pipeline"
	"github.com/AleutianAI/AleutianMedic/services/pipeline/events"
	"github.com/AleutianAI/AleutianMedic/services/pipeline/store"
)

var (
	cfgPath string
	cfg     config.MedicConfig
)

var rootCmd = &cobra.Command{
	Use:     "medic",
	Short:   "Drive claude through analyze, test, and fix stages",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgPath == "" {
			var err error
			cfgPath, err = config.DefaultPath()
			if err != nil {
				return err
			}
		}
		var err error
		cfg, err = config.LoadFrom(cfgPath)
		return err
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isatty.IsTerminal(os.Stdout.Fd()) {
			return fmt.Errorf("the dashboard needs a terminal; use `medic submit` for non-interactive runs")
		}
		return runDashboard()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the interactive dashboard (same as running medic with no arguments)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return rootCmd.RunE(cmd, args)
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Run a single task without the dashboard",
	Long: "Submits one task, streams its progress to stdout, and exits " +
		"non-zero if the task fails. Meant for scripting and CI.",
	RunE: runSubmit,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently finished tasks",
	RunE:  runHistory,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the medic configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration, overwriting any existing file",
	// Skip the root's config load: init must work with a broken file.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if path == "" {
			var err error
			path, err = config.DefaultPath()
			if err != nil {
				return err
			}
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return nil
	},
}

var (
	submitProject string
	submitType    string
	submitDesc    string
	historyLimit  int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.aleutian/medic.yaml)")

	submitCmd.Flags().StringVarP(&submitProject, "project", "p", "", "project root directory (required)")
	submitCmd.Flags().StringVarP(&submitType, "type", "t", string(pipeline.TaskBugFix), "task type: Bug-fix or Feature-test")
	submitCmd.Flags().StringVarP(&submitDesc, "description", "d", "", "what to fix or build (required)")
	submitCmd.MarkFlagRequired("project")
	submitCmd.MarkFlagRequired("description")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum records to show")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(runCmd, submitCmd, historyCmd, configCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	task, err := a.manager.Submit(pipeline.SubmitRequest{
		Type:        pipeline.TaskType(submitType),
		Description: submitDesc,
		ProjectRoot: submitProject,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Submitted task %s\n", task.ShortID())

	for {
		select {
		case <-ctx.Done():
			a.manager.CancelPending()
			return fmt.Errorf("interrupted")
		case ev, ok := <-a.emitter.Events():
			if !ok {
				return fmt.Errorf("pipeline stopped before the task finished")
			}
			if ev.Kind == events.KindLogLine {
				fmt.Println(ev.Payload)
			}
			if ev.TaskID != task.ID.String() {
				continue
			}
			switch ev.Kind {
			case events.KindTaskCompleted:
				fmt.Println(ux.StatusBadge(string(pipeline.StatusCompleted)))
				return nil
			case events.KindTaskFailed:
				fmt.Println(ux.StatusBadge(string(pipeline.StatusFailed)))
				return fmt.Errorf("task failed: %s", ev.Payload)
			}
		}
	}
}

func runHistory(cmd *cobra.Command, args []string) error {
	if !cfg.History.Enabled {
		return fmt.Errorf("history is disabled in the config")
	}
	s, err := store.Open(store.Config{Path: expandPath(cfg.History.Path)})
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := s.Recent(historyLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println(ux.Styles.Muted.Render("No finished tasks yet."))
		return nil
	}

	for _, rec := range records {
		line := fmt.Sprintf("%s  %-12s  %s  %s",
			rec.FinishedAt.Format("2006-01-02 15:04"),
			rec.Type,
			ux.StatusBadge(rec.Status),
			truncate(rec.Description, 60),
		)
		fmt.Println(line)
		if rec.FailureReason != "" {
			fmt.Println(ux.Styles.Muted.Render("    " + rec.FailureReason))
		}
	}
	return nil
}

func runDashboard() error {
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	m := newDashboardModel(a)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
