// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal styling for the medic shell.
package ux

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text
	ColorWarning     = lipgloss.Color("#F4D03F")
	ColorError       = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles for the shell.
var Styles = struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Running  lipgloss.Style
	Panel    lipgloss.Style
	Help     lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
	Subtitle: lipgloss.NewStyle().Foreground(ColorTealDeep),
	Muted:    lipgloss.NewStyle().Foreground(ColorSlate),
	Success:  lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Warning:  lipgloss.NewStyle().Foreground(ColorWarning),
	Error:    lipgloss.NewStyle().Bold(true).Foreground(ColorError),
	Running:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Panel: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	Help: lipgloss.NewStyle().Foreground(ColorSlate),
}

// StatusBadge renders a task status with its conventional color.
func StatusBadge(status string) string {
	switch status {
	case "COMPLETED":
		return Styles.Success.Render("✓ " + status)
	case "FAILED":
		return Styles.Error.Render("✗ " + status)
	case "ENQUEUED":
		return Styles.Muted.Render("• " + status)
	default:
		// Any RUNNING_* stage.
		return Styles.Running.Render("▸ " + status)
	}
}

// Banner returns the startup banner shown above the dashboard.
func Banner(version string) string {
	title := Styles.Title.Render("medic")
	sub := Styles.Subtitle.Render("three-stage code repair, driven by the claude CLI")
	ver := Styles.Muted.Render(fmt.Sprintf("v%s", version))
	return fmt.Sprintf("%s %s\n%s", title, ver, sub)
}
