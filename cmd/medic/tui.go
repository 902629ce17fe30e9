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
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/AleutianAI/AleutianMedic/pkg/ux"
	"github.com/AleutianAI/AleutianMedic/services/pipeline"
	"github.com/AleutianAI/AleutianMedic/services/pipeline/events"
)

// maxLogLines bounds the in-memory log pane.
const maxLogLines = 500

type uiMode int

const (
	modeDashboard uiMode = iota
	modeForm
)

// tickMsg triggers an event-channel drain.
type tickMsg time.Time

// taskRow is the dashboard's view of one task.
type taskRow struct {
	id      string
	shortID string
	kind    string
	status  string
}

// dashboardModel is the bubbletea model for the main screen.
//
// The model never touches pipeline state directly; everything it shows
// arrives through the event channel, drained on a fixed tick so the UI
// stays responsive regardless of subprocess chatter.
type dashboardModel struct {
	app *app

	mode      uiMode
	spin      spinner.Model
	logView   viewport.Model
	form      *huh.Form
	formInput *taskInput

	rows    []taskRow
	rowByID map[string]int
	logs    []string
	dropped int64

	width  int
	height int
	ready  bool
}

func newDashboardModel(a *app) *dashboardModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = ux.Styles.Running

	return &dashboardModel{
		app:     a,
		spin:    sp,
		rowByID: make(map[string]int),
	}
}

func (m *dashboardModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.tick())
}

func (m *dashboardModel) tick() tea.Cmd {
	return tea.Tick(m.app.cfg.Events.PollInterval(), func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		logHeight := m.height - m.headerHeight() - 2
		if logHeight < 3 {
			logHeight = 3
		}
		if !m.ready {
			m.logView = viewport.New(m.width-4, logHeight)
			m.ready = true
		} else {
			m.logView.Width = m.width - 4
			m.logView.Height = logHeight
		}
		m.refreshLog()

	case tickMsg:
		m.drainEvents()
		return m, m.tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.mode == modeForm {
			return m.updateForm(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "n":
			m.formInput = &taskInput{}
			m.form = newTaskForm(m.formInput)
			m.mode = modeForm
			return m, m.form.Init()
		case "c", "ctrl+x":
			n := m.app.manager.CancelPending()
			m.appendLog(ux.Styles.Warning.Render(fmt.Sprintf("Cancelled %d pending task(s)", n)))
		}
	}

	if m.mode == modeForm {
		return m.updateForm(msg)
	}

	var cmd tea.Cmd
	m.logView, cmd = m.logView.Update(msg)
	return m, cmd
}

func (m *dashboardModel) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "esc" {
		m.mode = modeDashboard
		return m, nil
	}

	next, cmd := m.form.Update(msg)
	if f, ok := next.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.mode = modeDashboard
		if _, err := m.app.manager.Submit(m.formInput.request()); err != nil {
			m.appendLog(ux.Styles.Error.Render("Submit rejected: " + err.Error()))
		}
		return m, cmd
	case huh.StateAborted:
		m.mode = modeDashboard
		return m, cmd
	}
	return m, cmd
}

// drainEvents applies everything currently buffered without blocking.
func (m *dashboardModel) drainEvents() {
	for {
		select {
		case ev, ok := <-m.app.emitter.Events():
			if !ok {
				return
			}
			m.apply(ev)
		default:
			m.dropped = m.app.emitter.Dropped()
			return
		}
	}
}

func (m *dashboardModel) apply(ev events.Event) {
	switch ev.Kind {
	case events.KindTaskEnqueued:
		m.rowByID[ev.TaskID] = len(m.rows)
		m.rows = append(m.rows, taskRow{
			id:      ev.TaskID,
			shortID: shortID(ev.TaskID),
			kind:    ev.Payload,
			status:  ev.Status,
		})
	case events.KindLogLine:
		m.appendLog(ev.Payload)
	default:
		if i, ok := m.rowByID[ev.TaskID]; ok && ev.Status != "" {
			m.rows[i].status = ev.Status
		}
	}
}

func (m *dashboardModel) appendLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
	m.refreshLog()
}

func (m *dashboardModel) refreshLog() {
	if !m.ready {
		return
	}
	m.logView.SetContent(strings.Join(m.logs, "\n"))
	m.logView.GotoBottom()
}

func (m *dashboardModel) headerHeight() int {
	// Banner (2 lines) + blank + task rows + blank + help.
	n := len(m.rows)
	if n > 8 {
		n = 8
	}
	return 5 + n
}

func (m *dashboardModel) View() string {
	if m.mode == modeForm {
		return m.form.View()
	}

	var b strings.Builder
	b.WriteString(ux.Banner(version))
	b.WriteString("\n\n")

	if len(m.rows) == 0 {
		b.WriteString(ux.Styles.Muted.Render("No tasks yet. Press n to submit one."))
		b.WriteString("\n")
	} else {
		// Show the most recent rows that fit the header budget.
		start := 0
		if len(m.rows) > 8 {
			start = len(m.rows) - 8
		}
		for _, row := range m.rows[start:] {
			line := fmt.Sprintf("%s  %-12s  %s", row.shortID, row.kind, ux.StatusBadge(row.status))
			if pipeline.TaskStatus(row.status).Running() {
				line = m.spin.View() + " " + line
			} else {
				line = "  " + line
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")

	if m.ready {
		b.WriteString(ux.Styles.Panel.Render(m.logView.View()))
		b.WriteString("\n")
	}

	help := "n: new task  c: cancel pending  q: quit"
	if m.dropped > 0 {
		help += fmt.Sprintf("  (%d events dropped)", m.dropped)
	}
	b.WriteString(ux.Styles.Help.Render(help))
	return b.String()
}

func shortID(id string) string {
	if len(id) < 8 {
		return id
	}
	return id[:8]
}
