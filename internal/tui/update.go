package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport = viewport.New(m.width, m.height-3)
		m.ready = true
		m.rebuildTable()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			cmds = append(cmds, fetchHealth(m.client), fetchAccounts(m.client))
		case key.Matches(msg, keys.Log):
			m.showLog = !m.showLog
		case key.Matches(msg, keys.Back):
			m.showLog = false
		}

	case healthMsg:
		m.connected = msg.err == nil

	case accountsMsg:
		if msg.err == nil {
			sortAccounts(msg.accounts)
			m.accounts = msg.accounts
			m.rebuildTable()
		}

	case eventMsg:
		m.logLines = append(m.logLines, formatEvent(msg))
		if len(m.logLines) > 500 {
			m.logLines = m.logLines[len(m.logLines)-500:]
		}
		m.viewport.SetContent(strings.Join(m.logLines, "\n"))
		m.viewport.GotoBottom()
		cmds = append(cmds, waitForEvent(m.eventCh))

	case tickMsg:
		cmds = append(cmds, fetchHealth(m.client), fetchAccounts(m.client), tickCmd())
	}

	if m.showLog {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	} else {
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func formatEvent(e eventMsg) string {
	return fmt.Sprintf("%s  %-20s  %v", e.Timestamp.Format("15:04:05"), e.Type, e.Data)
}

func (m *Model) rebuildTable() {
	columns := []table.Column{
		{Title: "Account", Width: 20},
		{Title: "State", Width: 12},
		{Title: "Port", Width: 6},
		{Title: "Failures", Width: 9},
		{Title: "Restarts", Width: 9},
		{Title: "Last Healthy", Width: 20},
	}

	var rows []table.Row
	for _, a := range m.accounts {
		lastHealthy := "-"
		if !a.LastHealthyAt.IsZero() {
			lastHealthy = a.LastHealthyAt.Format("15:04:05")
		}
		rows = append(rows, table.Row{
			a.AccountName,
			string(a.State),
			fmt.Sprintf("%d", a.Port),
			fmt.Sprintf("%d", a.ConsecutiveFailures),
			fmt.Sprintf("%d", a.RestartAttempts),
			lastHealthy,
		})
	}

	h := m.height - 4
	if h < 5 {
		h = 5
	}
	m.table = table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(h),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true)
	m.table.SetStyles(s)
}
