package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorSurface = lipgloss.Color("#1a1a2e")
	colorText    = lipgloss.Color("#ffffff")
	colorGood    = lipgloss.Color("#00ff88")
	colorBad     = lipgloss.Color("#ff4444")
)

func (m Model) View() string {
	if !m.ready {
		return "\n  Loading...\n"
	}
	status := m.viewStatusBar()
	footer := m.viewFooter()

	var body string
	if m.showLog {
		body = m.viewport.View()
	} else {
		body = m.table.View()
	}

	return lipgloss.JoinVertical(lipgloss.Left, status, body, footer)
}

func (m Model) viewStatusBar() string {
	bar := lipgloss.NewStyle().
		Width(m.width).
		Background(colorSurface).
		Foreground(colorText).
		Padding(0, 1)

	dot := lipgloss.NewStyle().Foreground(colorGood).Render("●")
	status := "CONNECTED"
	if !m.connected {
		dot = lipgloss.NewStyle().Foreground(colorBad).Render("●")
		status = "DISCONNECTED"
	}

	return bar.Render(fmt.Sprintf(
		" %s FLEETMON  │  %s  │  %d accounts  │  %s",
		dot, status, len(m.accounts), m.apiURL,
	))
}

func (m Model) viewFooter() string {
	return lipgloss.NewStyle().
		Width(m.width).
		Background(colorSurface).
		Foreground(colorText).
		Padding(0, 1).
		Render("q: Quit  r: Refresh  l: Event log  esc: Back  ↑↓: Navigate")
}
