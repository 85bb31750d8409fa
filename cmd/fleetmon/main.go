// Package main is fleetmon, a terminal dashboard for the fleet orchestrator.
// It polls the dashboard API for the current account table and tails the
// live event feed so an operator can watch the fleet from a terminal
// without opening a browser.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/riverlock/fleetctl/internal/tui"
)

func main() {
	apiURL := flag.String("api-url", "http://localhost:8080", "dashboard API URL")
	flag.Parse()

	client := tui.NewClient(*apiURL)
	m := tui.NewModel(client, *apiURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tui.StartEventStream(ctx, client, m.EventChannel())

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
