package tui

import (
	"context"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/riverlock/fleetctl/internal/domain"
	"github.com/riverlock/fleetctl/internal/events"
)

const pollInterval = 3 * time.Second

// Model is the fleet monitor's Bubble Tea root model: a live table of
// managed instances plus a scrollable feed of watchdog/dispatch events.
type Model struct {
	client *Client
	apiURL string

	connected bool
	accounts  []domain.InstanceView
	logLines  []string

	showLog bool
	width   int
	height  int
	ready   bool

	viewport viewport.Model
	table    table.Model

	eventCh chan events.Event
}

type accountsMsg struct {
	accounts []domain.InstanceView
	err      error
}

type healthMsg struct {
	err error
}

// eventMsg wraps one decoded event arriving from the dashboard's SSE feed.
type eventMsg events.Event

func NewModel(client *Client, apiURL string) Model {
	return Model{
		client:  client,
		apiURL:  apiURL,
		eventCh: make(chan events.Event, 64),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(fetchHealth(m.client), fetchAccounts(m.client), waitForEvent(m.eventCh), tickCmd())
}

// EventChannel exposes the channel StartEventStream should feed. The
// channel is created once in NewModel and never replaced, so it is safe
// to read before the Bubble Tea program starts.
func (m Model) EventChannel() chan events.Event {
	return m.eventCh
}

func fetchHealth(c *Client) tea.Cmd {
	return func() tea.Msg {
		return healthMsg{err: c.Health()}
	}
}

func fetchAccounts(c *Client) tea.Cmd {
	return func() tea.Msg {
		accounts, err := c.Accounts()
		return accountsMsg{accounts: accounts, err: err}
	}
}

// waitForEvent blocks for exactly one event from the background SSE
// subscription and turns it into a tea.Msg. StartEventStream keeps
// refilling the channel for as long as the program runs.
func waitForEvent(ch chan events.Event) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(evt)
	}
}

// StartEventStream launches the SSE subscription in the background,
// outside the normal Bubble Tea command lifecycle, so reconnects don't
// depend on the model being re-rendered. Call once before starting the
// program; it reconnects on its own for as long as ctx is live.
func StartEventStream(ctx context.Context, client *Client, ch chan events.Event) {
	go func() {
		for {
			if err := client.StreamEvents(ctx, ch); err != nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(2 * time.Second):
				}
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}()
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func sortAccounts(accounts []domain.InstanceView) {
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountName < accounts[j].AccountName
	})
}
