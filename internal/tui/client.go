package tui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/riverlock/fleetctl/internal/domain"
	"github.com/riverlock/fleetctl/internal/events"
)

// Client talks to a running dashboard API over plain HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client against the dashboard API at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Health reports whether the dashboard API is reachable.
func (c *Client) Health() error {
	resp, err := c.http.Get(c.baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %s", resp.Status)
	}
	return nil
}

// Accounts fetches the current fleet snapshot.
func (c *Client) Accounts() ([]domain.InstanceView, error) {
	resp, err := c.http.Get(c.baseURL + "/api/accounts")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("accounts request returned %s", resp.Status)
	}

	var views []domain.InstanceView
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		return nil, fmt.Errorf("decoding accounts response: %w", err)
	}
	return views, nil
}

// StreamEvents subscribes to the dashboard's server-sent event feed and
// pushes each decoded event onto ch until ctx is cancelled or the
// connection drops. The caller owns ch and should treat a closed channel
// as the stream having ended.
func (c *Client) StreamEvents(ctx context.Context, ch chan<- events.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var evt events.Event
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			continue
		}
		select {
		case ch <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}
