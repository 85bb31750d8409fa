package debugclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/riverlock/fleetctl/internal/errkind"
)

// TabInfo describes one open tab as reported by the browser's /json/list
// HTTP endpoint - not itself a CDP method, hence the plain net/http client
// rather than a websocket round trip.
type TabInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

var tabsHTTPClient = &http.Client{Timeout: 5 * time.Second}

// ListTabs returns the current tabs open on the browser instance listening
// on port.
func ListTabs(ctx context.Context, port int) ([]TabInfo, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d/json/list", port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errkind.New(errkind.AttachFailed, "", "failed to build list_tabs request", err)
	}

	resp, err := tabsHTTPClient.Do(req)
	if err != nil {
		return nil, errkind.New(errkind.AttachFailed, "", "failed to reach debug port", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errkind.New(errkind.AttachFailed, "", fmt.Sprintf("unexpected status from /json/list: %d", resp.StatusCode), nil)
	}

	var tabs []TabInfo
	if err := json.NewDecoder(resp.Body).Decode(&tabs); err != nil {
		return nil, errkind.New(errkind.AttachFailed, "", "failed to decode tab list", err)
	}

	return tabs, nil
}
