package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/riverlock/fleetctl/internal/errkind"
)

// LoadAccountRoster reads the credentials file at path and returns the
// sorted set of account names it declares. Credential storage format is
// opaque to the core (left free, per the orchestrator's own scope), so the
// file is only ever read as a JSON object keyed by account_name - the
// values are never inspected here.
func LoadAccountRoster(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.New(errkind.ConfigInvalid, "", fmt.Sprintf("failed to read credentials file %q", path), err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errkind.New(errkind.ConfigInvalid, "", fmt.Sprintf("credentials file %q is not a JSON object keyed by account_name", path), err)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		return nil, errkind.New(errkind.ConfigInvalid, "", "credentials file declares no accounts", nil)
	}
	return names, nil
}
