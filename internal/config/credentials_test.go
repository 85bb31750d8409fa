package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAccountRoster_ReturnsSortedNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"acct-b": {"token":"x"}, "acct-a": {"token":"y"}}`), 0o600))

	names, err := LoadAccountRoster(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"acct-a", "acct-b"}, names)
}

func TestLoadAccountRoster_MissingFileErrors(t *testing.T) {
	_, err := LoadAccountRoster(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadAccountRoster_MalformedJSONErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := LoadAccountRoster(path)
	assert.Error(t, err)
}

func TestLoadAccountRoster_EmptyObjectErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	_, err := LoadAccountRoster(path)
	assert.Error(t, err)
}
