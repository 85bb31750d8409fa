package snapshot

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverlock/fleetctl/internal/domain"
)

func TestStore_CaptureAndLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil, zerolog.Nop())

	snap := domain.Snapshot{
		AccountName: "acct-1",
		Symbol:      "ES",
		Quantity:    2,
		TPTicks:     10,
		SLTicks:     8,
		TickSize:    0.25,
		CapturedAt:  time.Now().Truncate(time.Second),
	}

	require.NoError(t, store.Capture(nil, snap))

	loaded, ok, err := store.Load("acct-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.Symbol, loaded.Symbol)
	assert.Equal(t, snap.Quantity, loaded.Quantity)
	assert.Equal(t, snap.TPTicks, loaded.TPTicks)
}

func TestStore_Load_MissingFileReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil, zerolog.Nop())

	_, ok, err := store.Load("nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Capture_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil, zerolog.Nop())

	snap := domain.Snapshot{AccountName: "acct-2", Symbol: "NQ", CapturedAt: time.Now()}
	require.NoError(t, store.Capture(nil, snap))

	dirEntries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, len(dirEntries))
	for i, e := range dirEntries {
		names[i] = e.Name()
	}
	assert.Equal(t, []string{"acct-2.state.json"}, names)
}
