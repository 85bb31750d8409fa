package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate_AllVerified(t *testing.T) {
	record := CommandRecord{
		PerAccountResults: map[string]CommandResult{
			"acct-1": {Kind: Verified, Orders: []map[string]any{{"id": "1"}}},
		},
	}

	got := record.Aggregate()
	assert.True(t, got.Success)
	require.Len(t, got.Verified, 1)
	assert.Equal(t, "acct-1", got.Verified[0].Account)
	assert.Empty(t, got.Failed)
}

func TestAggregate_MixedResultsSplitsVerifiedAndFailed(t *testing.T) {
	record := CommandRecord{
		PerAccountResults: map[string]CommandResult{
			"acct-1": {Kind: Verified, Orders: []map[string]any{{"id": "1"}}},
			"acct-2": {Kind: Rejected, Reason: "margin insufficient"},
			"acct-3": {Kind: TimedOut, Detail: "evaluate timed out"},
			"acct-4": {Kind: ErrResult, Detail: "transport closed"},
		},
	}

	got := record.Aggregate()
	assert.False(t, got.Success)
	require.Len(t, got.Verified, 1)
	require.Len(t, got.Failed, 3)

	byAccount := make(map[string]FailedAccount, len(got.Failed))
	for _, f := range got.Failed {
		byAccount[f.Account] = f
	}
	assert.Equal(t, "rejected", byAccount["acct-2"].Error)
	assert.Equal(t, "margin insufficient", byAccount["acct-2"].Details)
	assert.Equal(t, "timeout", byAccount["acct-3"].Error)
	assert.Equal(t, "error", byAccount["acct-4"].Error)
}

func TestAggregate_AccountsAreSorted(t *testing.T) {
	record := CommandRecord{
		PerAccountResults: map[string]CommandResult{
			"zz-acct": {Kind: Verified},
			"aa-acct": {Kind: Verified},
		},
	}

	got := record.Aggregate()
	require.Len(t, got.Verified, 2)
	assert.Equal(t, "aa-acct", got.Verified[0].Account)
	assert.Equal(t, "zz-acct", got.Verified[1].Account)
}

func TestAllTimedOut(t *testing.T) {
	allTimeout := CommandRecord{PerAccountResults: map[string]CommandResult{
		"acct-1": {Kind: TimedOut},
		"acct-2": {Kind: TimedOut},
	}}
	assert.True(t, allTimeout.AllTimedOut())

	mixed := CommandRecord{PerAccountResults: map[string]CommandResult{
		"acct-1": {Kind: TimedOut},
		"acct-2": {Kind: Verified},
	}}
	assert.False(t, mixed.AllTimedOut())

	assert.False(t, CommandRecord{}.AllTimedOut())
}

func TestSingleAccountRecord_AggregatesAsOneEntry(t *testing.T) {
	record := SingleAccountRecord("cmd-1", "enter", "acct-1", map[string]any{"symbol": "NQ"}, CommandResult{Kind: Verified})
	got := record.Aggregate()
	assert.True(t, got.Success)
	assert.Len(t, got.Verified, 1)
}
