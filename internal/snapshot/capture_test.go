package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverlock/fleetctl/internal/bundle"
	"github.com/riverlock/fleetctl/internal/domain"
)

type fakeAdapter struct {
	state          bundle.PageState
	stateResult    domain.CommandResult
	setSymbolOK    bool
	setParamsOK    bool
	lastSymbol     string
	lastQty        float64
	lastTP, lastSL int
}

func (f *fakeAdapter) GetPageState(ctx context.Context) (bundle.PageState, domain.CommandResult) {
	return f.state, f.stateResult
}

func (f *fakeAdapter) SetSymbol(ctx context.Context, symbol string) domain.CommandResult {
	f.lastSymbol = symbol
	if f.setSymbolOK {
		return domain.CommandResult{Kind: domain.Verified}
	}
	return domain.CommandResult{Kind: domain.Rejected, Reason: "readback mismatch"}
}

func (f *fakeAdapter) SetTradingParams(ctx context.Context, quantity float64, tpTicks, slTicks int) domain.CommandResult {
	f.lastQty, f.lastTP, f.lastSL = quantity, tpTicks, slTicks
	if f.setParamsOK {
		return domain.CommandResult{Kind: domain.Verified}
	}
	return domain.CommandResult{Kind: domain.Rejected, Reason: "readback mismatch"}
}

func TestCaptureFromAdapter_Success(t *testing.T) {
	fa := &fakeAdapter{
		state: bundle.PageState{
			Symbol: "ES", Quantity: 3, TPTicks: 10, SLTicks: 8, TickSize: 0.25,
		},
		stateResult: domain.CommandResult{Kind: domain.Verified},
	}

	snap, err := CaptureFromAdapter(context.Background(), "acct-1", fa)
	require.NoError(t, err)
	assert.Equal(t, "ES", snap.Symbol)
	assert.Equal(t, 3.0, snap.Quantity)
	assert.Equal(t, 10, snap.TPTicks)
}

func TestCaptureFromAdapter_UnverifiedStateErrors(t *testing.T) {
	fa := &fakeAdapter{stateResult: domain.CommandResult{Kind: domain.ErrResult, Detail: "unreadable"}}

	_, err := CaptureFromAdapter(context.Background(), "acct-1", fa)
	assert.Error(t, err)
}

func TestRestore_BothVerified(t *testing.T) {
	fa := &fakeAdapter{setSymbolOK: true, setParamsOK: true}
	snap := domain.Snapshot{AccountName: "acct-1", Symbol: "NQ", Quantity: 2, TPTicks: 12, SLTicks: 6}

	err := Restore(context.Background(), snap, fa)
	require.NoError(t, err)
	assert.Equal(t, "NQ", fa.lastSymbol)
	assert.Equal(t, 2.0, fa.lastQty)
}

func TestRestore_PartialSuccessStillSucceeds(t *testing.T) {
	fa := &fakeAdapter{setSymbolOK: true, setParamsOK: false}
	snap := domain.Snapshot{AccountName: "acct-1", Symbol: "NQ"}

	err := Restore(context.Background(), snap, fa)
	assert.NoError(t, err)
}

func TestRestore_BothRejectedErrors(t *testing.T) {
	fa := &fakeAdapter{setSymbolOK: false, setParamsOK: false}
	snap := domain.Snapshot{AccountName: "acct-1", Symbol: "NQ"}

	err := Restore(context.Background(), snap, fa)
	assert.Error(t, err)
}
