package snapshot

import (
	"context"
	"time"

	"github.com/riverlock/fleetctl/internal/bundle"
	"github.com/riverlock/fleetctl/internal/domain"
	"github.com/riverlock/fleetctl/internal/errkind"
)

// SessionAdapter is the subset of *adapter.Adapter the Snapshotter depends
// on, kept narrow so this package never imports the adapter's command-mode
// types it doesn't need.
type SessionAdapter interface {
	GetPageState(ctx context.Context) (bundle.PageState, domain.CommandResult)
	SetSymbol(ctx context.Context, symbol string) domain.CommandResult
	SetTradingParams(ctx context.Context, quantity float64, tpTicks, slTicks int) domain.CommandResult
}

// CaptureFromAdapter reads the current page state from adapter and builds a
// Snapshot ready for Store.Capture. It does not persist anything itself.
func CaptureFromAdapter(ctx context.Context, accountName string, adapter SessionAdapter) (domain.Snapshot, error) {
	state, result := adapter.GetPageState(ctx)
	if result.Kind != domain.Verified {
		return domain.Snapshot{}, errkind.New(errkind.DispatchError, accountName, "failed to read page state for snapshot capture", nil)
	}

	return domain.Snapshot{
		AccountName:   accountName,
		Symbol:        state.Symbol,
		Quantity:      state.Quantity,
		TPTicks:       state.TPTicks,
		SLTicks:       state.SLTicks,
		TickSize:      state.TickSize,
		PendingOrders: state.PendingOrders,
		Positions:     state.Positions,
		CapturedAt:    time.Now(),
	}, nil
}

// Restore replays a snapshot's configured trading parameters back into the
// page through the adapter's write operations. It never attempts to
// recreate orders or positions - only UI state - since order recreation is
// the trading application's own responsibility. Both write operations are
// attempted even if the first is rejected, so a partial restore still
// recovers as much UI state as the page will verify.
func Restore(ctx context.Context, snap domain.Snapshot, adapter SessionAdapter) error {
	symbolResult := adapter.SetSymbol(ctx, snap.Symbol)
	paramsResult := adapter.SetTradingParams(ctx, snap.Quantity, snap.TPTicks, snap.SLTicks)

	if symbolResult.Kind != domain.Verified && paramsResult.Kind != domain.Verified {
		return errkind.New(errkind.DispatchError, snap.AccountName, "snapshot restore verified neither symbol nor trading params", nil)
	}
	return nil
}
