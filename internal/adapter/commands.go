package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/riverlock/fleetctl/internal/bundle"
	"github.com/riverlock/fleetctl/internal/domain"
	"github.com/riverlock/fleetctl/internal/errkind"
)

// ExitMode is one of the symbol exit actions exit() accepts.
type ExitMode string

const (
	ExitFlatten           ExitMode = "flatten"
	ExitCancelWorking     ExitMode = "cancel-working"
	ExitFlattenAndCancel  ExitMode = "flatten-and-cancel"
	ExitReverse           ExitMode = "reverse"
)

var exitModeID = map[ExitMode]int{
	ExitFlatten:          0,
	ExitCancelWorking:    1,
	ExitFlattenAndCancel: 2,
	ExitReverse:          3,
}

// Enter places a bracketed entry (entry + optional target + optional stop).
// Returns Verified only when the bundle's report attributes at least one
// filled/accepted leg to this command.
func (a *Adapter) Enter(ctx context.Context, symbol string, qty float64, side bundle.TradeSide, tpTicks, slTicks int, tickSize float64) domain.CommandResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureReadyLocked(ctx); err != nil {
		return errResult(err)
	}

	expr, err := bundle.BuildAutoTrade(symbol, qty, side, tpTicks, slTicks, tickSize)
	if err != nil {
		return errResult(err)
	}

	raw, err := a.session.Evaluate(ctx, expr, true, singleEntryTimeout)
	if err != nil {
		return mapTransportError(err)
	}

	var result bundle.AutoTradeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return errResult(errkind.New(errkind.DispatchError, a.cfg.AccountName, "failed to decode autoTrade report", err))
	}

	return mapAutoTradeResult(result)
}

// ScaleEnter places each level sequentially and aggregates per-level
// verification: only all verified levels is Verified; a partial fill (some
// but not all levels verified) is Rejected and carries the verified levels'
// orders.
func (a *Adapter) ScaleEnter(ctx context.Context, symbol string, levels []bundle.ScaleLevel, side bundle.TradeSide, tpTicks, slTicks int, tickSize float64) domain.CommandResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(levels) == 0 {
		return domain.CommandResult{Kind: domain.ErrResult, Detail: "scale_enter requires at least one level"}
	}

	if err := a.ensureReadyLocked(ctx); err != nil {
		return errResult(err)
	}

	expr, err := bundle.BuildAutoTradeScale(symbol, levels, side, tpTicks, slTicks, tickSize)
	if err != nil {
		return errResult(err)
	}

	timeout := singleEntryTimeout + time.Duration(len(levels))*perLevelTimeout
	raw, err := a.session.Evaluate(ctx, expr, true, timeout)
	if err != nil {
		return mapTransportError(err)
	}

	var perLevel []bundle.AutoTradeResult
	if err := json.Unmarshal(raw, &perLevel); err != nil {
		return errResult(errkind.New(errkind.DispatchError, a.cfg.AccountName, "failed to decode auto_trade_scale report", err))
	}

	return mapScaleResult(perLevel)
}

// Exit triggers the symbol-specific exit action. Verified when the
// observable open-position delta matches the requested mode within the
// dispatch timeout.
func (a *Adapter) Exit(ctx context.Context, symbol string, mode ExitMode) domain.CommandResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	modeID, ok := exitModeID[mode]
	if !ok {
		return domain.CommandResult{Kind: domain.ErrResult, Detail: fmt.Sprintf("unknown exit mode %q", mode)}
	}

	if err := a.ensureReadyLocked(ctx); err != nil {
		return errResult(err)
	}

	expr, err := bundle.BuildClickExitForSymbol(symbol, modeID)
	if err != nil {
		return errResult(err)
	}

	raw, err := a.session.Evaluate(ctx, expr, true, singleEntryTimeout)
	if err != nil {
		return mapTransportError(err)
	}

	var verified bool
	if err := json.Unmarshal(raw, &verified); err != nil {
		return errResult(errkind.New(errkind.DispatchError, a.cfg.AccountName, "failed to decode exit report", err))
	}
	if !verified {
		return domain.CommandResult{Kind: domain.Rejected, Reason: "exit evidence did not match requested mode"}
	}
	return domain.CommandResult{Kind: domain.Verified}
}

// SetSymbol changes the page's active instrument, verified by reading the
// symbol input back.
func (a *Adapter) SetSymbol(ctx context.Context, symbol string) domain.CommandResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureReadyLocked(ctx); err != nil {
		return errResult(err)
	}

	expr, err := bundle.BuildSetSymbol(symbol)
	if err != nil {
		return errResult(err)
	}

	raw, err := a.session.Evaluate(ctx, expr, false, singleEntryTimeout)
	if err != nil {
		return mapTransportError(err)
	}

	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return errResult(errkind.New(errkind.DispatchError, a.cfg.AccountName, "failed to decode set_symbol report", err))
	}
	if !ok {
		return domain.CommandResult{Kind: domain.Rejected, Reason: "symbol readback did not match"}
	}
	return domain.CommandResult{Kind: domain.Verified}
}

// SetTradingParams replays a snapshot's quantity and bracket distances into
// the page, verified by reading the resulting quantity back.
func (a *Adapter) SetTradingParams(ctx context.Context, quantity float64, tpTicks, slTicks int) domain.CommandResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureReadyLocked(ctx); err != nil {
		return errResult(err)
	}

	expr, err := bundle.BuildSetTradingParams(quantity, tpTicks, slTicks)
	if err != nil {
		return errResult(err)
	}

	raw, err := a.session.Evaluate(ctx, expr, false, singleEntryTimeout)
	if err != nil {
		return mapTransportError(err)
	}

	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return errResult(errkind.New(errkind.DispatchError, a.cfg.AccountName, "failed to decode set_trading_params report", err))
	}
	if !ok {
		return domain.CommandResult{Kind: domain.Rejected, Reason: "trading params readback did not match"}
	}
	return domain.CommandResult{Kind: domain.Verified}
}

// ReadState extracts symbol, quantity, pending orders, and positions.
// Always Verified if readable; Error if the page shape is unrecognizable.
func (a *Adapter) ReadState(ctx context.Context) domain.CommandResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureReadyLocked(ctx); err != nil {
		return errResult(err)
	}
	_, result := a.readStateLocked(ctx)
	return result
}

// GetPageState is ReadState's data-bearing counterpart, used by the State
// Snapshotter to obtain the actual page state rather than just a verdict.
func (a *Adapter) GetPageState(ctx context.Context) (bundle.PageState, domain.CommandResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureReadyLocked(ctx); err != nil {
		return bundle.PageState{}, errResult(err)
	}
	return a.readStateLocked(ctx)
}

// Ping is the Health Watchdog's tab-usable probe: a benign evaluate that
// never touches the bundle contract, only the target tab's document state.
// It does not call ensureReadyLocked - an adapter that isn't attached is
// simply not usable, which is exactly what the caller needs to know.
func (a *Adapter) Ping(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil {
		return errkind.New(errkind.HealthDegraded, a.cfg.AccountName, "no active debug session", nil)
	}

	raw, err := a.session.Evaluate(ctx, "document.readyState", false, 3*time.Second)
	if err != nil {
		return err
	}

	var state string
	if err := json.Unmarshal(raw, &state); err != nil {
		return errkind.New(errkind.HealthDegraded, a.cfg.AccountName, "failed to decode document.readyState", err)
	}
	if state != "complete" {
		return errkind.New(errkind.HealthDegraded, a.cfg.AccountName, fmt.Sprintf("document not ready: %s", state), nil)
	}
	return nil
}

func (a *Adapter) readStateLocked(ctx context.Context) (bundle.PageState, domain.CommandResult) {
	raw, err := a.session.Evaluate(ctx, bundle.BuildGetState(), false, singleEntryTimeout)
	if err != nil {
		return bundle.PageState{}, mapTransportError(err)
	}

	var state bundle.PageState
	if err := json.Unmarshal(raw, &state); err != nil {
		return bundle.PageState{}, domain.CommandResult{Kind: domain.ErrResult, Detail: "page shape unrecognizable: " + err.Error()}
	}

	return state, domain.CommandResult{Kind: domain.Verified}
}

func errResult(err error) domain.CommandResult {
	if errkind.Is(err, errkind.Timeout) {
		return domain.CommandResult{Kind: domain.TimedOut, Detail: err.Error()}
	}
	return domain.CommandResult{Kind: domain.ErrResult, Detail: err.Error()}
}

func mapTransportError(err error) domain.CommandResult {
	return errResult(err)
}

func mapAutoTradeResult(result bundle.AutoTradeResult) domain.CommandResult {
	switch v := result.Success.(type) {
	case bool:
		if v {
			return domain.CommandResult{Kind: domain.Verified, Orders: result.Orders}
		}
		return domain.CommandResult{Kind: domain.Rejected, Reason: result.RejectionReason}
	case string:
		if v == "partial" {
			return domain.CommandResult{Kind: domain.Verified, Orders: result.Orders}
		}
	}
	return domain.CommandResult{Kind: domain.Rejected, Reason: result.RejectionReason}
}

func mapScaleResult(perLevel []bundle.AutoTradeResult) domain.CommandResult {
	var verifiedCount int
	var orders []map[string]any
	for _, level := range perLevel {
		if levelVerified(level) {
			verifiedCount++
			orders = append(orders, level.Orders...)
		}
	}

	switch {
	case verifiedCount == 0:
		return domain.CommandResult{Kind: domain.Rejected, Reason: "no level was verified"}
	case verifiedCount == len(perLevel):
		return domain.CommandResult{Kind: domain.Verified, Orders: orders}
	default:
		return domain.CommandResult{
			Kind:   domain.Rejected,
			Reason: fmt.Sprintf("only %d of %d levels verified", verifiedCount, len(perLevel)),
			Orders: orders,
		}
	}
}

// levelVerified mirrors mapAutoTradeResult's success-value handling so a
// scale level reporting success:"partial" counts the same way a single
// autoTrade call's partial fill does.
func levelVerified(level bundle.AutoTradeResult) bool {
	switch v := level.Success.(type) {
	case bool:
		return v
	case string:
		return v == "partial"
	}
	return false
}

func decodeJSON(raw json.RawMessage, v interface{}) error {
	return json.Unmarshal(raw, v)
}
