package fleet

import (
	"context"
	"fmt"

	"github.com/riverlock/fleetctl/internal/adapter"
	"github.com/riverlock/fleetctl/internal/bundle"
	"github.com/riverlock/fleetctl/internal/domain"
)

// These helpers translate the loosely-typed args map accepted by
// CallOne/CallAll into the adapter's strongly-typed command API. A missing
// or wrong-typed required field is an ErrResult, never a panic - malformed
// intents must fail per-account, not take down the dispatch goroutine.

func (c *Controller) dispatchEnter(ctx context.Context, adp CommandAdapter, args map[string]any) domain.CommandResult {
	symbol, ok := stringArg(args, "symbol")
	if !ok {
		return missingArg("symbol")
	}
	qty, ok := floatArg(args, "qty")
	if !ok {
		return missingArg("qty")
	}
	side, ok := sideArg(args, "side")
	if !ok {
		return missingArg("side")
	}
	tpTicks, _ := intArg(args, "tp_ticks")
	slTicks, _ := intArg(args, "sl_ticks")
	tickSize, _ := floatArg(args, "tick_size")

	return adp.Enter(ctx, symbol, qty, side, tpTicks, slTicks, tickSize)
}

func (c *Controller) dispatchScaleEnter(ctx context.Context, adp CommandAdapter, args map[string]any) domain.CommandResult {
	symbol, ok := stringArg(args, "symbol")
	if !ok {
		return missingArg("symbol")
	}
	side, ok := sideArg(args, "side")
	if !ok {
		return missingArg("side")
	}
	rawLevels, ok := args["levels"].([]any)
	if !ok || len(rawLevels) == 0 {
		return domain.CommandResult{Kind: domain.ErrResult, Detail: "scale_enter requires a non-empty levels argument"}
	}

	levels := make([]bundle.ScaleLevel, 0, len(rawLevels))
	for _, raw := range rawLevels {
		m, ok := raw.(map[string]any)
		if !ok {
			return domain.CommandResult{Kind: domain.ErrResult, Detail: "each scale_enter level must be an object"}
		}
		qty, _ := floatArg(m, "qty")
		offset, _ := floatArg(m, "offset")
		levels = append(levels, bundle.ScaleLevel{Quantity: qty, Offset: offset})
	}

	tpTicks, _ := intArg(args, "tp_ticks")
	slTicks, _ := intArg(args, "sl_ticks")
	tickSize, _ := floatArg(args, "tick_size")

	return adp.ScaleEnter(ctx, symbol, levels, side, tpTicks, slTicks, tickSize)
}

func (c *Controller) dispatchExit(ctx context.Context, adp CommandAdapter, args map[string]any) domain.CommandResult {
	symbol, ok := stringArg(args, "symbol")
	if !ok {
		return missingArg("symbol")
	}
	modeStr, ok := stringArg(args, "mode")
	if !ok {
		modeStr = string(adapter.ExitFlatten)
	}
	return adp.Exit(ctx, symbol, adapter.ExitMode(modeStr))
}

func (c *Controller) dispatchSetSymbol(ctx context.Context, adp CommandAdapter, args map[string]any) domain.CommandResult {
	symbol, ok := stringArg(args, "symbol")
	if !ok {
		return missingArg("symbol")
	}
	return adp.SetSymbol(ctx, symbol)
}

func missingArg(name string) domain.CommandResult {
	return domain.CommandResult{Kind: domain.ErrResult, Detail: fmt.Sprintf("missing or invalid required argument %q", name)}
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

func floatArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func sideArg(args map[string]any, key string) (bundle.TradeSide, bool) {
	s, ok := stringArg(args, key)
	if !ok {
		return "", false
	}
	switch bundle.TradeSide(s) {
	case bundle.SideBuy, bundle.SideSell:
		return bundle.TradeSide(s), true
	default:
		return "", false
	}
}
