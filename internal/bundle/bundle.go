// Package bundle holds the injected-bundle contract: the fixed set of
// globals the orchestrator expects the instrumentation bundle to expose on
// window, and the JavaScript expression builders that turn a command
// dispatch into a source fragment suitable for Runtime.evaluate. The bundle
// itself is an opaque third-party artifact - this package only knows its
// documented surface.
package bundle

import (
	"encoding/json"
	"fmt"
)

// Global method names the injected bundle is required to expose on window.
const (
	MethodAutoTrade          = "autoTrade"
	MethodAutoTradeScale     = "auto_trade_scale"
	MethodClickExitForSymbol = "clickExitForSymbol"
	MethodGetConsoleLogs     = "getConsoleLogs"
	MethodClearConsoleLogs   = "clearConsoleLogs"

	// MethodGetState and MethodSetSymbol are extension globals beyond the
	// five strictly documented in the bundle contract. set_symbol and
	// read_state are commands the Session Adapter must expose, but their
	// evidence source is unspecified by the documented surface (those five
	// globals cover order placement, exit, and console capture only) - the
	// adapter assumes the bundle also exposes a page-state accessor and a
	// symbol setter, consistent with the rest of the contract's pattern of
	// a synchronous fn returning a plain value.
	MethodGetState = "getState"
	MethodSetSymbol = "setSymbol"

	// MethodSetTradingParams is a further extension global covering the
	// other half of a snapshot restore: quantity and bracket distances are
	// UI state the State Snapshotter must be able to replay alongside the
	// symbol, and no documented global accepts them outside of actually
	// placing an order via autoTrade.
	MethodSetTradingParams = "setTradingParams"
)

// TradeSide mirrors the side argument accepted by autoTrade/auto_trade_scale.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// ScaleLevel is one entry of the levels[] argument to auto_trade_scale.
type ScaleLevel struct {
	Quantity float64 `json:"quantity"`
	Offset   float64 `json:"offset"`
}

// AutoTradeResult is the shape autoTrade/auto_trade_scale resolve to.
type AutoTradeResult struct {
	Success           interface{}      `json:"success"` // true, false, or "partial"
	Orders            []map[string]any `json:"orders"`
	RejectionReason   string           `json:"rejectionReason,omitempty"`
	PartialFills      []map[string]any `json:"partialFills,omitempty"`
	IsPartiallyFilled bool             `json:"isPartiallyFilled,omitempty"`
}

// ConsoleLogEntry is one entry returned by getConsoleLogs.
type ConsoleLogEntry struct {
	Timestamp int64  `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	URL       string `json:"url"`
}

// PageState is the shape getState resolves to: the evidence read_state
// reports back to the Fleet Controller, and what the State Snapshotter
// captures before a terminate-and-restart.
type PageState struct {
	Symbol        string           `json:"symbol"`
	Quantity      float64          `json:"quantity"`
	TPTicks       int              `json:"tpTicks"`
	SLTicks       int              `json:"slTicks"`
	TickSize      float64          `json:"tickSize"`
	PendingOrders []map[string]any `json:"pendingOrders"`
	Positions     []map[string]any `json:"positions"`
}

// jsArg renders v as a JSON literal suitable for splicing into a generated
// expression. Every argument to a bundle call is JSON-serializable by
// contract, so this never needs to special-case a Go type.
func jsArg(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode bundle argument: %w", err)
	}
	return string(data), nil
}

// BuildAutoTrade builds the expression for an autoTrade dispatch.
func BuildAutoTrade(symbol string, qty float64, side TradeSide, tpTicks, slTicks int, tickSize float64) (string, error) {
	symbolArg, err := jsArg(symbol)
	if err != nil {
		return "", err
	}
	sideArg, err := jsArg(side)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("window.%s(%s, %v, %s, %d, %d, %v)",
		MethodAutoTrade, symbolArg, qty, sideArg, tpTicks, slTicks, tickSize), nil
}

// BuildAutoTradeScale builds the expression for an auto_trade_scale dispatch.
func BuildAutoTradeScale(symbol string, levels []ScaleLevel, side TradeSide, tpTicks, slTicks int, tickSize float64) (string, error) {
	symbolArg, err := jsArg(symbol)
	if err != nil {
		return "", err
	}
	levelsArg, err := jsArg(levels)
	if err != nil {
		return "", err
	}
	sideArg, err := jsArg(side)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("window.%s(%s, %s, %s, %d, %d, %v)",
		MethodAutoTradeScale, symbolArg, levelsArg, sideArg, tpTicks, slTicks, tickSize), nil
}

// BuildClickExitForSymbol builds the expression for a clickExitForSymbol
// dispatch. modeID selects the exit mode (e.g. flatten, cancel-working).
func BuildClickExitForSymbol(symbol string, modeID int) (string, error) {
	symbolArg, err := jsArg(symbol)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("window.%s(%s, %d)", MethodClickExitForSymbol, symbolArg, modeID), nil
}

// BuildGetConsoleLogs builds the expression for a getConsoleLogs call.
func BuildGetConsoleLogs() string {
	return fmt.Sprintf("window.%s()", MethodGetConsoleLogs)
}

// BuildClearConsoleLogs builds the expression for a clearConsoleLogs call.
func BuildClearConsoleLogs() string {
	return fmt.Sprintf("window.%s()", MethodClearConsoleLogs)
}

// BuildGetState builds the expression for a getState call.
func BuildGetState() string {
	return fmt.Sprintf("window.%s()", MethodGetState)
}

// BuildSetSymbol builds the expression for a setSymbol dispatch.
func BuildSetSymbol(symbol string) (string, error) {
	symbolArg, err := jsArg(symbol)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("window.%s(%s)", MethodSetSymbol, symbolArg), nil
}

// BuildSetTradingParams builds the expression for a setTradingParams
// dispatch, used to replay a snapshot's quantity and bracket distances.
func BuildSetTradingParams(quantity float64, tpTicks, slTicks int) (string, error) {
	return fmt.Sprintf("window.%s(%v, %d, %d)", MethodSetTradingParams, quantity, tpTicks, slTicks), nil
}
