package adapter

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newTestAdapter() *Adapter {
	return New(Config{
		AccountName:  "acct-1",
		Port:         9222,
		TradingHost:  "trading.example.test",
		BundleSource: "/* bundle */",
	}, zerolog.Nop())
}

func TestNew_StartsInStartingPhase(t *testing.T) {
	a := newTestAdapter()
	assert.Equal(t, PhaseStarting, a.Phase())
	assert.Equal(t, 0, a.InjectionGeneration())
}

func TestResolveTabLocked_NoSessionReturnsNil(t *testing.T) {
	a := newTestAdapter()
	tab, err := a.resolveTabLocked(nil)
	assert.NoError(t, err)
	assert.Nil(t, tab)
}

func TestWrapTypeofChecks(t *testing.T) {
	checks := wrapTypeofChecks([]string{"autoTrade", "getState"})
	assert.Equal(t, []string{
		"typeof window.autoTrade === 'function'",
		"typeof window.getState === 'function'",
	}, checks)
}

func TestRequiredGlobals_CoversDocumentedSurface(t *testing.T) {
	assert.Contains(t, requiredGlobals, "autoTrade")
	assert.Contains(t, requiredGlobals, "auto_trade_scale")
	assert.Contains(t, requiredGlobals, "clickExitForSymbol")
	assert.Contains(t, requiredGlobals, "getConsoleLogs")
	assert.Contains(t, requiredGlobals, "clearConsoleLogs")
}
