package fleet

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverlock/fleetctl/internal/adapter"
	"github.com/riverlock/fleetctl/internal/bundle"
	"github.com/riverlock/fleetctl/internal/domain"
	"github.com/riverlock/fleetctl/internal/events"
)

type stubAdapter struct {
	name       string
	enterKind  domain.ResultKind
	readState  domain.ResultKind
}

func (s *stubAdapter) Enter(ctx context.Context, symbol string, qty float64, side bundle.TradeSide, tpTicks, slTicks int, tickSize float64) domain.CommandResult {
	return domain.CommandResult{Kind: s.enterKind}
}
func (s *stubAdapter) ScaleEnter(ctx context.Context, symbol string, levels []bundle.ScaleLevel, side bundle.TradeSide, tpTicks, slTicks int, tickSize float64) domain.CommandResult {
	if len(levels) == 0 {
		return domain.CommandResult{Kind: domain.ErrResult}
	}
	return domain.CommandResult{Kind: domain.Verified}
}
func (s *stubAdapter) Exit(ctx context.Context, symbol string, mode adapter.ExitMode) domain.CommandResult {
	return domain.CommandResult{Kind: domain.Verified}
}
func (s *stubAdapter) SetSymbol(ctx context.Context, symbol string) domain.CommandResult {
	return domain.CommandResult{Kind: domain.Verified}
}
func (s *stubAdapter) ReadState(ctx context.Context) domain.CommandResult {
	return domain.CommandResult{Kind: s.readState}
}

func newTestController(names ...string) (*Controller, map[string]*stubAdapter) {
	c := New(events.NewBus(zerolog.Nop()), zerolog.Nop())
	stubs := make(map[string]*stubAdapter, len(names))
	for _, name := range names {
		st := &stubAdapter{name: name, enterKind: domain.Verified, readState: domain.Verified}
		stubs[name] = st
		c.Register(&domain.InstanceRecord{AccountName: name, Port: 9222}, st)
	}
	return c, stubs
}

func TestCallOne_UnknownAccount(t *testing.T) {
	c, _ := newTestController()
	_, err := c.CallOne(context.Background(), "ghost", MethodReadState, nil)
	assert.Error(t, err)
}

func TestCallOne_ReadState(t *testing.T) {
	c, _ := newTestController("acct-1")
	result, err := c.CallOne(context.Background(), "acct-1", MethodReadState, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Verified, result.Kind)
}

func TestCallOne_Enter_MissingArgs(t *testing.T) {
	c, _ := newTestController("acct-1")
	result, err := c.CallOne(context.Background(), "acct-1", MethodEnter, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, domain.ErrResult, result.Kind)
}

func TestCallOne_Enter_ValidArgs(t *testing.T) {
	c, _ := newTestController("acct-1")
	args := map[string]any{"symbol": "ES", "qty": 2.0, "side": "buy", "tp_ticks": 10, "sl_ticks": 8, "tick_size": 0.25}
	result, err := c.CallOne(context.Background(), "acct-1", MethodEnter, args)
	require.NoError(t, err)
	assert.Equal(t, domain.Verified, result.Kind)
}

func TestCallOne_UnknownMethod(t *testing.T) {
	c, _ := newTestController("acct-1")
	result, err := c.CallOne(context.Background(), "acct-1", "bogus_method", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrResult, result.Kind)
}

func TestCallAll_AggregatesAllAccounts(t *testing.T) {
	c, _ := newTestController("acct-1", "acct-2", "acct-3")
	record := c.CallAll(context.Background(), MethodReadState, nil)
	assert.Len(t, record.PerAccountResults, 3)
	assert.True(t, record.AllVerified())
	assert.NotEmpty(t, record.CommandID)
}

func TestCallAll_PartialFailureIsExplicit(t *testing.T) {
	c, stubs := newTestController("acct-1", "acct-2")
	stubs["acct-2"].readState = domain.ErrResult

	record := c.CallAll(context.Background(), MethodReadState, nil)
	assert.False(t, record.AllVerified())
	assert.Equal(t, domain.Verified, record.PerAccountResults["acct-1"].Kind)
	assert.Equal(t, domain.ErrResult, record.PerAccountResults["acct-2"].Kind)
}

func TestCallMany_DispatchesOnlyToNamedSubset(t *testing.T) {
	c, _ := newTestController("acct-1", "acct-2", "acct-3")
	record := c.CallMany(context.Background(), []string{"acct-1", "acct-3"}, MethodReadState, nil)
	assert.Len(t, record.PerAccountResults, 2)
	_, hasAcct2 := record.PerAccountResults["acct-2"]
	assert.False(t, hasAcct2)
}

func TestCallMany_IgnoresUnknownAccounts(t *testing.T) {
	c, _ := newTestController("acct-1")
	record := c.CallMany(context.Background(), []string{"acct-1", "ghost"}, MethodReadState, nil)
	assert.Len(t, record.PerAccountResults, 1)
}

func TestSnapshot_ReturnsOneViewPerInstance(t *testing.T) {
	c, _ := newTestController("acct-1", "acct-2")
	views := c.Snapshot()
	assert.Len(t, views, 2)
}

func TestUnregister_RemovesFromSnapshot(t *testing.T) {
	c, _ := newTestController("acct-1")
	c.Unregister("acct-1")
	assert.Empty(t, c.Snapshot())
}

func TestDispatchScaleEnter_RejectsEmptyLevels(t *testing.T) {
	c, _ := newTestController("acct-1")
	result, err := c.CallOne(context.Background(), "acct-1", MethodScaleEnter, map[string]any{
		"symbol": "ES", "side": "buy", "levels": []any{},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ErrResult, result.Kind)
}

func TestDispatchScaleEnter_ValidLevels(t *testing.T) {
	c, _ := newTestController("acct-1")
	result, err := c.CallOne(context.Background(), "acct-1", MethodScaleEnter, map[string]any{
		"symbol": "ES", "side": "sell",
		"levels": []any{
			map[string]any{"qty": 1.0, "offset": 0.0},
			map[string]any{"qty": 1.0, "offset": 2.0},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Verified, result.Kind)
}
