package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverlock/fleetctl/internal/bundle"
	"github.com/riverlock/fleetctl/internal/domain"
	"github.com/riverlock/fleetctl/internal/events"
	"github.com/riverlock/fleetctl/internal/snapshot"
	"github.com/riverlock/fleetctl/internal/supervisor"
)

type stubAdapter struct {
	pingErr      error
	readyErr     error
	state        bundle.PageState
	stateResult  domain.CommandResult
}

func (s *stubAdapter) EnsureReady(ctx context.Context) error { return s.readyErr }
func (s *stubAdapter) Ping(ctx context.Context) error        { return s.pingErr }
func (s *stubAdapter) GetPageState(ctx context.Context) (bundle.PageState, domain.CommandResult) {
	return s.state, s.stateResult
}
func (s *stubAdapter) SetSymbol(ctx context.Context, symbol string) domain.CommandResult {
	return domain.CommandResult{Kind: domain.Verified}
}
func (s *stubAdapter) SetTradingParams(ctx context.Context, quantity float64, tpTicks, slTicks int) domain.CommandResult {
	return domain.CommandResult{Kind: domain.Verified}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 10*time.Second, cfg.ProbeInterval)
	assert.Equal(t, 3, cfg.ConfirmationThreshold)
	assert.Equal(t, 5*time.Minute, cfg.RecoveryBudget)
	assert.Equal(t, defaultLatencyWindow, cfg.LatencyWindow)
	assert.Equal(t, 5, cfg.MaxRestarts)
}

func TestConfig_WithDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := Config{ProbeInterval: 5 * time.Second, ConfirmationThreshold: 5}.withDefaults()
	assert.Equal(t, 5*time.Second, cfg.ProbeInterval)
	assert.Equal(t, 5, cfg.ConfirmationThreshold)
}

func TestLatencyTrendIncreasing_TooFewSamples(t *testing.T) {
	inst := &managedInstance{}
	inst.recordLatency(10*time.Millisecond, 20)
	inst.recordLatency(20*time.Millisecond, 20)
	assert.False(t, inst.latencyTrendIncreasing())
}

func TestLatencyTrendIncreasing_RisingTrend(t *testing.T) {
	inst := &managedInstance{}
	for i := 1; i <= 10; i++ {
		inst.recordLatency(time.Duration(i*10)*time.Millisecond, 20)
	}
	assert.True(t, inst.latencyTrendIncreasing())
}

func TestLatencyTrendIncreasing_FlatTrend(t *testing.T) {
	inst := &managedInstance{}
	for i := 0; i < 10; i++ {
		inst.recordLatency(10*time.Millisecond, 20)
	}
	assert.False(t, inst.latencyTrendIncreasing())
}

func TestRecordLatency_WindowBounded(t *testing.T) {
	inst := &managedInstance{}
	for i := 0; i < 30; i++ {
		inst.recordLatency(time.Millisecond, 20)
	}
	assert.Len(t, inst.latenciesMs, 20)
}

func TestRegisterAndUnregister(t *testing.T) {
	w := New(Config{}, &supervisor.Supervisor{}, nil, events.NewBus(zerolog.Nop()), zerolog.Nop())
	record := &domain.InstanceRecord{AccountName: "acct-1", Port: 9222}
	w.Register(record, nil, &stubAdapter{})

	w.mu.RLock()
	_, ok := w.instances["acct-1"]
	w.mu.RUnlock()
	require.True(t, ok)

	w.Unregister("acct-1")
	w.mu.RLock()
	_, ok = w.instances["acct-1"]
	w.mu.RUnlock()
	assert.False(t, ok)
}

var _ SessionAdapter = (*stubAdapter)(nil)
var _ snapshot.SessionAdapter = (*stubAdapter)(nil)
