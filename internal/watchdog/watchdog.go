// Package watchdog implements the Health Watchdog: off-path liveness and
// usability probing of every managed instance, three probe tiers cheapest
// first, a K-confirmation gate before restarting on a port or tab failure
// (a dead process is acted on at once), and the full recovery
// orchestration (snapshot, terminate, relaunch, restore) bounded by a
// configured budget.
package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/riverlock/fleetctl/internal/database"
	"github.com/riverlock/fleetctl/internal/debugclient"
	"github.com/riverlock/fleetctl/internal/domain"
	"github.com/riverlock/fleetctl/internal/errkind"
	"github.com/riverlock/fleetctl/internal/events"
	"github.com/riverlock/fleetctl/internal/snapshot"
	"github.com/riverlock/fleetctl/internal/supervisor"
)

// SessionAdapter is the subset of *adapter.Adapter the Watchdog depends on.
type SessionAdapter interface {
	snapshot.SessionAdapter
	EnsureReady(ctx context.Context) error
	Ping(ctx context.Context) error
}

const defaultLatencyWindow = 20

// Config controls probe cadence, confirmation gating, and recovery budget.
type Config struct {
	ProbeInterval         time.Duration // default 10s
	ConfirmationThreshold int           // K, default 3
	RecoveryBudget        time.Duration // default 5 minutes
	LatencyWindow         int           // rolling sample count for trend diagnostic
	MaxRestarts           int           // ceiling on RestartAttempts before Failed is permanent, default 5
}

func (c Config) withDefaults() Config {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 10 * time.Second
	}
	if c.ConfirmationThreshold <= 0 {
		c.ConfirmationThreshold = 3
	}
	if c.RecoveryBudget <= 0 {
		c.RecoveryBudget = 5 * time.Minute
	}
	if c.LatencyWindow <= 0 {
		c.LatencyWindow = defaultLatencyWindow
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 5
	}
	return c
}

// managedInstance is everything the Watchdog needs to probe and recover one
// account's instance.
type managedInstance struct {
	mu sync.Mutex

	record  *domain.InstanceRecord
	handle  *supervisor.ProcessHandle
	adapter SessionAdapter
	port    int

	consecutiveFailures int
	recovering          bool
	latenciesMs         []float64 // ring buffer, most recent last
}

// Watchdog probes every registered instance on a shared cron schedule and
// drives recovery for confirmed failures.
type Watchdog struct {
	cfg        Config
	log        zerolog.Logger
	supervisor *supervisor.Supervisor
	store      *snapshot.Store
	bus        *events.Bus

	scheduler *cron.Cron
	cacheDB   *database.DB // optional; probe_history persistence

	mu        sync.RWMutex
	instances map[string]*managedInstance
}

// AttachCacheDB wires cache.db for best-effort probe_history persistence.
// Safe to leave unset; probe history is ephemeral operational data, never
// consulted to reconstruct fleet state.
func (w *Watchdog) AttachCacheDB(db *database.DB) {
	w.cacheDB = db
}

// New constructs a Watchdog. Call Register for every instance it should
// probe, then Start to begin the cron-driven probe loop.
func New(cfg Config, sup *supervisor.Supervisor, store *snapshot.Store, bus *events.Bus, log zerolog.Logger) *Watchdog {
	return &Watchdog{
		cfg:        cfg.withDefaults(),
		log:        log.With().Str("component", "watchdog").Logger(),
		supervisor: sup,
		store:      store,
		bus:        bus,
		instances:  make(map[string]*managedInstance),
	}
}

// Register adds an instance to the probe set. Safe to call while the
// watchdog is running.
func (w *Watchdog) Register(record *domain.InstanceRecord, handle *supervisor.ProcessHandle, adapter SessionAdapter) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.instances[record.AccountName] = &managedInstance{
		record:  record,
		handle:  handle,
		adapter: adapter,
		port:    record.Port,
	}
}

// Unregister removes an instance from the probe set, e.g. when an account
// is removed from the fleet.
func (w *Watchdog) Unregister(accountName string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.instances, accountName)
}

// Start begins the shared cron-driven probe loop. The Watchdog never
// enumerates or touches the protected port - it only ever probes instances
// explicitly registered with it.
func (w *Watchdog) Start() error {
	w.scheduler = cron.New()
	spec := fmt.Sprintf("@every %s", w.cfg.ProbeInterval)
	if _, err := w.scheduler.AddFunc(spec, w.probeAll); err != nil {
		return fmt.Errorf("failed to schedule probe loop: %w", err)
	}
	w.scheduler.Start()
	return nil
}

// Stop halts the probe loop. Safe to call even if Start was never called.
func (w *Watchdog) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
}

func (w *Watchdog) probeAll() {
	w.mu.RLock()
	snapshotInstances := make(map[string]*managedInstance, len(w.instances))
	for name, inst := range w.instances {
		snapshotInstances[name] = inst
	}
	w.mu.RUnlock()

	var wg sync.WaitGroup
	for name, inst := range snapshotInstances {
		wg.Add(1)
		go func(name string, inst *managedInstance) {
			defer wg.Done()
			w.probeOne(name, inst)
		}(name, inst)
	}
	wg.Wait()
}

func (w *Watchdog) probeOne(accountName string, inst *managedInstance) {
	inst.mu.Lock()
	if inst.recovering {
		inst.mu.Unlock()
		return
	}
	inst.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ProbeInterval)
	defer cancel()

	start := time.Now()
	tier, failClass, err := w.runProbeTiers(ctx, inst)
	elapsed := time.Since(start)

	w.recordProbeHistory(accountName, tier, err == nil, elapsed)

	inst.mu.Lock()
	inst.recordLatency(elapsed, w.cfg.LatencyWindow)
	trendWarning := inst.latencyTrendIncreasing()
	inst.mu.Unlock()

	if trendWarning {
		w.log.Warn().Str("account_name", accountName).Msg("HealthDegrading: tab-probe latency trending upward")
	}

	if err == nil {
		inst.mu.Lock()
		inst.consecutiveFailures = 0
		inst.record.LastHealthyAt = time.Now()
		inst.mu.Unlock()
		return
	}

	// A process-dead observation is immediately actionable (tier 1); port
	// and tab failures require K consecutive confirmations.
	immediate := tier == domain.ProbeProcessAlive

	inst.mu.Lock()
	inst.consecutiveFailures++
	confirmed := immediate || inst.consecutiveFailures >= w.cfg.ConfirmationThreshold
	count := inst.consecutiveFailures
	inst.mu.Unlock()

	w.log.Warn().
		Str("account_name", accountName).
		Str("tier", string(tier)).
		Err(err).
		Int("consecutive_failures", count).
		Bool("confirmed", confirmed).
		Msg("Probe failed")

	if !confirmed {
		return
	}

	w.bus.Emit(events.InstanceDegraded, "watchdog", map[string]interface{}{
		"account_name":   accountName,
		"failure_class":  string(failClass),
		"probe_tier":     string(tier),
		"failure_count":  count,
	})

	go w.recover(accountName, inst, failClass)
}

// runProbeTiers runs the three tiers cheapest-first, stopping at the first
// failure and reporting which tier failed.
func (w *Watchdog) runProbeTiers(ctx context.Context, inst *managedInstance) (domain.ProbeTier, domain.FailureClass, error) {
	if !w.supervisor.IsAlive(inst.record.PID) {
		return domain.ProbeProcessAlive, domain.ClassProcessDied, errkind.New(errkind.HealthDegraded, inst.record.AccountName, "process not alive", nil)
	}

	if _, err := debugclient.ListTabs(ctx, inst.port); err != nil {
		return domain.ProbePortResponsive, domain.ClassPortUnresponsive, err
	}

	if err := inst.adapter.Ping(ctx); err != nil {
		if errkind.Is(err, errkind.HealthDegraded) {
			return domain.ProbeTabUsable, domain.ClassTabUnusable, err
		}
		return domain.ProbeTabUsable, domain.ClassAuthLost, err
	}

	return domain.ProbeTabUsable, "", nil
}

// recordProbeHistory writes a best-effort probe_history row to cache.db.
// Failures are logged, never propagated - this table is diagnostic only.
func (w *Watchdog) recordProbeHistory(accountName string, tier domain.ProbeTier, ok bool, latency time.Duration) {
	if w.cacheDB == nil {
		return
	}
	okInt := 0
	if ok {
		okInt = 1
	}
	_, err := w.cacheDB.Exec(
		`INSERT INTO probe_history (account_name, tier, ok, latency_ms, observed_at) VALUES (?, ?, ?, ?, strftime('%s','now'))`,
		accountName, string(tier), okInt, latency.Milliseconds(),
	)
	if err != nil {
		w.log.Error().Err(err).Str("account_name", accountName).Msg("failed to persist probe history")
	}
}

func (inst *managedInstance) recordLatency(d time.Duration, window int) {
	ms := float64(d.Milliseconds())
	inst.latenciesMs = append(inst.latenciesMs, ms)
	if len(inst.latenciesMs) > window {
		inst.latenciesMs = inst.latenciesMs[len(inst.latenciesMs)-window:]
	}
}

// latencyTrendIncreasing fits a simple linear regression over the rolling
// latency window and reports whether the fitted slope is positive.
// This is a logged-only early-warning diagnostic; spec.md defines recovery
// triggers solely via the K-confirmation rule, so a rising trend never
// triggers recovery on its own.
func (inst *managedInstance) latencyTrendIncreasing() bool {
	n := len(inst.latenciesMs)
	if n < 5 {
		return false
	}
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	_, beta := stat.LinearRegression(xs, inst.latenciesMs, nil, false)
	return beta > 0
}
