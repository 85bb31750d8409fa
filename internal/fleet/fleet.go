// Package fleet implements the Fleet Controller: typed fan-out across
// every registered Session Adapter, a reader-writer-locked instance table
// (readers hold a shared lock; registration/deregistration and the
// Watchdog's transitions hold the exclusive lock), and the read-only
// projection the Dashboard API polls.
package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/riverlock/fleetctl/internal/adapter"
	"github.com/riverlock/fleetctl/internal/bundle"
	"github.com/riverlock/fleetctl/internal/database"
	"github.com/riverlock/fleetctl/internal/domain"
	"github.com/riverlock/fleetctl/internal/errkind"
	"github.com/riverlock/fleetctl/internal/events"
)

// Method names accepted by CallOne/CallAll, mirroring the Session Adapter's
// command API (spec.md §4.3).
const (
	MethodEnter      = "enter"
	MethodScaleEnter = "scale_enter"
	MethodExit       = "exit"
	MethodSetSymbol  = "set_symbol"
	MethodReadState  = "read_state"
)

// callDeadlineSlack is added on top of the adapter's own per-method timeout
// so the Fleet Controller's context never races the adapter's internal one.
const callDeadlineSlack = 5 * time.Second

// CommandAdapter is the subset of *adapter.Adapter the Fleet Controller
// dispatches against.
type CommandAdapter interface {
	Enter(ctx context.Context, symbol string, qty float64, side bundle.TradeSide, tpTicks, slTicks int, tickSize float64) domain.CommandResult
	ScaleEnter(ctx context.Context, symbol string, levels []bundle.ScaleLevel, side bundle.TradeSide, tpTicks, slTicks int, tickSize float64) domain.CommandResult
	Exit(ctx context.Context, symbol string, mode adapter.ExitMode) domain.CommandResult
	SetSymbol(ctx context.Context, symbol string) domain.CommandResult
	ReadState(ctx context.Context) domain.CommandResult
}

type instanceEntry struct {
	record  *domain.InstanceRecord
	adapter CommandAdapter
}

// Controller owns the fleet's instance table and dispatches commands
// against it.
type Controller struct {
	log zerolog.Logger
	bus *events.Bus

	mu        sync.RWMutex
	instances map[string]*instanceEntry

	db *database.DB // optional; durable instances projection in fleet.db
}

// AttachDB wires fleet.db for best-effort persistence of the instance
// table, so operators can inspect fleet state without the process running.
// The in-memory table remains the runtime source of truth; this is purely
// a durable projection of it.
func (c *Controller) AttachDB(db *database.DB) {
	c.db = db
}

// New constructs an empty Controller.
func New(bus *events.Bus, log zerolog.Logger) *Controller {
	return &Controller{
		bus:       bus,
		log:       log.With().Str("component", "fleet_controller").Logger(),
		instances: make(map[string]*instanceEntry),
	}
}

// Register adds or replaces an instance's entry. Held under the exclusive
// lock since it mutates the instance table - callers are the startup
// sequence and the Watchdog after a successful recovery relaunch.
func (c *Controller) Register(record *domain.InstanceRecord, adp CommandAdapter) {
	c.mu.Lock()
	c.instances[record.AccountName] = &instanceEntry{record: record, adapter: adp}
	c.mu.Unlock()

	c.persistInstanceRow(record)
}

// Unregister removes an instance from the fleet.
func (c *Controller) Unregister(accountName string) {
	c.mu.Lock()
	delete(c.instances, accountName)
	c.mu.Unlock()

	c.deleteInstanceRow(accountName)
}

// persistInstanceRow upserts the durable instances projection. Best-effort:
// a failure here never blocks registration, since the in-memory table is
// the runtime source of truth.
func (c *Controller) persistInstanceRow(r *domain.InstanceRecord) {
	if c.db == nil {
		return
	}
	_, err := c.db.Exec(`
		INSERT INTO instances (account_name, port, profile_dir, state, consecutive_failures, last_healthy_at, restart_attempts, injection_generation, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, strftime('%s','now'))
		ON CONFLICT(account_name) DO UPDATE SET
			port = excluded.port,
			profile_dir = excluded.profile_dir,
			state = excluded.state,
			consecutive_failures = excluded.consecutive_failures,
			last_healthy_at = excluded.last_healthy_at,
			restart_attempts = excluded.restart_attempts,
			injection_generation = excluded.injection_generation,
			updated_at = excluded.updated_at`,
		r.AccountName, r.Port, r.ProfileDir, string(r.State), r.ConsecutiveFailures,
		nullableUnixTime(r.LastHealthyAt), r.RestartAttempts, r.InjectionGeneration,
	)
	if err != nil {
		c.log.Error().Err(err).Str("account_name", r.AccountName).Msg("failed to persist instance row")
	}
}

func (c *Controller) deleteInstanceRow(accountName string) {
	if c.db == nil {
		return
	}
	if _, err := c.db.Exec(`DELETE FROM instances WHERE account_name = ?`, accountName); err != nil {
		c.log.Error().Err(err).Str("account_name", accountName).Msg("failed to delete instance row")
	}
}

func nullableUnixTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

// Snapshot returns a read-only projection of every instance, for the
// Dashboard API. Held under the shared lock.
func (c *Controller) Snapshot() []domain.InstanceView {
	c.mu.RLock()
	defer c.mu.RUnlock()

	views := make([]domain.InstanceView, 0, len(c.instances))
	for _, entry := range c.instances {
		r := entry.record
		views = append(views, domain.InstanceView{
			AccountName:         r.AccountName,
			Port:                r.Port,
			State:               r.State,
			ConsecutiveFailures: r.ConsecutiveFailures,
			LastHealthyAt:       r.LastHealthyAt,
			RestartAttempts:     r.RestartAttempts,
			InjectionGeneration: r.InjectionGeneration,
		})
	}
	return views
}

// CallOne dispatches method against a single account's adapter.
func (c *Controller) CallOne(ctx context.Context, accountName, method string, args map[string]any) (domain.CommandResult, error) {
	c.mu.RLock()
	entry, ok := c.instances[accountName]
	c.mu.RUnlock()
	if !ok {
		return domain.CommandResult{}, errkind.New(errkind.ConfigInvalid, accountName, "unknown account", nil)
	}

	result := c.dispatch(ctx, entry.adapter, method, args)
	c.emitDispatched(accountName, method, result)
	return result, nil
}

// CallAll fans out method across every registered account concurrently.
// See CallMany for the fan-out mechanics.
func (c *Controller) CallAll(ctx context.Context, method string, args map[string]any) domain.CommandRecord {
	c.mu.RLock()
	accounts := make([]string, 0, len(c.instances))
	for name := range c.instances {
		accounts = append(accounts, name)
	}
	c.mu.RUnlock()

	return c.CallMany(ctx, accounts, method, args)
}

// CallMany fans out method across a named subset of accounts concurrently,
// collecting each result into a map keyed by account name, so the record
// does not depend on completion order even though dispatch itself runs
// as-completed; CommandRecord.Aggregate supplies a deterministic account
// order. This is the Intent Router's dispatch primitive: a routed
// strategy's account_set is not always the entire fleet roster, which
// spec.md's call_all(method, args) signature (no account filter) doesn't
// itself accommodate - see DESIGN.md's Open Questions for this addition.
func (c *Controller) CallMany(ctx context.Context, accountNames []string, method string, args map[string]any) domain.CommandRecord {
	c.mu.RLock()
	entries := make(map[string]CommandAdapter, len(accountNames))
	for _, name := range accountNames {
		if entry, ok := c.instances[name]; ok {
			entries[name] = entry.adapter
		}
	}
	c.mu.RUnlock()

	record := domain.CommandRecord{
		CommandID:         uuid.NewString(),
		Method:            method,
		Arguments:         args,
		PerAccountResults: make(map[string]domain.CommandResult, len(entries)),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, adp := range entries {
		wg.Add(1)
		go func(name string, adp CommandAdapter) {
			defer wg.Done()
			result := c.dispatch(ctx, adp, method, args)
			c.emitDispatched(name, method, result)

			mu.Lock()
			record.PerAccountResults[name] = result
			mu.Unlock()
		}(name, adp)
	}
	wg.Wait()

	return record
}

func (c *Controller) emitDispatched(accountName, method string, result domain.CommandResult) {
	if c.bus == nil {
		return
	}
	c.bus.Emit(events.CommandDispatched, "fleet_controller", map[string]interface{}{
		"account_name": accountName,
		"method":       method,
		"result_kind":  string(result.Kind),
	})
}

// dispatch applies a per-call deadline (the method's own adapter-side
// timeout plus a small slack) and translates the generic method/args pair
// into the adapter's typed command API.
func (c *Controller) dispatch(ctx context.Context, adp CommandAdapter, method string, args map[string]any) domain.CommandResult {
	ctx, cancel := context.WithTimeout(ctx, adapterTimeoutFor(method, args)+callDeadlineSlack)
	defer cancel()

	switch method {
	case MethodEnter:
		return c.dispatchEnter(ctx, adp, args)
	case MethodScaleEnter:
		return c.dispatchScaleEnter(ctx, adp, args)
	case MethodExit:
		return c.dispatchExit(ctx, adp, args)
	case MethodSetSymbol:
		return c.dispatchSetSymbol(ctx, adp, args)
	case MethodReadState:
		return adp.ReadState(ctx)
	default:
		return domain.CommandResult{Kind: domain.ErrResult, Detail: fmt.Sprintf("unknown method %q", method)}
	}
}

// adapterTimeoutFor mirrors the adapter package's own internal timeouts
// (15s per call, plus 2s per level for scale_enter) so the controller's
// deadline never races the adapter's, without the adapter package needing
// to export its constants.
func adapterTimeoutFor(method string, args map[string]any) time.Duration {
	switch method {
	case MethodScaleEnter:
		levels, _ := args["levels"].([]any)
		return 15*time.Second + time.Duration(len(levels))*2*time.Second
	default:
		return 15 * time.Second
	}
}
