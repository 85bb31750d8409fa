package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/riverlock/fleetctl/internal/database"
	"github.com/riverlock/fleetctl/internal/domain"
	"github.com/riverlock/fleetctl/internal/errkind"
	"github.com/riverlock/fleetctl/internal/events"
)

// Store is the hot-reloadable view of routing entries and trading defaults.
// It is seeded from fleet.db at startup and re-polled on a cron schedule;
// every poll that finds a change diffs against the in-memory cache, swaps
// the cache, and emits a ConfigReloaded event. Everything else in the
// orchestrator reads through Routing()/Defaults(), never the database
// directly, so a poll mid-read never produces a torn view.
type Store struct {
	db  *database.DB
	bus *events.Bus
	log zerolog.Logger

	mu       sync.RWMutex
	routing  map[string]domain.RoutingEntry
	defaults map[string]domain.TradingDefaults // keyed by symbol, "" is the global default

	cronID   cron.EntryID
	scheduler *cron.Cron
}

// NewStore constructs a Store and performs the initial load. It returns an
// error if the DEFAULT routing entry is missing after the initial load,
// since no inbound intent can ever be routed without it.
func NewStore(db *database.DB, bus *events.Bus, log zerolog.Logger) (*Store, error) {
	s := &Store{
		db:  db,
		bus: bus,
		log: log.With().Str("component", "config_store").Logger(),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	if _, ok := s.routing[domain.DefaultStrategy]; !ok {
		return nil, errkind.New(errkind.ConfigInvalid, "", "DEFAULT routing entry is missing", nil)
	}
	return s, nil
}

// StartPolling begins the background hot-reload poll at the given cron
// expression (e.g. "@every 15s"). Call Stop to halt it during shutdown.
func (s *Store) StartPolling(spec string) error {
	s.scheduler = cron.New()
	id, err := s.scheduler.AddFunc(spec, func() {
		if err := s.pollAndDiff(); err != nil {
			s.log.Error().Err(err).Msg("config hot-reload poll failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule config hot-reload poll: %w", err)
	}
	s.cronID = id
	s.scheduler.Start()
	return nil
}

// Stop halts the background poll. Safe to call even if polling never started.
func (s *Store) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// Routing returns the routing entry for a strategy name, falling back to
// DEFAULT when the name is unrecognized.
func (s *Store) Routing(strategyName string) domain.RoutingEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry, ok := s.routing[strategyName]; ok {
		return entry
	}
	return s.routing[domain.DefaultStrategy]
}

// Defaults returns the trading defaults for a symbol, falling back to the
// global ("") default row when no symbol-specific override exists.
func (s *Store) Defaults(symbol string) domain.TradingDefaults {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.defaults[symbol]; ok {
		return d
	}
	return s.defaults[""]
}

// pollAndDiff reloads from the database and, if anything changed, swaps the
// cache and emits ConfigReloaded. A DEFAULT entry that would disappear on
// reload is refused — the prior cache is kept and the poll logs an error
// instead of leaving the fleet without a fallback route.
func (s *Store) pollAndDiff() error {
	newRouting, newDefaults, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := newRouting[domain.DefaultStrategy]; !ok {
		return errkind.New(errkind.ConfigInvalid, "", "reload rejected: DEFAULT routing entry missing", nil)
	}

	s.mu.Lock()
	changed := !routingEqual(s.routing, newRouting) || !defaultsEqual(s.defaults, newDefaults)
	s.routing = newRouting
	s.defaults = newDefaults
	s.mu.Unlock()

	if changed {
		s.log.Info().Msg("routing/defaults changed, cache refreshed")
		if s.bus != nil {
			s.bus.Emit(events.ConfigReloaded, "config_store", map[string]interface{}{
				"strategy_count": len(newRouting),
			})
		}
	}
	return nil
}

func (s *Store) reload() error {
	routing, defaults, err := s.load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.routing = routing
	s.defaults = defaults
	s.mu.Unlock()
	return nil
}

func (s *Store) load() (map[string]domain.RoutingEntry, map[string]domain.TradingDefaults, error) {
	routing := make(map[string]domain.RoutingEntry)
	defaults := make(map[string]domain.TradingDefaults)

	rows, err := s.db.Query(`SELECT strategy_name, account_set FROM routing_entries`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query routing_entries: %w", err)
	}
	func() {
		defer rows.Close()
		for rows.Next() {
			var strategyName, accountSetJSON string
			if err := rows.Scan(&strategyName, &accountSetJSON); err != nil {
				s.log.Error().Err(err).Msg("failed to scan routing_entries row")
				continue
			}
			var accountSet []string
			if err := json.Unmarshal([]byte(accountSetJSON), &accountSet); err != nil {
				s.log.Error().Err(err).Str("strategy", strategyName).Msg("failed to decode account_set")
				continue
			}
			routing[strategyName] = domain.RoutingEntry{StrategyName: strategyName, AccountSet: accountSet}
		}
	}()

	drows, err := s.db.Query(`SELECT symbol, quantity, tp_ticks, sl_ticks, rr_ratio, tick_size FROM trading_defaults`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query trading_defaults: %w", err)
	}
	func() {
		defer drows.Close()
		for drows.Next() {
			var symbol string
			var quantity, rrRatio, tickSize float64
			var tpTicks, slTicks int
			if err := drows.Scan(&symbol, &quantity, &tpTicks, &slTicks, &rrRatio, &tickSize); err != nil {
				s.log.Error().Err(err).Msg("failed to scan trading_defaults row")
				continue
			}
			defaults[symbol] = domain.TradingDefaults{
				Quantity: quantity, TPTicks: tpTicks, SLTicks: slTicks, RRRatio: rrRatio,
				TickOverrides: map[string]float64{symbol: tickSize},
			}
		}
	}()

	return routing, defaults, nil
}

// SeedDefaultRouting inserts the DEFAULT routing entry if one does not
// already exist, so a fresh fleet.db always has a usable fallback route.
func SeedDefaultRouting(db *database.DB, accounts []string) error {
	accountSetJSON, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("failed to encode account_set: %w", err)
	}
	return database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRow(`SELECT COUNT(*) FROM routing_entries WHERE strategy_name = ?`, domain.DefaultStrategy).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check for DEFAULT routing entry: %w", err)
		}
		if exists > 0 {
			return nil
		}
		_, err = tx.Exec(`INSERT INTO routing_entries (strategy_name, account_set, updated_at) VALUES (?, ?, strftime('%s','now'))`,
			domain.DefaultStrategy, string(accountSetJSON))
		return err
	})
}

func routingEqual(a, b map[string]domain.RoutingEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || len(av.AccountSet) != len(bv.AccountSet) {
			return false
		}
		for i := range av.AccountSet {
			if av.AccountSet[i] != bv.AccountSet[i] {
				return false
			}
		}
	}
	return true
}

func defaultsEqual(a, b map[string]domain.TradingDefaults) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || av.Quantity != bv.Quantity || av.TPTicks != bv.TPTicks ||
			av.SLTicks != bv.SLTicks || av.RRRatio != bv.RRRatio ||
			av.TickOverrides[k] != bv.TickOverrides[k] {
			return false
		}
	}
	return true
}
