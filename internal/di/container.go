// Package di wires the orchestrator's components together in dependency
// order: databases, the event bus, the hot-reloadable config store, the
// reliability stack, the Supervisor, one Session Adapter per account, the
// Watchdog, the Fleet Controller, the Intent Router, and the Dashboard API.
package di

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/riverlock/fleetctl/internal/adapter"
	"github.com/riverlock/fleetctl/internal/config"
	"github.com/riverlock/fleetctl/internal/dashboard"
	"github.com/riverlock/fleetctl/internal/database"
	"github.com/riverlock/fleetctl/internal/events"
	"github.com/riverlock/fleetctl/internal/fleet"
	"github.com/riverlock/fleetctl/internal/intent"
	"github.com/riverlock/fleetctl/internal/queue"
	"github.com/riverlock/fleetctl/internal/reliability"
	"github.com/riverlock/fleetctl/internal/snapshot"
	"github.com/riverlock/fleetctl/internal/supervisor"
	"github.com/riverlock/fleetctl/internal/watchdog"
)

// Container holds every wired component the process needs after startup.
type Container struct {
	FleetDB *database.DB
	CacheDB *database.DB

	Bus         *events.Bus
	ConfigStore *config.Store

	Supervisor *supervisor.Supervisor
	Snapshot   *snapshot.Store
	Watchdog   *watchdog.Watchdog
	Fleet      *fleet.Controller

	IntentRouter    *intent.Router
	DashboardRoutes *dashboard.Handlers

	R2Client       *reliability.R2Client
	BackupService  *reliability.BackupService
	R2BackupSvc    *reliability.R2BackupService
	RestoreService *reliability.RestoreService
	BackupCron     *cron.Cron

	Adapters map[string]*adapter.Adapter

	JobManager *queue.Manager
	JobWorkers *queue.WorkerPool
	JobCron    *queue.Scheduler

	log zerolog.Logger
}

// Close tears down every background scheduler and database connection.
// Safe to call on a partially wired Container (e.g. after a Wire error).
func (c *Container) Close() {
	if c.JobCron != nil {
		c.JobCron.Stop()
	}
	if c.JobWorkers != nil {
		c.JobWorkers.Stop()
	}
	if c.BackupCron != nil {
		c.BackupCron.Stop()
	}
	if c.Watchdog != nil {
		c.Watchdog.Stop()
	}
	if c.ConfigStore != nil {
		c.ConfigStore.Stop()
	}
	if c.FleetDB != nil {
		if err := c.FleetDB.Close(); err != nil {
			c.log.Error().Err(err).Msg("failed to close fleet.db")
		}
	}
	if c.CacheDB != nil {
		if err := c.CacheDB.Close(); err != nil {
			c.log.Error().Err(err).Msg("failed to close cache.db")
		}
	}
}
