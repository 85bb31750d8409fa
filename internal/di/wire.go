package di

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

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

// backupSchedule runs a full R2 backup once every six hours. Not part of
// the documented API; an ambient reliability concern the teacher's stack
// (and this repo's retained reliability package) assumes every deployment
// carries.
const backupSchedule = "@every 6h"

// configReloadSchedule is how often the Store polls fleet.db for routing
// and trading-default changes.
const configReloadSchedule = "@every 15s"

// Wire initializes every dependency in order and returns a fully
// configured Container. On error, everything successfully initialized so
// far is torn down before returning.
//
// 1. Check for and execute a pending staged restore (before any database
//    connection is opened, so a restore can never race an open handle).
// 2. Open fleet.db and cache.db, applying embedded schemas.
// 3. Load the account roster from the credentials file and seed the
//    DEFAULT routing entry if fleet.db is fresh.
// 4. Wire the event bus and the hot-reloadable config Store.
// 5. Wire the reliability stack (R2 client, backup/restore services).
// 6. Wire the Supervisor, snapshot Store, Watchdog, and Fleet Controller.
// 7. Wire the background job queue (manager, registry, worker pool,
//    time-based scheduler) and bridge fleet events into it.
// 8. Launch one browser instance per account, wiring its Session Adapter
//    into both the Watchdog and the Fleet Controller.
// 9. Wire the Intent Router and Dashboard API handlers.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{log: log, Adapters: make(map[string]*adapter.Adapter)}

	restoreSvc := reliability.NewRestoreService(nil, cfg.DataDir, log)
	hasPending, err := restoreSvc.CheckPendingRestore()
	if err != nil {
		log.Error().Err(err).Msg("Failed to check for pending restore")
	}
	if hasPending {
		log.Warn().Msg("Pending restore detected, executing staged restore")
		if err := restoreSvc.ExecuteStagedRestore(); err != nil {
			return nil, fmt.Errorf("failed to execute staged restore: %w", err)
		}
	}
	container.RestoreService = restoreSvc

	fleetDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "fleet.db"),
		Profile: database.ProfileStandard,
		Name:    "fleet",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open fleet.db: %w", err)
	}
	container.FleetDB = fleetDB
	if err := fleetDB.Migrate(); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to migrate fleet.db: %w", err)
	}

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to open cache.db: %w", err)
	}
	container.CacheDB = cacheDB
	if err := cacheDB.Migrate(); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to migrate cache.db: %w", err)
	}

	accounts, err := config.LoadAccountRoster(cfg.CredentialsPath)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to load account roster: %w", err)
	}
	if err := config.SeedDefaultRouting(fleetDB, accounts); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to seed default routing entry: %w", err)
	}

	bus := events.NewBus(log)
	container.Bus = bus

	configStore, err := config.NewStore(fleetDB, bus, log)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to wire config store: %w", err)
	}
	container.ConfigStore = configStore
	if err := configStore.StartPolling(configReloadSchedule); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to start config hot-reload: %w", err)
	}

	if cfg.R2.Enabled() {
		r2Client, err := reliability.NewR2Client(cfg.R2.AccountID, cfg.R2.AccessKeyID, cfg.R2.SecretAccessKey, cfg.R2.Bucket, log)
		if err != nil {
			log.Error().Err(err).Msg("Failed to wire R2 client, archival disabled")
		} else {
			container.R2Client = r2Client
			backupSvc := reliability.NewBackupService(cfg.DataDir, []string{"fleet", "cache"}, log)
			container.BackupService = backupSvc
			container.R2BackupSvc = reliability.NewR2BackupService(r2Client, backupSvc, cfg.DataDir, log)
			container.RestoreService = reliability.NewRestoreService(r2Client, cfg.DataDir, log)

			container.BackupCron = cron.New()
			if _, err := container.BackupCron.AddFunc(backupSchedule, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				defer cancel()
				if err := container.R2BackupSvc.CreateAndUploadBackup(ctx); err != nil {
					log.Error().Err(err).Msg("scheduled backup failed")
				}
			}); err != nil {
				container.Close()
				return nil, fmt.Errorf("failed to schedule backup job: %w", err)
			}
			container.BackupCron.Start()
		}
	}

	sup := supervisor.New(supervisor.Config{
		BinaryPath:      cfg.BinaryPath,
		ProfileRoot:     cfg.ProfileRoot,
		ProtectedPort:   cfg.ProtectedPort,
		ManagedPortBase: cfg.ManagedPortBase,
		StartupTimeout:  30 * time.Second,
	}, log)
	container.Supervisor = sup

	snapStore := snapshot.NewStore(filepath.Join(cfg.DataDir, "recovery"), container.R2Client, log)
	container.Snapshot = snapStore

	wd := watchdog.New(watchdog.Config{
		ProbeInterval:         time.Duration(cfg.Watchdog.ProbeIntervalSeconds) * time.Second,
		ConfirmationThreshold: cfg.Watchdog.ConfirmCount,
		RecoveryBudget:        time.Duration(cfg.Watchdog.RecoveryBudgetSeconds) * time.Second,
		MaxRestarts:           cfg.Watchdog.MaxRestarts,
	}, sup, snapStore, bus, log)
	wd.AttachCacheDB(cacheDB)
	container.Watchdog = wd

	fleetController := fleet.New(bus, log)
	fleetController.AttachDB(fleetDB)
	container.Fleet = fleetController

	jobManager := queue.NewManager(queue.NewMemoryQueue(), queue.NewHistory(cacheDB.Conn()))
	container.JobManager = jobManager
	jobRegistry := buildJobRegistry(container, log)
	queue.RegisterListeners(bus, jobManager, jobRegistry, log)

	jobWorkers := queue.NewWorkerPool(jobManager, jobRegistry, 2)
	jobWorkers.SetLogger(log)
	container.JobWorkers = jobWorkers

	jobCron := queue.NewScheduler(jobManager)
	jobCron.SetLogger(log)
	container.JobCron = jobCron

	bundleSource, err := os.ReadFile(cfg.BundlePath)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to read instrumentation bundle: %w", err)
	}

	for i, accountName := range accounts {
		port := cfg.ManagedPortBase + i
		if err := launchInstance(container, cfg, string(bundleSource), accountName, port, log); err != nil {
			log.Error().Err(err).Str("account_name", accountName).Msg("failed to launch instance at startup, continuing with remaining accounts")
		}
	}

	container.IntentRouter = intent.NewRouter(fleetController, configStore, log)

	stream := dashboard.NewEventsStreamHandler(bus, log)
	container.DashboardRoutes = dashboard.NewHandlers(fleetController, container.IntentRouter, stream, log)

	if err := wd.Start(); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to start watchdog probe loop: %w", err)
	}
	jobWorkers.Start()
	jobCron.Start()

	log.Info().Int("accounts", len(accounts)).Msg("Dependency injection wiring completed")
	return container, nil
}

// launchInstance spawns one browser instance, brings its adapter to Ready,
// and registers it with both the Watchdog and the Fleet Controller. A
// failure here is per-account and non-fatal to the rest of the fleet - the
// Watchdog will retry struggling accounts once probing begins, but an
// instance that never launched at all has nothing to probe, so this is
// logged rather than retried automatically.
func launchInstance(container *Container, cfg *config.Config, bundleSource, accountName string, port int, log zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	record, handle, err := container.Supervisor.Launch(ctx, accountName, port)
	if err != nil {
		return fmt.Errorf("launch failed: %w", err)
	}

	adp := adapter.New(adapter.Config{
		AccountName:  accountName,
		Port:         port,
		TradingHost:  cfg.TradingHost,
		BundleSource: bundleSource,
	}, log)

	if err := adp.EnsureReady(ctx); err != nil {
		_ = container.Supervisor.Terminate(record, handle)
		return fmt.Errorf("adapter never reached ready: %w", err)
	}

	container.Adapters[accountName] = adp
	container.Watchdog.Register(record, handle, adp)
	container.Fleet.Register(record, adp)
	return nil
}
