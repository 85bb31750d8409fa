package di

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/riverlock/fleetctl/internal/queue"
)

const probeHistoryRetention = 30 * 24 * time.Hour

// buildJobRegistry wires one handler per JobType the queue package defines.
// Two job types (restart_instance, restore_snapshot) exist purely as an
// audit trail: the Watchdog already performs the actual relaunch and
// snapshot replay synchronously within its recovery budget, so these
// handlers only record that the event-driven side effect fired. The
// remaining job types do real best-effort work the synchronous recovery
// path does not already cover.
func buildJobRegistry(container *Container, log zerolog.Logger) *queue.Registry {
	log = log.With().Str("component", "job_registry").Logger()
	registry := queue.NewRegistry()

	registry.Register(queue.JobTypeRestartInstance, func(job *queue.Job) error {
		account, _ := job.Payload["account_name"].(string)
		log.Info().Str("account_name", account).Msg("restart_instance recorded (relaunch already handled synchronously by watchdog)")
		return nil
	})

	registry.Register(queue.JobTypeRestoreSnapshot, func(job *queue.Job) error {
		account, _ := job.Payload["account_name"].(string)
		log.Info().Str("account_name", account).Msg("restore_snapshot recorded (replay already handled synchronously by watchdog)")
		return nil
	})

	registry.Register(queue.JobTypeReinjectBundle, func(job *queue.Job) error {
		account, _ := job.Payload["account_name"].(string)
		adp, ok := container.Adapters[account]
		if !ok {
			return fmt.Errorf("no adapter registered for account %q", account)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return adp.EnsureReady(ctx)
	})

	registry.Register(queue.JobTypeArchiveSnapshot, func(job *queue.Job) error {
		if container.R2Client == nil || container.Snapshot == nil {
			return nil
		}
		account, _ := job.Payload["account_name"].(string)
		snap, ok, err := container.Snapshot.Load(account)
		if err != nil || !ok {
			return err
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		key := fmt.Sprintf("queue-archive/snapshots/%s/%d.json", account, job.CreatedAt.Unix())
		return container.R2Client.Upload(ctx, key, bytes.NewReader(data), int64(len(data)))
	})

	registry.Register(queue.JobTypeArchiveCrashReport, func(job *queue.Job) error {
		if container.R2Client == nil {
			return nil
		}
		account, _ := job.Payload["account_name"].(string)
		report := map[string]interface{}{
			"account_name": account,
			"detail":       job.Payload,
			"recorded_at":  job.CreatedAt,
		}
		data, err := json.Marshal(report)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		key := fmt.Sprintf("queue-archive/crash-reports/%s/%d.json", account, job.CreatedAt.Unix())
		return container.R2Client.Upload(ctx, key, bytes.NewReader(data), int64(len(data)))
	})

	registry.Register(queue.JobTypeWALCheckpoint, func(job *queue.Job) error {
		if err := container.FleetDB.WALCheckpoint("TRUNCATE"); err != nil {
			return err
		}
		return container.CacheDB.WALCheckpoint("TRUNCATE")
	})

	registry.Register(queue.JobTypeProbeHistoryCleanup, func(job *queue.Job) error {
		cutoff := time.Now().Add(-probeHistoryRetention).Unix()
		_, err := container.CacheDB.Exec(`DELETE FROM probe_history WHERE observed_at < ?`, cutoff)
		return err
	})

	return registry
}
