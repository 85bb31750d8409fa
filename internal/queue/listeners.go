package queue

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/riverlock/fleetctl/internal/events"
)

// RegisterListeners registers event listeners that enqueue recovery jobs in
// response to fleet events. This is the bridge between the Watchdog/Fleet
// Controller's event emissions and the background worker pool: the emitter
// never blocks on recovery work, it just publishes and moves on.
func RegisterListeners(bus *events.Bus, manager *Manager, registry *Registry, log zerolog.Logger) {
	log = log.With().Str("component", "event_listeners").Logger()

	// InstanceDegraded -> restart_instance (CRITICAL priority). The Watchdog
	// has already confirmed the failure before emitting this (a dead process
	// at once, port or tab failures after K consecutive probes).
	_ = bus.Subscribe(events.InstanceDegraded, func(event *events.Event) {
		job := &Job{
			ID:          fmt.Sprintf("%s-%d", JobTypeRestartInstance, event.Timestamp.UnixNano()),
			Type:        JobTypeRestartInstance,
			Priority:    PriorityCritical,
			Payload:     event.Data,
			CreatedAt:   event.Timestamp,
			AvailableAt: event.Timestamp,
			Retries:     0,
			MaxRetries:  3,
		}
		if err := manager.Enqueue(job); err != nil {
			account, _ := event.Data["account_name"].(string)
			log.Error().
				Err(err).
				Str("event_type", string(events.InstanceDegraded)).
				Str("job_type", string(JobTypeRestartInstance)).
				Str("account_name", account).
				Msg("failed to enqueue restart job from degraded event")
		}
	})

	// InstanceRecovered -> restore_snapshot (HIGH priority). Replays the
	// pre-restart snapshot's trade parameters back into the fresh tab.
	_ = bus.Subscribe(events.InstanceRecovered, func(event *events.Event) {
		job := &Job{
			ID:          fmt.Sprintf("%s-%d", JobTypeRestoreSnapshot, event.Timestamp.UnixNano()),
			Type:        JobTypeRestoreSnapshot,
			Priority:    PriorityHigh,
			Payload:     event.Data,
			CreatedAt:   event.Timestamp,
			AvailableAt: event.Timestamp,
			Retries:     0,
			MaxRetries:  3,
		}
		if err := manager.Enqueue(job); err != nil {
			account, _ := event.Data["account_name"].(string)
			log.Error().
				Err(err).
				Str("event_type", string(events.InstanceRecovered)).
				Str("job_type", string(JobTypeRestoreSnapshot)).
				Str("account_name", account).
				Msg("failed to enqueue restore job from recovered event")
		}
	})

	// SnapshotCaptured -> archive_snapshot (LOW priority, best-effort R2 mirror).
	_ = bus.Subscribe(events.SnapshotCaptured, func(event *events.Event) {
		job := &Job{
			ID:          fmt.Sprintf("%s-%d", JobTypeArchiveSnapshot, event.Timestamp.UnixNano()),
			Type:        JobTypeArchiveSnapshot,
			Priority:    PriorityLow,
			Payload:     event.Data,
			CreatedAt:   event.Timestamp,
			AvailableAt: event.Timestamp,
			Retries:     0,
			MaxRetries:  3,
		}
		if err := manager.Enqueue(job); err != nil {
			account, _ := event.Data["account_name"].(string)
			log.Error().
				Err(err).
				Str("event_type", string(events.SnapshotCaptured)).
				Str("job_type", string(JobTypeArchiveSnapshot)).
				Str("account_name", account).
				Msg("failed to enqueue archive job from snapshot event")
		}
	})

	// InstanceFailed -> archive_crash_report (MEDIUM priority, best-effort).
	_ = bus.Subscribe(events.InstanceFailed, func(event *events.Event) {
		job := &Job{
			ID:          fmt.Sprintf("%s-%d", JobTypeArchiveCrashReport, event.Timestamp.UnixNano()),
			Type:        JobTypeArchiveCrashReport,
			Priority:    PriorityMedium,
			Payload:     event.Data,
			CreatedAt:   event.Timestamp,
			AvailableAt: event.Timestamp,
			Retries:     0,
			MaxRetries:  3,
		}
		if err := manager.Enqueue(job); err != nil {
			account, _ := event.Data["account_name"].(string)
			log.Error().
				Err(err).
				Str("event_type", string(events.InstanceFailed)).
				Str("job_type", string(JobTypeArchiveCrashReport)).
				Str("account_name", account).
				Msg("failed to enqueue crash report archival from failed event")
		}
	})
}
