package watchdog

import (
	"context"
	"time"

	"github.com/riverlock/fleetctl/internal/domain"
	"github.com/riverlock/fleetctl/internal/events"
	"github.com/riverlock/fleetctl/internal/snapshot"
)

// recover runs the full recovery sequence for a confirmed failure: snapshot
// capture, terminate, relaunch on the same port with a fresh profile dir,
// wait for Ready, restore the snapshot, reset counters. The whole sequence
// is bounded by the configured recovery budget; exceeding it moves the
// instance to Failed instead of retrying further.
func (w *Watchdog) recover(accountName string, inst *managedInstance, failClass domain.FailureClass) {
	inst.mu.Lock()
	if inst.recovering {
		inst.mu.Unlock()
		return
	}
	inst.recovering = true
	record := inst.record
	handle := inst.handle
	adapter := inst.adapter
	inst.mu.Unlock()

	if record.RestartAttempts >= w.cfg.MaxRestarts {
		w.log.Error().Str("account_name", accountName).Int("restart_attempts", record.RestartAttempts).
			Msg("Recovery: restart ceiling exceeded, marking permanently failed")
		inst.mu.Lock()
		inst.recovering = false
		inst.mu.Unlock()
		w.fail(accountName, record)
		return
	}

	defer func() {
		inst.mu.Lock()
		inst.recovering = false
		inst.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.RecoveryBudget)
	defer cancel()

	w.log.Info().Str("account_name", accountName).Str("failure_class", string(failClass)).Msg("Recovery starting")
	w.bus.Emit(events.InstanceRestarting, "watchdog", map[string]interface{}{
		"account_name":  accountName,
		"failure_class": string(failClass),
	})

	record.State = domain.StateRestarting

	var snap domain.Snapshot
	var haveSnapshot bool
	if captured, err := snapshot.CaptureFromAdapter(ctx, accountName, adapter); err == nil {
		snap = captured
		haveSnapshot = true
		if w.store != nil {
			if err := w.store.Capture(ctx, snap); err != nil {
				w.log.Warn().Err(err).Str("account_name", accountName).Msg("Failed to persist pre-recovery snapshot")
			} else {
				w.bus.Emit(events.SnapshotCaptured, "watchdog", map[string]interface{}{"account_name": accountName})
			}
		}
	} else {
		w.log.Warn().Err(err).Str("account_name", accountName).Msg("Failed to capture pre-recovery snapshot, proceeding without one")
	}

	if err := w.supervisor.Terminate(record, handle); err != nil {
		w.log.Error().Err(err).Str("account_name", accountName).Msg("Recovery: terminate failed")
		w.fail(accountName, record)
		return
	}

	newRecord, newHandle, err := w.supervisor.Launch(ctx, accountName, record.Port)
	if err != nil {
		w.log.Error().Err(err).Str("account_name", accountName).Msg("Recovery: relaunch failed")
		w.fail(accountName, record)
		return
	}
	newRecord.RestartAttempts = record.RestartAttempts + 1
	newRecord.InjectionGeneration = record.InjectionGeneration

	inst.mu.Lock()
	inst.record = newRecord
	inst.handle = newHandle
	inst.mu.Unlock()

	if err := w.waitForReady(ctx, adapter); err != nil {
		w.log.Error().Err(err).Str("account_name", accountName).Msg("Recovery: adapter never reached Ready")
		w.fail(accountName, newRecord)
		return
	}

	if haveSnapshot {
		if err := snapshot.Restore(ctx, snap, adapter); err != nil {
			w.log.Warn().Err(err).Str("account_name", accountName).Msg("Recovery: snapshot restore did not fully verify")
		}
	}

	inst.mu.Lock()
	inst.consecutiveFailures = 0
	inst.record.State = domain.StateRunning
	inst.record.ConsecutiveFailures = 0
	inst.record.LastHealthyAt = time.Now()
	inst.mu.Unlock()

	w.log.Info().Str("account_name", accountName).Msg("Recovery succeeded")
	w.bus.Emit(events.InstanceRecovered, "watchdog", map[string]interface{}{"account_name": accountName})
}

func (w *Watchdog) waitForReady(ctx context.Context, adapter SessionAdapter) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := adapter.EnsureReady(ctx); err == nil {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Watchdog) fail(accountName string, record *domain.InstanceRecord) {
	record.State = domain.StateFailed
	w.bus.Emit(events.InstanceFailed, "watchdog", map[string]interface{}{"account_name": accountName})
}
