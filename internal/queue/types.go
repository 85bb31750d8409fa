package queue

import "time"

// JobType represents the type of job
type JobType string

const (
	// JobTypeRestartInstance relaunches a browser process for one account
	// after the Watchdog confirms a failure, within the recovery budget.
	JobTypeRestartInstance JobType = "restart_instance"
	// JobTypeReinjectBundle re-runs script injection against an already
	// running instance whose tab lost the bundle (e.g. after a page reload).
	JobTypeReinjectBundle JobType = "reinject_bundle"
	// JobTypeRestoreSnapshot replays a captured snapshot's trade parameters
	// back into a freshly-Ready instance after recovery.
	JobTypeRestoreSnapshot JobType = "restore_snapshot"
	// JobTypeArchiveSnapshot mirrors a snapshot file to R2 best-effort.
	JobTypeArchiveSnapshot JobType = "archive_snapshot"
	// JobTypeArchiveCrashReport mirrors a crash report to R2 best-effort.
	JobTypeArchiveCrashReport JobType = "archive_crash_report"
	// JobTypeWALCheckpoint runs a periodic WAL checkpoint against fleet.db
	// and cache.db.
	JobTypeWALCheckpoint JobType = "wal_checkpoint"
	// JobTypeProbeHistoryCleanup prunes old rows from cache.db's probe_history.
	JobTypeProbeHistoryCleanup JobType = "probe_history_cleanup"
)

// Priority represents job priority
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// Job represents a queued job
type Job struct {
	ID          string
	Type        JobType
	Priority    Priority
	Payload     map[string]interface{}
	CreatedAt   time.Time
	AvailableAt time.Time
	Retries     int
	MaxRetries  int
}

// Queue interface for job queue operations
type Queue interface {
	Enqueue(job *Job) error
	Dequeue() (*Job, error)
	Size() int
}
