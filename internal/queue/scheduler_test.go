package queue

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupSchedulerTest(t *testing.T) (*Scheduler, *Manager, *sql.DB) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS job_history (
			job_type TEXT PRIMARY KEY,
			last_run_at INTEGER,
			last_status TEXT NOT NULL DEFAULT 'success'
		)
	`)
	require.NoError(t, err)

	queue := NewMemoryQueue()
	history := NewHistory(db)
	manager := NewManager(queue, history)

	scheduler := NewScheduler(manager)

	return scheduler, manager, db
}

func TestScheduler_EnqueueTimeBasedJob(t *testing.T) {
	scheduler, manager, db := setupSchedulerTest(t)
	defer db.Close()

	// Enqueue a job that should run (never run before)
	enqueued := scheduler.enqueueTimeBasedJob(JobTypeWALCheckpoint, PriorityLow, 1*time.Hour)
	assert.True(t, enqueued)
	assert.Equal(t, 1, manager.Size())

	// Record execution
	err := manager.RecordExecution(JobTypeWALCheckpoint, "success")
	require.NoError(t, err)

	// Try again - should not enqueue (interval not passed)
	enqueued = scheduler.enqueueTimeBasedJob(JobTypeWALCheckpoint, PriorityLow, 1*time.Hour)
	assert.False(t, enqueued)
	assert.Equal(t, 1, manager.Size()) // Still 1 from before
}

func TestScheduler_StartStop(t *testing.T) {
	scheduler, _, _ := setupSchedulerTest(t)

	scheduler.Start()
	time.Sleep(100 * time.Millisecond)
	scheduler.Stop()
	time.Sleep(100 * time.Millisecond)
}
