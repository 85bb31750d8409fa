package queue

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler enqueues time-based maintenance jobs: periodic WAL checkpoints
// against fleet.db and cache.db and pruning of cache.db's probe history.
// Recovery jobs (restart, restore, archive) are event-driven via
// RegisterListeners and never go through the Scheduler.
type Scheduler struct {
	manager *Manager
	stop    chan struct{}
	log     zerolog.Logger
	stopped bool
	started bool
	mu      sync.Mutex
}

// NewScheduler creates a new time-based scheduler
func NewScheduler(manager *Manager) *Scheduler {
	return &Scheduler{
		manager: manager,
		stop:    make(chan struct{}),
		log:     zerolog.Nop(),
	}
}

// SetLogger sets the logger for the scheduler
func (s *Scheduler) SetLogger(log zerolog.Logger) {
	s.log = log.With().Str("component", "time_scheduler").Logger()
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started && !s.stopped {
		s.log.Warn().Msg("time scheduler already started, ignoring")
		return
	}

	if s.stopped {
		s.stop = make(chan struct{})
		s.stopped = false
	}

	s.started = true
	s.log.Info().Msg("time scheduler started")

	// WAL checkpoint: hourly
	checkpointTicker := time.NewTicker(1 * time.Hour)
	go func() {
		s.enqueueTimeBasedJob(JobTypeWALCheckpoint, PriorityLow, 1*time.Hour)
		for {
			select {
			case <-s.stop:
				checkpointTicker.Stop()
				return
			case <-checkpointTicker.C:
				s.enqueueTimeBasedJob(JobTypeWALCheckpoint, PriorityLow, 1*time.Hour)
			}
		}
	}()

	// Probe history cleanup: daily at midnight
	cleanupTicker := time.NewTicker(1 * time.Minute)
	go func() {
		for {
			select {
			case <-s.stop:
				cleanupTicker.Stop()
				return
			case now := <-cleanupTicker.C:
				if now.Hour() == 0 && now.Minute() == 0 {
					s.enqueueTimeBasedJob(JobTypeProbeHistoryCleanup, PriorityLow, 24*time.Hour)
				}
			}
		}
	}()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		close(s.stop)
		s.stopped = true
		s.started = false
		s.log.Info().Msg("time scheduler stopped")
	}
}

// enqueueTimeBasedJob enqueues a job if the interval has passed
func (s *Scheduler) enqueueTimeBasedJob(jobType JobType, priority Priority, interval time.Duration) bool {
	enqueued := s.manager.EnqueueIfShouldRun(jobType, priority, interval, map[string]interface{}{})
	if enqueued {
		s.log.Info().
			Str("job_type", string(jobType)).
			Dur("interval", interval).
			Msg("enqueued time-based job")
	} else {
		s.log.Debug().
			Str("job_type", string(jobType)).
			Dur("interval", interval).
			Msg("skipped time-based job (interval not yet passed)")
	}
	return enqueued
}
