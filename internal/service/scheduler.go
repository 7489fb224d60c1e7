package service

import (
	"context"
	"time"

	"github.com/timmy/vidflow/internal/domain"
	"github.com/timmy/vidflow/internal/logger"
	"github.com/timmy/vidflow/internal/pool"
)

// completionTimeout bounds the follow-up write that records a drained job's outcome.
const completionTimeout = 10 * time.Second

// DrainPool is the side of the shared pool the scheduler uses. It never applies a rejection policy.
type DrainPool interface {
	pool.Probe
	TrySubmit(task pool.Task) error
}

// DrainQueue is the overflow queue as seen by the scheduler.
type DrainQueue interface {
	PollPending(ctx context.Context, limit int) ([]domain.QueueJob, error)
	MarkCompleted(ctx context.Context, id uint) error
	MarkFailed(ctx context.Context, id uint) error
	ResetStuckProcessing(ctx context.Context, cutoff time.Time) (int64, error)
}

// DrainScheduler moves pending overflow entries into the worker pool as capacity frees up.
type DrainScheduler struct {
	pool       DrainPool
	queue      DrainQueue
	tasks      TaskFactory
	interval   time.Duration
	stuckAfter time.Duration
}

// NewDrainScheduler creates a scheduler ticking every interval.
// stuckAfter is the age past which an entry left in processing is reclaimed at startup; zero disables it.
func NewDrainScheduler(p DrainPool, queue DrainQueue, tasks TaskFactory, interval, stuckAfter time.Duration) *DrainScheduler {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &DrainScheduler{
		pool:       p,
		queue:      queue,
		tasks:      tasks,
		interval:   interval,
		stuckAfter: stuckAfter,
	}
}

// Run reclaims stuck entries once, then ticks until ctx is cancelled.
func (s *DrainScheduler) Run(ctx context.Context) {
	ctx = logger.SetComponent(ctx, "drain_scheduler")
	s.Recover(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.CtxInfo(ctx, "Drain scheduler started: interval=%s", s.interval)
	for {
		select {
		case <-ctx.Done():
			logger.CtxInfo(ctx, "Drain scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Recover marks entries left in processing by a crashed instance as failed.
func (s *DrainScheduler) Recover(ctx context.Context) {
	if s.stuckAfter <= 0 {
		return
	}
	n, err := s.queue.ResetStuckProcessing(ctx, time.Now().Add(-s.stuckAfter))
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to reclaim stuck queue entries")
		return
	}
	if n > 0 {
		logger.With(logger.Fields{logger.FieldCount: n}).Warn(ctx, "Reclaimed stuck queue entries as failed")
	}
}

// Tick claims up to the pool's available capacity and dispatches each claimed entry.
// It never waits on pipeline execution. Returns the number of entries dispatched.
func (s *DrainScheduler) Tick(ctx context.Context) int {
	available := s.pool.Sample().Available()
	if available == 0 {
		return 0
	}

	// Entries claimed before a failing claim are still dispatched.
	jobs, err := s.queue.PollPending(ctx, available)
	if err != nil {
		logger.FromContext(ctx).WithError(err).WithField("claimed", len(jobs)).
			Error("Failed to poll overflow queue")
	}
	if len(jobs) == 0 {
		return 0
	}

	dispatched := 0
	for i := range jobs {
		job := domain.VideoJobFromQueue(&jobs[i])
		task := s.tasks.Task(job)
		task.OnDone = s.completion(ctx, job.QueueID)

		if err := s.pool.TrySubmit(task); err != nil {
			logger.FromContext(ctx).WithField(logger.FieldQueueID, job.QueueID).WithError(err).
				Warn("Dispatch failed, marking queue entry failed")
			s.record(ctx, job.QueueID, err)
			continue
		}
		dispatched++
	}

	logger.With(logger.Fields{
		logger.FieldCount: dispatched,
		"claimed":         len(jobs),
		"available":       available,
	}).Info(ctx, "Drained overflow queue")
	return dispatched
}

// completion returns the task callback that records the outcome in its own short write.
func (s *DrainScheduler) completion(ctx context.Context, queueID uint) func(error) {
	return func(runErr error) {
		s.record(ctx, queueID, runErr)
	}
}

func (s *DrainScheduler) record(ctx context.Context, queueID uint, runErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completionTimeout)
	defer cancel()

	var err error
	if runErr == nil {
		err = s.queue.MarkCompleted(ctx, queueID)
	} else {
		err = s.queue.MarkFailed(ctx, queueID)
	}
	if err != nil {
		logger.FromContext(ctx).WithField(logger.FieldQueueID, queueID).WithError(err).
			Error("Failed to record queue entry outcome")
	}
}
