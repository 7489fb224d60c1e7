package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/vidflow/internal/domain"
	"github.com/timmy/vidflow/internal/logger"
	"github.com/timmy/vidflow/internal/pool"
)

// DefaultAdmissionThreshold is the load ratio at or above which jobs go to the overflow queue.
const DefaultAdmissionThreshold = 0.8

// AdmissionPath names where an admitted job went.
type AdmissionPath string

const (
	PathFast AdmissionPath = "fast"
	PathSlow AdmissionPath = "slow"
)

// Admission is the routing decision returned to the ingest caller.
type Admission struct {
	Path    AdmissionPath `json:"path"`
	QueueID uint          `json:"queueId,omitempty"`
}

// TaskPool is the submission side of the shared worker pool.
type TaskPool interface {
	pool.Probe
	Submit(task pool.Task) (pool.SubmitResult, error)
}

// JobEnqueuer persists deferred jobs.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job *domain.QueueJob) (uint, error)
}

// TaskFactory turns a job into a pool task.
type TaskFactory interface {
	Task(job domain.VideoJob) pool.Task
}

// AdmissionRouter decides per ingest event between the worker pool and the overflow queue.
type AdmissionRouter struct {
	pool      TaskPool
	queue     JobEnqueuer
	tasks     TaskFactory
	threshold float64
}

// NewAdmissionRouter creates a router. A threshold outside (0, 1] uses DefaultAdmissionThreshold.
func NewAdmissionRouter(p TaskPool, queue JobEnqueuer, tasks TaskFactory, threshold float64) *AdmissionRouter {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultAdmissionThreshold
	}
	return &AdmissionRouter{pool: p, queue: queue, tasks: tasks, threshold: threshold}
}

// Threshold returns the configured load ratio cutoff.
func (r *AdmissionRouter) Threshold() float64 {
	return r.threshold
}

// Admit routes job to the fast path when the pool load ratio is below the
// threshold, otherwise persists it as a pending overflow entry.
// Parameters:
//   - ctx: request context; only the enqueue uses it.
//   - job: the job to admit.
//
// Returns:
//   - *Admission: chosen path and, for the slow path, the queue ID.
//   - error: non-nil only if the slow-path enqueue fails.
func (r *AdmissionRouter) Admit(ctx context.Context, job domain.VideoJob) (*Admission, error) {
	snap := r.pool.Sample()
	load := snap.LoadRatio()

	fields := logger.Fields{
		"question_id":       job.QuestionID,
		logger.FieldOwnerID: job.OwnerID,
		"load_ratio":        load,
		"active":            snap.ActiveWorkers,
		"queued":            snap.QueuedTasks,
	}

	if load < r.threshold {
		res, err := r.pool.Submit(r.tasks.Task(job))
		if err == nil {
			fields[logger.FieldPath] = PathFast
			fields["submit"] = res.String()
			logger.FromContext(ctx).WithFields(fields).Info("Job admitted to worker pool")
			return &Admission{Path: PathFast}, nil
		}
		if !errors.Is(err, pool.ErrPoolStopped) {
			return nil, err
		}
		logger.FromContext(ctx).WithFields(fields).Warn("Worker pool stopped, deferring job to overflow queue")
	}

	id, err := r.queue.Enqueue(ctx, job.ToQueueJob())
	if err != nil {
		return nil, fmt.Errorf("failed to defer job: %w", err)
	}
	fields[logger.FieldPath] = PathSlow
	fields[logger.FieldQueueID] = id
	logger.FromContext(ctx).WithFields(fields).Info("Job deferred to overflow queue")
	return &Admission{Path: PathSlow, QueueID: id}, nil
}
