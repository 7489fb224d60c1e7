package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/vidflow/internal/domain"
	"github.com/timmy/vidflow/internal/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueueRepository is the durable overflow queue for deferred video jobs.
// Claims are conditional updates so concurrent schedulers never share an entry.
type QueueRepository struct {
	db *gorm.DB
}

// NewQueueRepository creates a new QueueRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *QueueRepository: repository instance bound to db.
func NewQueueRepository(db *gorm.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Enqueue persists a job as pending.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: entry to persist; ID is assigned on success.
// Returns:
//   - uint: the queue id.
//   - error: non-nil if the insert fails.
func (r *QueueRepository) Enqueue(ctx context.Context, job *domain.QueueJob) (uint, error) {
	job.ID = 0
	job.Status = domain.JobStatusPending
	job.StartedAt = nil
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return 0, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job.ID, nil
}

// GetByID retrieves a queue entry by its ID.
func (r *QueueRepository) GetByID(ctx context.Context, id uint) (*domain.QueueJob, error) {
	var job domain.QueueJob
	if err := r.db.WithContext(ctx).First(&job, id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// PollPending claims up to limit of the oldest pending entries.
// Every returned entry is already in processing; entries taken by a
// concurrent claimer between selection and claim are skipped silently.
// An entry whose claim fails is marked failed and the rest of the batch
// is still claimed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of entries to claim.
// Returns:
//   - []domain.QueueJob: claimed entries ordered by submission time.
//   - error: non-nil if the candidate query fails or any claim failed;
//     the claimed entries are returned alongside claim errors.
func (r *QueueRepository) PollPending(ctx context.Context, limit int) ([]domain.QueueJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	var ids []uint
	if err := r.db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Where("status = ?", domain.JobStatusPending).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to select pending jobs: %w", err)
	}

	claimed := make([]domain.QueueJob, 0, len(ids))
	var errs []error
	for _, id := range ids {
		job, err := r.claim(ctx, id)
		if err != nil {
			logger.ForQueue(id).WithErr(err).Warn(ctx, "Claim failed, marking entry failed")
			if ferr := r.failPending(ctx, id); ferr != nil {
				err = errors.Join(err, ferr)
			}
			errs = append(errs, err)
			continue
		}
		if job != nil {
			claimed = append(claimed, *job)
		}
	}
	return claimed, errors.Join(errs...)
}

// failPending fails an entry that is still pending after a broken claim.
func (r *QueueRepository) failPending(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Where("id = ? AND status = ?", id, domain.JobStatusPending).
		Updates(map[string]interface{}{
			"status":      domain.JobStatusFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark job %d failed: %w", id, err)
	}
	return nil
}

// MarkProcessing atomically flips a single pending entry to processing.
// Returns false without error when the entry is no longer pending.
func (r *QueueRepository) MarkProcessing(ctx context.Context, id uint) (bool, error) {
	job, err := r.claim(ctx, id)
	if err != nil {
		return false, err
	}
	return job != nil, nil
}

// claim runs the pending -> processing transition in its own transaction.
func (r *QueueRepository) claim(ctx context.Context, id uint) (*domain.QueueJob, error) {
	var claimed *domain.QueueJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if isPostgres(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var job domain.QueueJob
		err := q.Where("id = ? AND status = ?", id, domain.JobStatusPending).First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		now := time.Now()
		res := tx.Model(&domain.QueueJob{}).
			Where("id = ? AND status = ?", id, domain.JobStatusPending).
			Updates(map[string]interface{}{
				"status":     domain.JobStatusProcessing,
				"started_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return nil
		}

		job.Status = domain.JobStatusProcessing
		job.StartedAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %d: %w", id, err)
	}
	return claimed, nil
}

// MarkCompleted removes a finished entry from the queue.
func (r *QueueRepository) MarkCompleted(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&domain.QueueJob{}, id).Error; err != nil {
		return fmt.Errorf("failed to complete job %d: %w", id, err)
	}
	return nil
}

// MarkFailed sets an entry to failed and increments its retry count.
func (r *QueueRepository) MarkFailed(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      domain.JobStatusFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark job %d failed: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountByStatus returns the number of entries in the given status.
func (r *QueueRepository) CountByStatus(ctx context.Context, status domain.JobStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

// Stats returns entry counts grouped by status.
func (r *QueueRepository) Stats(ctx context.Context) (map[domain.JobStatus]int64, error) {
	var rows []struct {
		Status domain.JobStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count queue: %w", err)
	}

	stats := map[domain.JobStatus]int64{
		domain.JobStatusPending:    0,
		domain.JobStatusProcessing: 0,
		domain.JobStatusFailed:     0,
	}
	for _, row := range rows {
		stats[row.Status] = row.Count
	}
	return stats, nil
}

// ListByStatus returns up to limit entries in the given status, oldest first.
func (r *QueueRepository) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.QueueJob, error) {
	var jobs []domain.QueueJob
	q := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// RequeueFailed moves failed entries back to pending.
// Only entries with retry_count below maxRetries are eligible. When ids is
// empty every eligible entry is requeued.
// Returns:
//   - int64: number of entries requeued.
//   - error: non-nil if the update fails.
func (r *QueueRepository) RequeueFailed(ctx context.Context, maxRetries int, ids ...uint) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Where("status = ? AND retry_count < ?", domain.JobStatusFailed, maxRetries)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	res := q.Updates(map[string]interface{}{
		"status":     domain.JobStatusPending,
		"started_at": nil,
	})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to requeue jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ResetStuckProcessing fails entries that have been processing since before cutoff.
// It is run at startup to recover claims orphaned by a crash.
func (r *QueueRepository) ResetStuckProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Where("status = ? AND (started_at IS NULL OR started_at < ?)", domain.JobStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":      domain.JobStatusFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reset stuck jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
