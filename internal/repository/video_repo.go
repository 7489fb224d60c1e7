package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/vidflow/internal/domain"
	"gorm.io/gorm"
)

// ErrTerminalRecord is returned when a stage tries to move a record that already reached a terminal status.
var ErrTerminalRecord = errors.New("video record already in a terminal status")

// VideoRepository handles video record persistence.
type VideoRepository struct {
	db *gorm.DB
}

// NewVideoRepository creates a new VideoRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *VideoRepository: repository instance bound to db.
func NewVideoRepository(db *gorm.DB) *VideoRepository {
	return &VideoRepository{db: db}
}

// Create inserts a new record in PROCESSING.
func (r *VideoRepository) Create(ctx context.Context, video *domain.VideoRecord) error {
	video.ProcessingStatus = domain.ProcessingStatusProcessing
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		return fmt.Errorf("failed to create video record: %w", err)
	}
	return nil
}

// GetByID retrieves a video record by its ID.
func (r *VideoRepository) GetByID(ctx context.Context, id uint) (*domain.VideoRecord, error) {
	var video domain.VideoRecord
	if err := r.db.WithContext(ctx).First(&video, id).Error; err != nil {
		return nil, err
	}
	return &video, nil
}

// ListByOwner returns an owner's records, newest first.
func (r *VideoRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.VideoRecord, error) {
	var videos []domain.VideoRecord
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&videos).Error
	return videos, err
}

// Transition moves a non-terminal record to status and applies extra column updates.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: video record ID.
//   - status: target processing status.
//   - fields: additional columns to set, may be nil.
// Returns:
//   - error: ErrTerminalRecord if the record is already terminal or missing.
func (r *VideoRepository) Transition(ctx context.Context, id uint, status domain.ProcessingStatus, fields map[string]interface{}) error {
	updates := map[string]interface{}{"processing_status": status}
	for k, v := range fields {
		updates[k] = v
	}

	res := r.db.WithContext(ctx).
		Model(&domain.VideoRecord{}).
		Where("id = ? AND processing_status NOT IN ?", id, []domain.ProcessingStatus{
			domain.ProcessingStatusCompleted,
			domain.ProcessingStatusNoResponse,
			domain.ProcessingStatusError,
		}).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to move video %d to %s: %w", id, status, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("video %d -> %s: %w", id, status, ErrTerminalRecord)
	}
	return nil
}

// CountByStatus returns record counts grouped by processing status.
func (r *VideoRepository) CountByStatus(ctx context.Context) (map[domain.ProcessingStatus]int64, error) {
	var rows []struct {
		ProcessingStatus domain.ProcessingStatus
		Count            int64
	}
	if err := r.db.WithContext(ctx).
		Model(&domain.VideoRecord{}).
		Select("processing_status, COUNT(*) AS count").
		Group("processing_status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[domain.ProcessingStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.ProcessingStatus] = row.Count
	}
	return counts, nil
}
