package repository

import (
	"context"
	"fmt"

	"github.com/timmy/vidflow/internal/domain"
	"gorm.io/gorm"
)

// FeedbackRepository handles generated feedback persistence.
type FeedbackRepository struct {
	db *gorm.DB
}

// NewFeedbackRepository creates a new FeedbackRepository.
func NewFeedbackRepository(db *gorm.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// Create inserts a feedback row.
func (r *FeedbackRepository) Create(ctx context.Context, fb *domain.Feedback) error {
	if err := r.db.WithContext(ctx).Create(fb).Error; err != nil {
		return fmt.Errorf("failed to create feedback: %w", err)
	}
	return nil
}

// GetByID retrieves feedback by its ID.
func (r *FeedbackRepository) GetByID(ctx context.Context, id uint) (*domain.Feedback, error) {
	var fb domain.Feedback
	if err := r.db.WithContext(ctx).First(&fb, id).Error; err != nil {
		return nil, err
	}
	return &fb, nil
}
