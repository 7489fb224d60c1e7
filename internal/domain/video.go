package domain

import "time"

// ProcessingStatus is the lifecycle state of a VideoRecord.
type ProcessingStatus string

const (
	ProcessingStatusProcessing   ProcessingStatus = "PROCESSING"
	ProcessingStatusTranscribing ProcessingStatus = "TRANSCRIBING"
	ProcessingStatusCompleted    ProcessingStatus = "COMPLETED"
	ProcessingStatusNoResponse   ProcessingStatus = "NO_RESPONSE"
	ProcessingStatusError        ProcessingStatus = "ERROR"
)

// Terminal reports whether no further transitions are allowed.
func (s ProcessingStatus) Terminal() bool {
	switch s {
	case ProcessingStatusCompleted, ProcessingStatusNoResponse, ProcessingStatusError:
		return true
	}
	return false
}

// VideoRecord is the persisted result of one pipeline run.
type VideoRecord struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	QuestionID       uint64           `gorm:"not null;index" json:"question_id"`
	SourceRef        string           `gorm:"type:text;not null" json:"source_ref"`
	VideoURL         string           `gorm:"type:text" json:"video_url"`
	OwnerID          string           `gorm:"type:text;not null;index" json:"owner_id"`
	Visibility       bool             `gorm:"default:false" json:"visibility"`
	ThumbnailRef     string           `gorm:"type:text" json:"thumbnail_ref,omitempty"`
	Transcript       string           `gorm:"type:text" json:"transcript,omitempty"`
	DurationSeconds  float64          `json:"duration_seconds"`
	FeedbackID       *uint            `json:"feedback_id,omitempty"`
	ProcessingStatus ProcessingStatus `gorm:"type:text;default:PROCESSING;index" json:"processing_status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// TableName returns the database table name for VideoRecord.
func (VideoRecord) TableName() string {
	return "videos"
}
