package domain

import "time"

// JobStatus represents the status of an overflow queue entry.
// Values include JobStatusPending, JobStatusProcessing, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// QueueJob is a deferred unit of video work persisted in the overflow queue.
// Entries move pending -> processing -> completed|failed; completed entries are deleted.
type QueueJob struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	QuestionID      uint64     `gorm:"not null;index" json:"question_id"`
	SourceRef       string     `gorm:"type:text;not null" json:"source_ref"`
	OwnerID         string     `gorm:"type:text;not null;index" json:"owner_id"`
	Visibility      bool       `gorm:"default:false" json:"visibility"`
	StartTime       int64      `json:"start_time"` // ingest receipt, unix ms
	UsePresignedURL bool       `json:"use_presigned_url"`
	Status          JobStatus  `gorm:"type:text;default:pending;index:idx_queue_status_created,priority:1" json:"status"`
	RetryCount      int        `gorm:"default:0" json:"retry_count"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CreatedAt       time.Time  `gorm:"index:idx_queue_status_created,priority:2" json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName returns the database table name for QueueJob.
func (QueueJob) TableName() string {
	return "video_processing_queue"
}

// VideoJob is the in-memory description of one pipeline run, built either
// directly from an ingest request (fast path) or from a claimed QueueJob.
type VideoJob struct {
	QuestionID      uint64
	SourceRef       string
	OwnerID         string
	Visibility      bool
	StartTime       int64
	UsePresignedURL bool
	QueueID         uint // zero on the fast path
}

// FromQueue is true when the job was dispatched from the overflow queue.
func (j VideoJob) FromQueue() bool {
	return j.QueueID != 0
}

// ToQueueJob converts the job into a pending queue entry.
func (j VideoJob) ToQueueJob() *QueueJob {
	return &QueueJob{
		QuestionID:      j.QuestionID,
		SourceRef:       j.SourceRef,
		OwnerID:         j.OwnerID,
		Visibility:      j.Visibility,
		StartTime:       j.StartTime,
		UsePresignedURL: j.UsePresignedURL,
		Status:          JobStatusPending,
	}
}

// VideoJobFromQueue rebuilds the pipeline job for a claimed queue entry.
func VideoJobFromQueue(q *QueueJob) VideoJob {
	return VideoJob{
		QuestionID:      q.QuestionID,
		SourceRef:       q.SourceRef,
		OwnerID:         q.OwnerID,
		Visibility:      q.Visibility,
		StartTime:       q.StartTime,
		UsePresignedURL: q.UsePresignedURL,
		QueueID:         q.ID,
	}
}
