package domain

import "time"

// Feedback is the generated review for an accepted answer transcript.
type Feedback struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	VideoID    uint      `gorm:"not null;index" json:"video_id"`
	QuestionID uint64    `gorm:"not null;index" json:"question_id"`
	Answer     string    `gorm:"type:text" json:"answer"`
	Content    string    `gorm:"type:text" json:"content"`
	Model      string    `gorm:"type:text" json:"model"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for Feedback.
func (Feedback) TableName() string {
	return "feedbacks"
}
