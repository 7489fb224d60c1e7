package domain

// EventVideoProcessed is the push event name for pipeline outcomes.
const EventVideoProcessed = "video-processed"

// EventConnection is sent once when a stream is opened.
const EventConnection = "connection"

// VideoNotification is the payload pushed to the owner when a pipeline run ends.
type VideoNotification struct {
	VideoID    uint             `json:"videoId"`
	Status     ProcessingStatus `json:"status"`
	Message    string           `json:"message"`
	FeedbackID *uint            `json:"feedbackId,omitempty"`
}
