package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID identifies one pipeline execution
	FieldJobID = "job_id"

	// FieldVideoID is the video record ID
	FieldVideoID = "video_id"

	// FieldQueueID is the overflow queue entry ID (slow path only)
	FieldQueueID = "queue_id"

	// FieldOwnerID is the user that uploaded the video
	FieldOwnerID = "owner_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldStage is the pipeline stage currently running
	FieldStage = "stage"

	// FieldPath is the admission path (fast or slow)
	FieldPath = "path"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
