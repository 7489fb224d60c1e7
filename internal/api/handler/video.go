package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/vidflow/internal/api/middleware"
	"github.com/timmy/vidflow/internal/domain"
	"github.com/timmy/vidflow/internal/logger"
	"github.com/timmy/vidflow/internal/service"
	"gorm.io/gorm"
)

// Admitter routes an ingest event to the fast or slow path.
type Admitter interface {
	Admit(ctx context.Context, job domain.VideoJob) (*service.Admission, error)
}

// VideoReader loads processed video records.
type VideoReader interface {
	GetByID(ctx context.Context, id uint) (*domain.VideoRecord, error)
}

// FeedbackReader loads stored feedback.
type FeedbackReader interface {
	GetByID(ctx context.Context, id uint) (*domain.Feedback, error)
}

// VideoHandler handles upload completion and video lookups.
type VideoHandler struct {
	router          Admitter
	videos          VideoReader
	feedbacks       FeedbackReader
	usePresignedURL bool
}

// NewVideoHandler creates a new video handler.
// Parameters:
//   - router: admission router.
//   - videos: video record reader.
//   - feedbacks: feedback reader.
//   - usePresignedURL: media access mode stamped on every admitted job.
//
// Returns:
//   - *VideoHandler: initialized handler.
func NewVideoHandler(router Admitter, videos VideoReader, feedbacks FeedbackReader, usePresignedURL bool) *VideoHandler {
	return &VideoHandler{
		router:          router,
		videos:          videos,
		feedbacks:       feedbacks,
		usePresignedURL: usePresignedURL,
	}
}

// CompleteUploadRequest is sent by the client once the object upload has finished.
type CompleteUploadRequest struct {
	QuestionID uint64 `json:"questionId" binding:"required"`
	VideoKey   string `json:"videoKey" binding:"required"`
	IsOpen     bool   `json:"isOpen"`
}

// CompleteUploadResponse reports where the job was admitted.
type CompleteUploadResponse struct {
	Status  string                `json:"status"`
	Path    service.AdmissionPath `json:"path"`
	QueueID uint                  `json:"queueId,omitempty"`
}

// CompleteUpload handles POST /api/v1/videos/complete-upload.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes 202 with the admission path).
func (h *VideoHandler) CompleteUpload(c *gin.Context) {
	var req CompleteUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job := domain.VideoJob{
		QuestionID:      req.QuestionID,
		SourceRef:       req.VideoKey,
		OwnerID:         middleware.OwnerID(c),
		Visibility:      req.IsOpen,
		StartTime:       time.Now().UnixMilli(),
		UsePresignedURL: h.usePresignedURL,
	}

	adm, err := h.router.Admit(c.Request.Context(), job)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to admit video job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start video processing"})
		return
	}

	resp := CompleteUploadResponse{Status: "processing", Path: adm.Path}
	if adm.Path == service.PathSlow {
		resp.Status = "queued"
		resp.QueueID = adm.QueueID
	}
	c.JSON(http.StatusAccepted, resp)
}

// VideoWithFeedback is the lookup response.
type VideoWithFeedback struct {
	Video    *domain.VideoRecord `json:"video"`
	Feedback *domain.Feedback    `json:"feedback"`
}

// GetVideo handles GET /api/v1/videos/:id.
// Private videos are only visible to their owner.
func (h *VideoHandler) GetVideo(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid video ID"})
		return
	}

	ctx := c.Request.Context()
	video, err := h.videos.GetByID(ctx, uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
			return
		}
		middleware.GetLogger(c).WithError(err).Error("Failed to load video")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load video"})
		return
	}
	if !video.Visibility && video.OwnerID != middleware.OwnerID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		return
	}

	resp := VideoWithFeedback{Video: video}
	if video.FeedbackID != nil {
		fb, err := h.feedbacks.GetByID(ctx, *video.FeedbackID)
		if err != nil {
			logger.FromContext(ctx).WithError(err).WithField(logger.FieldVideoID, video.ID).Warn("Feedback missing for video")
		} else {
			resp.Feedback = fb
		}
	}
	c.JSON(http.StatusOK, resp)
}
