package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/vidflow/internal/api/middleware"
	"github.com/timmy/vidflow/internal/domain"
	"github.com/timmy/vidflow/internal/pool"
)

// QueueAdmin exposes overflow queue statistics and manual requeue.
type QueueAdmin interface {
	Stats(ctx context.Context) (map[domain.JobStatus]int64, error)
	RequeueFailed(ctx context.Context, maxRetries int, ids ...uint) (int64, error)
}

// QueueHandler reports pool and queue state.
type QueueHandler struct {
	probe      pool.Probe
	queue      QueueAdmin
	maxRetries int
}

// NewQueueHandler creates a new queue handler.
// Parameters:
//   - probe: worker pool sampler.
//   - queue: overflow queue admin operations.
//   - maxRetries: requeue ceiling for failed entries.
//
// Returns:
//   - *QueueHandler: initialized handler.
func NewQueueHandler(probe pool.Probe, queue QueueAdmin, maxRetries int) *QueueHandler {
	return &QueueHandler{probe: probe, queue: queue, maxRetries: maxRetries}
}

// QueueStatsResponse combines the pool snapshot with queue counts.
type QueueStatsResponse struct {
	Pool      domain.CapacitySnapshot    `json:"pool"`
	LoadRatio float64                    `json:"load_ratio"`
	Queue     map[domain.JobStatus]int64 `json:"queue"`
}

// Stats handles GET /api/v1/queue/stats.
func (h *QueueHandler) Stats(c *gin.Context) {
	snap := h.probe.Sample()
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to read queue stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read queue stats"})
		return
	}
	c.JSON(http.StatusOK, QueueStatsResponse{
		Pool:      snap,
		LoadRatio: snap.LoadRatio(),
		Queue:     stats,
	})
}

// RequeueRequest selects failed entries to retry. Empty IDs means all eligible.
type RequeueRequest struct {
	IDs []uint `json:"ids"`
}

// Requeue handles POST /api/v1/admin/queue/requeue.
func (h *QueueHandler) Requeue(c *gin.Context) {
	var req RequeueRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := h.queue.RequeueFailed(c.Request.Context(), h.maxRetries, req.IDs...)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to requeue entries")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to requeue entries"})
		return
	}
	middleware.GetLogger(c).WithField("requeued", n).Info("Requeued failed queue entries")
	c.JSON(http.StatusOK, gin.H{"requeued": n})
}
