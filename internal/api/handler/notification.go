package handler

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/vidflow/internal/api/middleware"
	"github.com/timmy/vidflow/internal/domain"
	"github.com/timmy/vidflow/internal/notify"
)

// StreamRegistry hands out per-owner push streams.
type StreamRegistry interface {
	Register(ownerID string) *notify.Stream
	Unregister(ownerID string, s *notify.Stream)
}

// NotificationHandler serves server-sent event streams.
type NotificationHandler struct {
	registry    StreamRegistry
	idleTimeout time.Duration
}

// NewNotificationHandler creates a handler that closes a stream after idleTimeout without events.
func NewNotificationHandler(registry StreamRegistry, idleTimeout time.Duration) *NotificationHandler {
	if idleTimeout <= 0 {
		idleTimeout = time.Hour
	}
	return &NotificationHandler{registry: registry, idleTimeout: idleTimeout}
}

// Stream handles GET /api/v1/notifications/stream.
// The connection stays open until the client leaves, the stream is replaced
// by a newer connection for the same owner, or the idle timeout fires.
func (h *NotificationHandler) Stream(c *gin.Context) {
	owner := middleware.OwnerID(c)
	stream := h.registry.Register(owner)
	defer h.registry.Unregister(owner, stream)

	log := middleware.GetLogger(c)
	log.Info("Notification stream opened")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent(domain.EventConnection, gin.H{"status": "connected"})
	c.Writer.Flush()

	idle := time.NewTimer(h.idleTimeout)
	defer idle.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-stream.Events():
			c.SSEvent(ev.Name, ev.Data)
			idle.Reset(h.idleTimeout)
			return true
		case <-stream.Done():
			log.Info("Notification stream released")
			return false
		case <-idle.C:
			log.Info("Notification stream idle, closing")
			return false
		case <-ctx.Done():
			return false
		}
	})
}
