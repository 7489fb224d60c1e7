package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/vidflow/internal/api/handler"
	"github.com/timmy/vidflow/internal/api/middleware"
	"github.com/timmy/vidflow/internal/config"
	"github.com/timmy/vidflow/internal/logger"
	"github.com/timmy/vidflow/internal/pool"
)

// Dependencies are the services the HTTP layer calls into.
type Dependencies struct {
	Router          handler.Admitter
	Videos          handler.VideoReader
	Feedbacks       handler.FeedbackReader
	Queue           handler.QueueAdmin
	Probe           pool.Probe
	Streams         handler.StreamRegistry
	DB              handler.Pinger
	Logger          *logger.Logger
	UsePresignedURL bool
	MaxRetries      int
	IdleTimeout     time.Duration
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps Dependencies, server config.ServerConfig) *gin.Engine {
	// Set Gin mode
	switch server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	log := deps.Logger
	if log == nil {
		log = logger.GetDefault()
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  server.CORS.AllowedOrigins,
		AllowAllOrigins: server.CORS.AllowAllOrigins,
		MaxAge:          server.CORS.MaxAge,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler(deps.DB)
	videoHandler := handler.NewVideoHandler(deps.Router, deps.Videos, deps.Feedbacks, deps.UsePresignedURL)
	notificationHandler := handler.NewNotificationHandler(deps.Streams, deps.IdleTimeout)
	queueHandler := handler.NewQueueHandler(deps.Probe, deps.Queue, deps.MaxRetries)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Queue
		v1.GET("/queue/stats", queueHandler.Stats)
		v1.POST("/admin/queue/requeue", queueHandler.Requeue)

		owned := v1.Group("", middleware.RequireOwner())

		// Videos
		owned.POST("/videos/complete-upload", videoHandler.CompleteUpload)
		owned.GET("/videos/:id", videoHandler.GetVideo)

		// Notifications
		owned.GET("/notifications/stream", notificationHandler.Stream)
	}

	return r
}
