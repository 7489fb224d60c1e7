package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/vidflow/internal/alert"
	"github.com/timmy/vidflow/internal/api"
	"github.com/timmy/vidflow/internal/config"
	"github.com/timmy/vidflow/internal/domain"
	"github.com/timmy/vidflow/internal/logger"
	"github.com/timmy/vidflow/internal/media"
	"github.com/timmy/vidflow/internal/notify"
	"github.com/timmy/vidflow/internal/pool"
	"github.com/timmy/vidflow/internal/repository"
	"github.com/timmy/vidflow/internal/service"
	"github.com/timmy/vidflow/internal/storage"
	"github.com/timmy/vidflow/internal/transcription"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	log := logger.NewFromEnv(nil)
	logger.SetDefaultLogger(log)
	defer logger.Sync()

	ctx := logger.SetComponent(log.WithContext(context.Background()), "main")

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("Failed to get database handle: %v", err)
	}
	defer sqlDB.Close()

	videoRepo := repository.NewVideoRepository(db)
	feedbackRepo := repository.NewFeedbackRepository(db)
	queueRepo := repository.NewQueueRepository(db)

	// Initialize storage (supports R2, S3 and S3-compatible endpoints)
	objectStorage, err := storage.NewStorage(cfg.GetStorageConfig())
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	if err := objectStorage.EnsureBucket(ctx); err != nil {
		logger.Fatal("Failed to ensure storage bucket: %v", err)
	}

	// The monitor needs the pool as its probe and the pool reports drops
	// through the monitor's channel, so the reject hook is bound late.
	channel := alert.New(cfg.Alert.SlackWebhookURL)
	var monitor *alert.Monitor
	workers, err := pool.New(&pool.Config{
		Workers:     cfg.Pool.Workers,
		QueueSize:   cfg.Pool.QueueCapacity,
		TaskTimeout: cfg.Pool.TaskTimeout,
		Policy:      pool.RejectionPolicy(cfg.Pool.RejectionPolicy),
		OnReject: func(task pool.Task, snap domain.CapacitySnapshot) {
			monitor.RejectHandler()(task, snap)
		},
	})
	if err != nil {
		logger.Fatal("Failed to create worker pool: %v", err)
	}
	monitor = alert.NewMonitor(workers, channel, alert.MonitorConfig{
		Threshold: cfg.Alert.QueueThreshold,
		Interval:  cfg.Alert.Interval,
		Cooldown:  cfg.Alert.Cooldown,
	})

	engine, err := transcription.New(&cfg.Transcription)
	if err != nil {
		logger.Fatal("Failed to initialize transcription engine: %v", err)
	}

	registry := notify.NewRegistry(cfg.Notification.Buffer)
	feedbackService := service.NewFeedbackService(&cfg.Feedback, feedbackRepo)

	pipeline := service.NewVideoPipeline(service.NewPipelineConfig(cfg), service.PipelineDeps{
		Videos:   videoRepo,
		Store:    objectStorage,
		Media:    media.NewFFmpeg(cfg.FFmpeg.Binary, cfg.Thumbnail.Timeout, cfg.Transcription.ChunkTimeout),
		Engine:   engine,
		Feedback: feedbackService,
		Notifier: registry,
		Status:   monitor,
	})

	router := service.NewAdmissionRouter(workers, queueRepo, pipeline, cfg.Pool.AdmissionThreshold)
	scheduler := service.NewDrainScheduler(workers, queueRepo, pipeline, cfg.Scheduler.Interval, cfg.Scheduler.StuckAfter)

	logger.With(logger.Fields{
		"workers":         cfg.Pool.Workers,
		"queue_capacity":  cfg.Pool.QueueCapacity,
		"policy":          cfg.Pool.RejectionPolicy,
		"threshold":       router.Threshold(),
		"engine":          cfg.Transcription.Engine,
		"feedback_model":  feedbackService.GetModel(),
		"presigned_media": cfg.Pool.UsePresignedURL,
	}).Info(ctx, "Video pipeline configured")

	bgCtx, stopBackground := context.WithCancel(ctx)
	go scheduler.Run(logger.SetComponent(bgCtx, "scheduler"))
	go monitor.Run(logger.SetComponent(bgCtx, "monitor"))

	// Setup router
	engineHTTP := api.SetupRouter(api.Dependencies{
		Router:          router,
		Videos:          videoRepo,
		Feedbacks:       feedbackRepo,
		Queue:           queueRepo,
		Probe:           workers,
		Streams:         registry,
		DB:              sqlDB,
		Logger:          log,
		UsePresignedURL: cfg.Pool.UsePresignedURL,
		MaxRetries:      cfg.Scheduler.MaxRetries,
		IdleTimeout:     cfg.Notification.IdleTimeout,
	}, cfg.Server)

	// Create HTTP server
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     engineHTTP,
		BaseContext: func(net.Listener) context.Context { return bgCtx },
	}

	// Start server in goroutine
	go func() {
		logger.CtxInfo(ctx, "Starting API server: port=%d, mode=%s", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.CtxInfo(ctx, "Shutting down server...")

	// Cancelling the base context ends open notification streams.
	stopBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.CtxWarn(ctx, "Server forced to shutdown: %v", err)
	}

	// In-flight pipeline runs get the remaining budget to finish.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelDrain()
	workers.Stop(drainCtx)

	logger.CtxInfo(ctx, "Server exited")
}
