package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/timmy/vidflow/internal/config"
	"github.com/timmy/vidflow/internal/domain"
	"github.com/timmy/vidflow/internal/logger"
	"github.com/timmy/vidflow/internal/repository"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "vidflow-queuectl",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	showStats := flag.Bool("stats", false, "Print overflow queue counts by status")
	list := flag.String("list", "", "List entries with the given status (pending, processing, failed)")
	limit := flag.Int("limit", 50, "Maximum number of entries to list")
	requeue := flag.Bool("requeue-failed", false, "Move failed entries back to pending")
	ids := flag.String("ids", "", "Comma-separated queue IDs to requeue (default: all eligible)")
	maxRetries := flag.Int("max-retries", 0, "Requeue ceiling (default: scheduler.max_retries)")
	resetStuck := flag.Duration("reset-stuck", 0, "Fail entries processing for longer than this duration")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if !*showStats && *list == "" && !*requeue && *resetStuck <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	queueRepo := repository.NewQueueRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	if *resetStuck > 0 {
		n, err := queueRepo.ResetStuckProcessing(ctx, time.Now().Add(-*resetStuck))
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to reset stuck entries")
		}
		appLogger.WithField("failed", n).Info("Stuck entries marked failed")
	}

	if *requeue {
		retries := *maxRetries
		if retries <= 0 {
			retries = cfg.Scheduler.MaxRetries
		}
		selected, err := parseIDs(*ids)
		if err != nil {
			appLogger.WithError(err).Fatal("Invalid -ids")
		}
		n, err := queueRepo.RequeueFailed(ctx, retries, selected...)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to requeue entries")
		}
		appLogger.WithFields(logger.Fields{
			"requeued":    n,
			"max_retries": retries,
		}).Info("Requeue completed")
	}

	if *list != "" {
		status := domain.JobStatus(strings.ToLower(*list))
		jobs, err := queueRepo.ListByStatus(ctx, status, *limit)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to list entries")
		}
		for _, job := range jobs {
			appLogger.WithFields(logger.Fields{
				logger.FieldQueueID: job.ID,
				logger.FieldOwnerID: job.OwnerID,
				logger.FieldStatus:  job.Status,
				"question_id":       job.QuestionID,
				"source_ref":        job.SourceRef,
				"retry_count":       job.RetryCount,
				"created_at":        job.CreatedAt,
			}).Info("Queue entry")
		}
		appLogger.WithField(logger.FieldCount, len(jobs)).Info("Listed entries")
	}

	if *showStats {
		stats, err := queueRepo.Stats(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to read queue stats")
		}
		fields := logger.Fields{}
		for status, n := range stats {
			fields[string(status)] = n
		}
		appLogger.WithFields(fields).Info("Queue stats")
	}
}

func parseIDs(raw string) ([]uint, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]uint, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}
