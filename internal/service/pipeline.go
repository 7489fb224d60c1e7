package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/vidflow/internal/config"
	"github.com/timmy/vidflow/internal/domain"
	"github.com/timmy/vidflow/internal/logger"
	"github.com/timmy/vidflow/internal/pool"
	"github.com/timmy/vidflow/internal/repository"
	"github.com/timmy/vidflow/internal/storage"
	"github.com/timmy/vidflow/internal/transcription"
)

// Messages pushed to the owner with each terminal status.
const (
	MessageCompleted  = "Video processing completed."
	MessageNoResponse = "No recorded answer was detected. Please try again."
	MessageError      = "An error occurred while processing the video."
)

// VideoStore is the record persistence the pipeline needs.
type VideoStore interface {
	Create(ctx context.Context, video *domain.VideoRecord) error
	Transition(ctx context.Context, id uint, status domain.ProcessingStatus, fields map[string]interface{}) error
}

// MediaTool is the subset of ffmpeg operations the stages use.
type MediaTool interface {
	GrabFrame(ctx context.Context, input string, offset time.Duration) ([]byte, error)
	ExtractWindow(ctx context.Context, input string, start, length float64, output string) error
	TranscodeAudio(ctx context.Context, input, output string) error
}

// FeedbackGenerator produces and stores feedback, returning its ID.
type FeedbackGenerator interface {
	Generate(ctx context.Context, videoID uint, questionID uint64, answer string) (uint, error)
}

// Notifier pushes an event to the owner's stream, if any.
type Notifier interface {
	Send(ownerID, event string, payload interface{}) bool
}

// StatusLogger logs pool occupancy around each run.
type StatusLogger interface {
	LogStatus(ctx context.Context, label string)
}

// PipelineConfig holds the tunables of a pipeline run.
type PipelineConfig struct {
	LongVideoSeconds    float64
	ChunkCount          int
	ChunkParallelism    int
	JoinTimeout         time.Duration
	ShortPresignTTL     time.Duration
	LongPresignTTL      time.Duration
	DefaultThumbnailURL string
	ThumbnailMaxWidth   int
	ThumbnailMaxHeight  int
	ThumbnailQuality    int
	TempDir             string // empty uses os.TempDir
}

// NewPipelineConfig collects pipeline settings from the application config.
func NewPipelineConfig(cfg *config.Config) PipelineConfig {
	return PipelineConfig{
		LongVideoSeconds:    cfg.Transcription.LongVideoSeconds,
		ChunkCount:          cfg.Transcription.ChunkCount,
		ChunkParallelism:    cfg.Transcription.ChunkParallelism,
		JoinTimeout:         cfg.Transcription.JoinTimeout,
		ShortPresignTTL:     cfg.Transcription.ShortPresignTTL,
		LongPresignTTL:      cfg.Transcription.LongPresignTTL,
		DefaultThumbnailURL: cfg.Thumbnail.DefaultURL,
		ThumbnailMaxWidth:   cfg.Thumbnail.MaxWidth,
		ThumbnailMaxHeight:  cfg.Thumbnail.MaxHeight,
		ThumbnailQuality:    cfg.Thumbnail.Quality,
	}
}

func (c *PipelineConfig) applyDefaults() {
	if c.LongVideoSeconds <= 0 {
		c.LongVideoSeconds = 300
	}
	if c.ChunkCount < 1 {
		c.ChunkCount = 4
	}
	if c.ChunkParallelism < 1 {
		c.ChunkParallelism = 4
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 60 * time.Minute
	}
	if c.ShortPresignTTL <= 0 {
		c.ShortPresignTTL = 10 * time.Minute
	}
	if c.LongPresignTTL <= 0 {
		c.LongPresignTTL = 60 * time.Minute
	}
	if c.ThumbnailMaxWidth <= 0 {
		c.ThumbnailMaxWidth = 800
	}
	if c.ThumbnailMaxHeight <= 0 {
		c.ThumbnailMaxHeight = 600
	}
	if c.ThumbnailQuality <= 0 {
		c.ThumbnailQuality = 85
	}
}

// PipelineDeps are the collaborators of a VideoPipeline. Status may be nil.
type PipelineDeps struct {
	Videos   VideoStore
	Store    storage.ObjectStore
	Media    MediaTool
	Engine   transcription.Engine
	Feedback FeedbackGenerator
	Notifier Notifier
	Status   StatusLogger
}

// VideoPipeline runs one video through duration probe, thumbnail,
// transcription, validation and finalize.
type VideoPipeline struct {
	cfg      PipelineConfig
	videos   VideoStore
	store    storage.ObjectStore
	media    MediaTool
	engine   transcription.Engine
	feedback FeedbackGenerator
	notifier Notifier
	status   StatusLogger
}

// NewVideoPipeline creates a new pipeline.
func NewVideoPipeline(cfg PipelineConfig, deps PipelineDeps) *VideoPipeline {
	cfg.applyDefaults()
	return &VideoPipeline{
		cfg:      cfg,
		videos:   deps.Videos,
		store:    deps.Store,
		media:    deps.Media,
		engine:   deps.Engine,
		feedback: deps.Feedback,
		notifier: deps.Notifier,
		status:   deps.Status,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (p *VideoPipeline) log(ctx context.Context) *logger.Logger {
	return logger.FromContext(ctx)
}

// Task wraps a run of job as a pool task.
func (p *VideoPipeline) Task(job domain.VideoJob) pool.Task {
	return pool.Task{
		Name: "video-pipeline",
		Args: logger.Fields{
			"question_id":       job.QuestionID,
			"source_ref":        job.SourceRef,
			logger.FieldOwnerID: job.OwnerID,
			logger.FieldQueueID: job.QueueID,
			"use_presigned_url": job.UsePresignedURL,
		},
		Run: func(ctx context.Context) error {
			return p.Run(ctx, job)
		},
	}
}

// Run processes job to a terminal record status and notifies the owner.
// A NO_RESPONSE outcome is a successful run; only the ERROR outcome returns an error.
// Parameters:
//   - ctx: context bounding the whole run.
//   - job: the admitted video job.
//
// Returns:
//   - error: non-nil when the record ended in ERROR or could not be created.
func (p *VideoPipeline) Run(ctx context.Context, job domain.VideoJob) (err error) {
	fields := logger.Fields{
		logger.FieldJobID:     uuid.New().String(),
		logger.FieldOwnerID:   job.OwnerID,
		logger.FieldComponent: "pipeline",
	}
	if job.FromQueue() {
		fields[logger.FieldQueueID] = job.QueueID
	}
	ctx = logger.WithFields(ctx, fields)
	start := time.Now()

	if p.status != nil {
		p.status.LogStatus(ctx, "pipeline start")
	}

	video := &domain.VideoRecord{
		QuestionID: job.QuestionID,
		SourceRef:  job.SourceRef,
		VideoURL:   p.store.GetURL(job.SourceRef),
		OwnerID:    job.OwnerID,
		Visibility: job.Visibility,
	}
	if err := p.videos.Create(ctx, video); err != nil {
		p.log(ctx).WithError(err).Error("Failed to create video record")
		// No record exists, so the client is told with video id 0.
		p.notify(job.OwnerID, 0, domain.ProcessingStatusError, MessageError, nil)
		return wrapStage(ErrExternalService, "create record", err)
	}
	ctx = logger.WithField(ctx, logger.FieldVideoID, video.ID)

	defer func() {
		if r := recover(); r != nil {
			p.log(ctx).WithField("stack", string(debug.Stack())).Errorf("Pipeline panic: %v", r)
			err = p.fail(ctx, job, video.ID, fmt.Errorf("pipeline panic: %v", r))
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		logger.With(logger.Fields{logger.FieldStatus: status}).Since(start).Info(ctx, "Pipeline finished")
		if p.status != nil {
			p.status.LogStatus(ctx, "pipeline finish")
		}
	}()

	if err := p.process(ctx, job, video.ID); err != nil {
		return p.fail(ctx, job, video.ID, err)
	}
	return nil
}

func (p *VideoPipeline) process(ctx context.Context, job domain.VideoJob, videoID uint) error {
	// Stage 1: duration
	stageCtx := logger.SetStage(ctx, "duration")
	duration, err := p.probeDuration(stageCtx, job.SourceRef)
	if err != nil {
		return err
	}
	long := IsLongVideo(duration, p.cfg.LongVideoSeconds)
	p.transition(ctx, videoID, domain.ProcessingStatusProcessing, map[string]interface{}{"duration_seconds": duration})

	input, cleanup, err := p.resolveMedia(ctx, job, long)
	if err != nil {
		return err
	}
	defer cleanup()

	// Stage 2: thumbnail
	stageCtx = logger.SetStage(ctx, "thumbnail")
	thumb := p.makeThumbnail(stageCtx, input, job.SourceRef)
	p.transition(ctx, videoID, domain.ProcessingStatusTranscribing, map[string]interface{}{"thumbnail_ref": thumb})

	// Stage 3: transcription
	stageCtx = logger.SetStage(ctx, "transcription")
	var transcript string
	if long {
		transcript, err = p.transcribeLong(stageCtx, input, job.SourceRef, duration)
	} else {
		transcript, err = p.transcribeShort(stageCtx, input)
	}
	if err != nil {
		return err
	}

	// Stage 4: validation
	if !ValidateTranscript(transcript) {
		p.log(ctx).WithField("transcript_len", len(transcript)).Warn("Transcript rejected")
		p.transition(ctx, videoID, domain.ProcessingStatusNoResponse, map[string]interface{}{"transcript": transcript})
		p.notify(job.OwnerID, videoID, domain.ProcessingStatusNoResponse, MessageNoResponse, nil)
		return nil
	}

	// Stage 5: finalize
	stageCtx = logger.SetStage(ctx, "feedback")
	feedbackID, err := p.feedback.Generate(stageCtx, videoID, job.QuestionID, transcript)
	if err != nil {
		return err
	}
	p.transition(ctx, videoID, domain.ProcessingStatusCompleted, map[string]interface{}{
		"transcript":  transcript,
		"feedback_id": feedbackID,
	})
	p.notify(job.OwnerID, videoID, domain.ProcessingStatusCompleted, MessageCompleted, &feedbackID)
	return nil
}

// fail moves the record to ERROR, notifies the owner and returns cause.
func (p *VideoPipeline) fail(ctx context.Context, job domain.VideoJob, videoID uint, cause error) error {
	p.log(ctx).WithError(cause).Error("Video processing failed")
	p.transition(context.WithoutCancel(ctx), videoID, domain.ProcessingStatusError, nil)
	p.notify(job.OwnerID, videoID, domain.ProcessingStatusError, MessageError, nil)
	return cause
}

func (p *VideoPipeline) transition(ctx context.Context, videoID uint, status domain.ProcessingStatus, fields map[string]interface{}) {
	if err := p.videos.Transition(ctx, videoID, status, fields); err != nil {
		entry := p.log(ctx).WithError(err).WithField(logger.FieldStatus, status)
		if errors.Is(err, repository.ErrTerminalRecord) {
			entry.Warn("Record already terminal, transition skipped")
			return
		}
		entry.Error("Failed to update video record")
	}
}

func (p *VideoPipeline) notify(ownerID string, videoID uint, status domain.ProcessingStatus, message string, feedbackID *uint) {
	if p.notifier == nil {
		return
	}
	p.notifier.Send(ownerID, domain.EventVideoProcessed, domain.VideoNotification{
		VideoID:    videoID,
		Status:     status,
		Message:    message,
		FeedbackID: feedbackID,
	})
}

// resolveMedia returns the reference handed to ffmpeg and the transcription engine:
// a presigned URL, or a local copy of the object. cleanup is always safe to call.
func (p *VideoPipeline) resolveMedia(ctx context.Context, job domain.VideoJob, long bool) (string, func(), error) {
	noop := func() {}

	if job.UsePresignedURL {
		ttl := p.cfg.ShortPresignTTL
		if long {
			ttl = p.cfg.LongPresignTTL
		}
		ref, err := p.store.PresignGet(ctx, job.SourceRef, ttl)
		if err != nil {
			return "", noop, wrapStage(ErrExternalService, "presign", err)
		}
		return ref, noop, nil
	}

	body, err := p.store.GetObject(ctx, job.SourceRef)
	if err != nil {
		return "", noop, wrapStage(ErrExternalService, "download", err)
	}
	defer body.Close()

	ext := path.Ext(job.SourceRef)
	if ext == "" {
		ext = ".webm"
	}
	f, err := os.CreateTemp(p.cfg.TempDir, "video-*"+ext)
	if err != nil {
		return "", noop, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }

	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", noop, wrapStage(ErrExternalService, "download", err)
	}
	p.log(ctx).WithField(logger.FieldSize, n).Debug("Downloaded source video")
	return f.Name(), cleanup, nil
}
