package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/timmy/vidflow/internal/domain"
	"github.com/timmy/vidflow/internal/notify"
	"github.com/timmy/vidflow/internal/pool"
	"github.com/timmy/vidflow/internal/repository"
)

const goodAnswer = "A goroutine is a lightweight thread managed by the Go runtime."

type harness struct {
	videos   *repository.VideoRepository
	queue    *repository.QueueRepository
	store    *fakeStore
	media    *fakeMedia
	engine   *fakeEngine
	feedback *fakeFeedback
	registry *notify.Registry
	pipeline *VideoPipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := newTestDB(t)
	h := &harness{
		videos:   repository.NewVideoRepository(db),
		queue:    repository.NewQueueRepository(db),
		store:    newFakeStore(),
		media:    newFakeMedia(t, 64, 48),
		engine:   &fakeEngine{fallback: goodAnswer},
		feedback: &fakeFeedback{},
		registry: notify.NewRegistry(8),
	}
	h.store.addVideo("videos/u1/answer.webm", 1_000_000, "video/webm", nil)
	h.pipeline = NewVideoPipeline(PipelineConfig{
		TempDir:             t.TempDir(),
		DefaultThumbnailURL: "https://cdn.test/default.jpg",
		JoinTimeout:         5 * time.Second,
	}, PipelineDeps{
		Videos:   h.videos,
		Store:    h.store,
		Media:    h.media,
		Engine:   h.engine,
		Feedback: h.feedback,
		Notifier: h.registry,
	})
	return h
}

func (h *harness) onlyRecord(t *testing.T) domain.VideoRecord {
	t.Helper()
	records, err := h.videos.ListByOwner(context.Background(), "u1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	return records[0]
}

func nextEvent(t *testing.T, s *notify.Stream) domain.VideoNotification {
	t.Helper()
	select {
	case ev := <-s.Events():
		if ev.Name != domain.EventVideoProcessed {
			t.Fatalf("event name = %q", ev.Name)
		}
		n, ok := ev.Data.(domain.VideoNotification)
		if !ok {
			t.Fatalf("event payload type %T", ev.Data)
		}
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("no notification before deadline")
	}
	return domain.VideoNotification{}
}

func expectNoEvent(t *testing.T, s *notify.Stream) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Errorf("unexpected extra event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func shortJob() domain.VideoJob {
	return domain.VideoJob{QuestionID: 7, SourceRef: "videos/u1/answer.webm", OwnerID: "u1", UsePresignedURL: true}
}

func TestFastPathEndToEnd(t *testing.T) {
	h := newHarness(t)
	stream := h.registry.Register("u1")
	defer h.registry.Unregister("u1", stream)

	workers, err := pool.New(&pool.Config{Workers: 2, QueueSize: 4, Policy: pool.PolicyDropWithAlert})
	if err != nil {
		t.Fatal(err)
	}
	defer workers.Stop(context.Background())

	router := NewAdmissionRouter(workers, h.queue, h.pipeline, 0.8)
	adm, err := router.Admit(context.Background(), shortJob())
	if err != nil {
		t.Fatal(err)
	}
	if adm.Path != PathFast {
		t.Fatalf("path = %s, want fast", adm.Path)
	}

	n := nextEvent(t, stream)
	if n.Status != domain.ProcessingStatusCompleted || n.Message != MessageCompleted {
		t.Errorf("notification = %+v", n)
	}
	if n.FeedbackID == nil || *n.FeedbackID != 1 {
		t.Errorf("notification feedback id = %v, want 1", n.FeedbackID)
	}
	expectNoEvent(t, stream)

	rec := h.onlyRecord(t)
	if rec.ProcessingStatus != domain.ProcessingStatusCompleted {
		t.Errorf("record status = %s", rec.ProcessingStatus)
	}
	if rec.Transcript != goodAnswer || rec.FeedbackID == nil || *rec.FeedbackID != 1 {
		t.Errorf("record = %+v", rec)
	}
	if rec.ThumbnailRef != "https://cdn.test/videos/u1/answer-thumb.jpg" {
		t.Errorf("thumbnail ref = %q", rec.ThumbnailRef)
	}
	if rec.VideoURL != "https://cdn.test/videos/u1/answer.webm" || rec.DurationSeconds != 4 {
		t.Errorf("record url/duration = %q %v", rec.VideoURL, rec.DurationSeconds)
	}
	if got := h.engine.callCount(); got != 1 {
		t.Errorf("engine called %d times, want 1", got)
	}
	if !strings.Contains(h.engine.calls[0], "ttl=10m0s") {
		t.Errorf("short video media ref = %q, want 10 minute presign", h.engine.calls[0])
	}
}

// saturatedPool reports a saturated snapshot so the router always defers.
type saturatedPool struct{ *pool.Pool }

func (b *saturatedPool) Sample() domain.CapacitySnapshot {
	return domain.CapacitySnapshot{ActiveWorkers: 2, QueuedTasks: 4, MaxWorkers: 2, MaxQueue: 4}
}

func TestSlowPathEndToEnd(t *testing.T) {
	h := newHarness(t)
	stream := h.registry.Register("u1")
	defer h.registry.Unregister("u1", stream)

	workers, err := pool.New(&pool.Config{Workers: 2, QueueSize: 4, Policy: pool.PolicyDropWithAlert})
	if err != nil {
		t.Fatal(err)
	}
	defer workers.Stop(context.Background())

	router := NewAdmissionRouter(&saturatedPool{workers}, h.queue, h.pipeline, 0.8)
	adm, err := router.Admit(context.Background(), shortJob())
	if err != nil {
		t.Fatal(err)
	}
	if adm.Path != PathSlow || adm.QueueID == 0 {
		t.Fatalf("admission = %+v, want slow with queue id", adm)
	}

	scheduler := NewDrainScheduler(workers, h.queue, h.pipeline, time.Second, 0)
	if n := scheduler.Tick(context.Background()); n != 1 {
		t.Fatalf("Tick() dispatched %d, want 1", n)
	}

	n := nextEvent(t, stream)
	if n.Status != domain.ProcessingStatusCompleted {
		t.Errorf("notification = %+v", n)
	}
	waitFor(t, func() bool {
		_, err := h.queue.GetByID(context.Background(), adm.QueueID)
		return err != nil
	})
	if rec := h.onlyRecord(t); rec.ProcessingStatus != domain.ProcessingStatusCompleted {
		t.Errorf("record status = %s", rec.ProcessingStatus)
	}
	if n := scheduler.Tick(context.Background()); n != 0 {
		t.Errorf("second Tick() dispatched %d, want 0", n)
	}
}

func TestSlowPathErrorMarksEntryFailed(t *testing.T) {
	h := newHarness(t)
	h.engine.err = errors.New("whisper exited 1")

	workers, err := pool.New(&pool.Config{Workers: 1, QueueSize: 1, Policy: pool.PolicyDropWithAlert})
	if err != nil {
		t.Fatal(err)
	}
	defer workers.Stop(context.Background())

	id, err := h.queue.Enqueue(context.Background(), shortJob().ToQueueJob())
	if err != nil {
		t.Fatal(err)
	}
	NewDrainScheduler(workers, h.queue, h.pipeline, time.Second, 0).Tick(context.Background())

	waitFor(t, func() bool {
		job, err := h.queue.GetByID(context.Background(), id)
		return err == nil && job.Status == domain.JobStatusFailed
	})
	if rec := h.onlyRecord(t); rec.ProcessingStatus != domain.ProcessingStatusError {
		t.Errorf("record status = %s, want ERROR", rec.ProcessingStatus)
	}
}

func TestRunRejectedTranscriptIsNoResponse(t *testing.T) {
	h := newHarness(t)
	h.engine.fallback = "[inaudible] background noise"
	stream := h.registry.Register("u1")
	defer h.registry.Unregister("u1", stream)

	if err := h.pipeline.Run(context.Background(), shortJob()); err != nil {
		t.Fatalf("Run() error = %v, want nil for NO_RESPONSE", err)
	}
	n := nextEvent(t, stream)
	if n.Status != domain.ProcessingStatusNoResponse || n.Message != MessageNoResponse || n.FeedbackID != nil {
		t.Errorf("notification = %+v", n)
	}
	if rec := h.onlyRecord(t); rec.ProcessingStatus != domain.ProcessingStatusNoResponse {
		t.Errorf("record status = %s", rec.ProcessingStatus)
	}
	if h.feedback.calls != 0 {
		t.Errorf("feedback generated for rejected transcript")
	}
}

func TestRunStageFailuresEndInError(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		want  error
	}{
		{"head fails", func(h *harness) { h.store.headErr = errors.New("503 Slow Down") }, ErrExternalService},
		{"engine fails", func(h *harness) { h.engine.err = errors.New("connection reset") }, ErrExternalService},
		{"engine times out", func(h *harness) { h.engine.err = ErrProcessTimeout }, ErrProcessTimeout},
		{"feedback fails", func(h *harness) { h.feedback.err = wrapStage(ErrExternalService, "feedback", errors.New("HTTP 500")) }, ErrExternalService},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)
			stream := h.registry.Register("u1")
			defer h.registry.Unregister("u1", stream)

			err := h.pipeline.Run(context.Background(), shortJob())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Run() error = %v, want %v", err, tt.want)
			}
			n := nextEvent(t, stream)
			if n.Status != domain.ProcessingStatusError || n.Message != MessageError {
				t.Errorf("notification = %+v", n)
			}
			expectNoEvent(t, stream)
			if rec := h.onlyRecord(t); rec.ProcessingStatus != domain.ProcessingStatusError {
				t.Errorf("record status = %s", rec.ProcessingStatus)
			}
		})
	}
}

func TestRunThumbnailFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.media.frameErr = errors.New("ffmpeg exited 1")

	if err := h.pipeline.Run(context.Background(), shortJob()); err != nil {
		t.Fatal(err)
	}
	rec := h.onlyRecord(t)
	if rec.ProcessingStatus != domain.ProcessingStatusCompleted || rec.ThumbnailRef != "https://cdn.test/default.jpg" {
		t.Errorf("record = status %s thumbnail %q", rec.ProcessingStatus, rec.ThumbnailRef)
	}
}

func TestRunLongVideoMergesChunksInOrder(t *testing.T) {
	h := newHarness(t)
	h.store.addVideo("videos/u1/long.mp4", 1_000, "video/mp4", map[string]string{"duration": "600"})
	h.engine.answers = map[string]string{
		"chunk-0-": "first part",
		"chunk-1-": "second part",
		"chunk-2-": "",
		"chunk-3-": "fourth part",
	}
	// Window 1 starts at 150s and fails before producing audio.
	h.media.extractFn = func(start float64) error {
		if start == 150 {
			return errors.New("ffmpeg exited 1")
		}
		return nil
	}

	job := shortJob()
	job.SourceRef = "videos/u1/long.mp4"
	if err := h.pipeline.Run(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	rec := h.onlyRecord(t)
	if rec.Transcript != "first part fourth part" {
		t.Errorf("transcript = %q", rec.Transcript)
	}
	if rec.ProcessingStatus != domain.ProcessingStatusCompleted {
		t.Errorf("status = %s", rec.ProcessingStatus)
	}
	if len(h.media.windows) != 4 {
		t.Errorf("extracted %d windows, want 4", len(h.media.windows))
	}
	if got := h.engine.callCount(); got != 3 {
		t.Errorf("engine called %d times, want 3", got)
	}
	if left := h.store.keysWithPrefix("audio/"); len(left) != 0 {
		t.Errorf("chunk audio not cleaned up: %v", left)
	}
}

func TestRunLongVideoAllChunksFailed(t *testing.T) {
	h := newHarness(t)
	h.store.addVideo("videos/u1/long.mp4", 1_000, "video/mp4", map[string]string{"duration": "900"})
	h.media.extractFn = func(start float64) error { return errors.New("ffmpeg exited 1") }

	stream := h.registry.Register("u1")
	defer h.registry.Unregister("u1", stream)

	job := shortJob()
	job.SourceRef = "videos/u1/long.mp4"
	if err := h.pipeline.Run(context.Background(), job); err != nil {
		t.Fatalf("Run() error = %v, want nil for NO_RESPONSE", err)
	}
	n := nextEvent(t, stream)
	if n.Status != domain.ProcessingStatusNoResponse || n.Message != MessageNoResponse {
		t.Errorf("notification = %+v", n)
	}
	if rec := h.onlyRecord(t); rec.ProcessingStatus != domain.ProcessingStatusNoResponse {
		t.Errorf("status = %s", rec.ProcessingStatus)
	}
	if len(h.engine.calls) != 0 || h.feedback.calls != 0 {
		t.Errorf("engine calls = %d, feedback calls = %d", len(h.engine.calls), h.feedback.calls)
	}
}

func TestRunDownloadModeUsesLocalCopy(t *testing.T) {
	h := newHarness(t)
	job := shortJob()
	job.UsePresignedURL = false

	if err := h.pipeline.Run(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	ref := h.engine.calls[0]
	if strings.HasPrefix(ref, "https://") {
		t.Fatalf("media ref = %q, want local path", ref)
	}
	if _, err := os.Stat(ref); !os.IsNotExist(err) {
		t.Errorf("temp copy %q not removed: %v", ref, err)
	}
}

func TestRunRecoversPanics(t *testing.T) {
	h := newHarness(t)
	h.pipeline.engine = panicEngine{}

	err := h.pipeline.Run(context.Background(), shortJob())
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("Run() error = %v, want panic error", err)
	}
	if rec := h.onlyRecord(t); rec.ProcessingStatus != domain.ProcessingStatusError {
		t.Errorf("status = %s", rec.ProcessingStatus)
	}
}

type panicEngine struct{}

func (panicEngine) Transcribe(ctx context.Context, mediaRef string) (string, error) {
	panic("nil model")
}

// failingVideos rejects every insert.
type failingVideos struct{ err error }

func (f failingVideos) Create(ctx context.Context, video *domain.VideoRecord) error { return f.err }

func (f failingVideos) Transition(ctx context.Context, id uint, status domain.ProcessingStatus, fields map[string]interface{}) error {
	return nil
}

func TestRunCreateFailureNotifiesError(t *testing.T) {
	h := newHarness(t)
	h.pipeline.videos = failingVideos{err: errors.New("disk I/O error")}
	stream := h.registry.Register("u1")
	defer h.registry.Unregister("u1", stream)

	if err := h.pipeline.Run(context.Background(), shortJob()); !errors.Is(err, ErrExternalService) {
		t.Fatalf("Run() error = %v, want ErrExternalService", err)
	}
	n := nextEvent(t, stream)
	if n.VideoID != 0 || n.Status != domain.ProcessingStatusError || n.Message != MessageError {
		t.Errorf("notification = %+v", n)
	}
	if len(h.engine.calls) != 0 {
		t.Errorf("engine called %d times after create failure", len(h.engine.calls))
	}
}
