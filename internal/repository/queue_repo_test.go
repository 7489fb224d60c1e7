package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/timmy/vidflow/internal/config"
	"github.com/timmy/vidflow/internal/domain"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "queue.db"),
		MaxIdleConns: 1,
		MaxOpenConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	})
	if err != nil {
		t.Fatalf("InitDB() error = %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func enqueueN(t *testing.T, repo *QueueRepository, n int) []uint {
	t.Helper()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ids := make([]uint, 0, n)
	for i := 0; i < n; i++ {
		job := &domain.QueueJob{
			QuestionID: uint64(100 + i),
			SourceRef:  "videos/u1/answer.webm",
			OwnerID:    "u1",
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		id, err := repo.Enqueue(context.Background(), job)
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestPollPendingClaimsOldestFirst(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	ctx := context.Background()
	ids := enqueueN(t, repo, 5)

	jobs, err := repo.PollPending(ctx, 3)
	if err != nil {
		t.Fatalf("PollPending() error = %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("PollPending() returned %d jobs, want 3", len(jobs))
	}
	for i, job := range jobs {
		if job.ID != ids[i] {
			t.Errorf("jobs[%d].ID = %d, want %d", i, job.ID, ids[i])
		}
		if job.Status != domain.JobStatusProcessing || job.StartedAt == nil {
			t.Errorf("jobs[%d] not claimed: status=%s started=%v", i, job.Status, job.StartedAt)
		}
	}

	pending, _ := repo.CountByStatus(ctx, domain.JobStatusPending)
	processing, _ := repo.CountByStatus(ctx, domain.JobStatusProcessing)
	if pending != 2 || processing != 3 {
		t.Errorf("counts pending=%d processing=%d, want 2 and 3", pending, processing)
	}
}

// failClaimOf makes the claim read of entry id fail as if the database were locked.
func failClaimOf(t *testing.T, db *gorm.DB, id uint) {
	t.Helper()
	err := db.Callback().Query().After("gorm:query").Register("test:fail_claim", func(tx *gorm.DB) {
		sql := tx.Statement.SQL.String()
		if !strings.Contains(sql, "id = ?") || len(tx.Statement.Vars) == 0 {
			return
		}
		if fmt.Sprint(tx.Statement.Vars[0]) == fmt.Sprint(id) {
			tx.AddError(errors.New("database is locked"))
		}
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestPollPendingClaimFailureDoesNotAbortBatch(t *testing.T) {
	db := newTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()
	ids := enqueueN(t, repo, 3)
	failClaimOf(t, db, ids[1])

	jobs, err := repo.PollPending(ctx, 3)
	if err == nil || !strings.Contains(err.Error(), "database is locked") {
		t.Fatalf("PollPending() error = %v, want claim error", err)
	}
	if len(jobs) != 2 || jobs[0].ID != ids[0] || jobs[1].ID != ids[2] {
		t.Fatalf("PollPending() claimed %+v, want entries %d and %d", jobs, ids[0], ids[2])
	}

	if err := db.Callback().Query().Remove("test:fail_claim"); err != nil {
		t.Fatal(err)
	}

	broken, err := repo.GetByID(ctx, ids[1])
	if err != nil {
		t.Fatal(err)
	}
	if broken.Status != domain.JobStatusFailed || broken.RetryCount != 1 {
		t.Errorf("entry with failed claim: status=%s retries=%d, want failed and 1", broken.Status, broken.RetryCount)
	}
}

func TestConsecutivePollsNeverRepeat(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	ctx := context.Background()
	enqueueN(t, repo, 4)

	first, err := repo.PollPending(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	second, err := repo.PollPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}

	seen := map[uint]bool{}
	for _, j := range append(first, second...) {
		if seen[j.ID] {
			t.Errorf("job %d returned twice", j.ID)
		}
		seen[j.ID] = true
		if j.Status != domain.JobStatusProcessing {
			t.Errorf("job %d returned with status %s", j.ID, j.Status)
		}
	}
	if len(seen) != 4 {
		t.Errorf("claimed %d distinct jobs, want 4", len(seen))
	}

	third, err := repo.PollPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(third) != 0 {
		t.Errorf("third poll returned %d jobs, want 0", len(third))
	}
}

func TestPollPendingSkipsNonPending(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	ctx := context.Background()
	ids := enqueueN(t, repo, 3)

	if ok, err := repo.MarkProcessing(ctx, ids[0]); err != nil || !ok {
		t.Fatalf("MarkProcessing() = %v, %v", ok, err)
	}
	if err := repo.MarkFailed(ctx, ids[0]); err != nil {
		t.Fatal(err)
	}

	jobs, err := repo.PollPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("PollPending() returned %d jobs, want 2", len(jobs))
	}
	for _, j := range jobs {
		if j.ID == ids[0] {
			t.Error("failed job was polled")
		}
	}
}

func TestConcurrentClaimsAreExclusive(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	ctx := context.Background()
	enqueueN(t, repo, 10)

	var mu sync.Mutex
	claims := map[uint]int{}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs, err := repo.PollPending(ctx, 10)
			if err != nil {
				t.Errorf("PollPending() error = %v", err)
				return
			}
			mu.Lock()
			for _, j := range jobs {
				claims[j.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(claims) != 10 {
		t.Errorf("claimed %d distinct jobs, want 10", len(claims))
	}
	for id, n := range claims {
		if n != 1 {
			t.Errorf("job %d claimed %d times", id, n)
		}
	}
}

func TestMarkProcessingConflict(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	ctx := context.Background()
	ids := enqueueN(t, repo, 1)

	ok, err := repo.MarkProcessing(ctx, ids[0])
	if err != nil || !ok {
		t.Fatalf("first MarkProcessing() = %v, %v", ok, err)
	}
	ok, err = repo.MarkProcessing(ctx, ids[0])
	if err != nil {
		t.Fatalf("second MarkProcessing() error = %v", err)
	}
	if ok {
		t.Error("second MarkProcessing() claimed an already claimed job")
	}
}

func TestCompletionAndFailure(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	ctx := context.Background()
	ids := enqueueN(t, repo, 2)
	repo.PollPending(ctx, 2)

	if err := repo.MarkCompleted(ctx, ids[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetByID(ctx, ids[0]); err == nil {
		t.Error("completed job still present")
	}

	if err := repo.MarkFailed(ctx, ids[1]); err != nil {
		t.Fatal(err)
	}
	job, err := repo.GetByID(ctx, ids[1])
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.JobStatusFailed || job.RetryCount != 1 {
		t.Errorf("failed job = status %s retries %d", job.Status, job.RetryCount)
	}

	// Failed jobs are not polled again until requeued.
	jobs, _ := repo.PollPending(ctx, 10)
	if len(jobs) != 0 {
		t.Errorf("failed job was re-polled")
	}
}

func TestRequeueFailedRespectsMaxRetries(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	ctx := context.Background()
	ids := enqueueN(t, repo, 2)
	repo.PollPending(ctx, 2)
	repo.MarkFailed(ctx, ids[0])
	repo.MarkFailed(ctx, ids[1])

	// Push the second job over the retry limit.
	for i := 0; i < 2; i++ {
		repo.RequeueFailed(ctx, 10, ids[1])
		repo.MarkProcessing(ctx, ids[1])
		repo.MarkFailed(ctx, ids[1])
	}

	n, err := repo.RequeueFailed(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("RequeueFailed() = %d, want 1", n)
	}
	job, _ := repo.GetByID(ctx, ids[0])
	if job.Status != domain.JobStatusPending || job.StartedAt != nil {
		t.Errorf("requeued job = status %s started %v", job.Status, job.StartedAt)
	}
}

func TestResetStuckProcessing(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	ctx := context.Background()
	enqueueN(t, repo, 1)
	repo.PollPending(ctx, 1)

	n, err := repo.ResetStuckProcessing(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("ResetStuckProcessing(recent cutoff) = %d, %v", n, err)
	}
	n, err = repo.ResetStuckProcessing(ctx, time.Now().Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("ResetStuckProcessing(future cutoff) = %d, %v", n, err)
	}
	stats, _ := repo.Stats(ctx)
	if stats[domain.JobStatusFailed] != 1 {
		t.Errorf("Stats() = %v", stats)
	}
}
