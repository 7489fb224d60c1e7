package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/timmy/vidflow/internal/domain"
)

type fixedProbe domain.CapacitySnapshot

func (p fixedProbe) Sample() domain.CapacitySnapshot { return domain.CapacitySnapshot(p) }

type stubQueueAdmin struct {
	stats      map[domain.JobStatus]int64
	err        error
	maxRetries int
	ids        []uint
}

func (s *stubQueueAdmin) Stats(ctx context.Context) (map[domain.JobStatus]int64, error) {
	return s.stats, s.err
}

func (s *stubQueueAdmin) RequeueFailed(ctx context.Context, maxRetries int, ids ...uint) (int64, error) {
	s.maxRetries = maxRetries
	s.ids = ids
	if s.err != nil {
		return 0, s.err
	}
	if len(ids) == 0 {
		return 3, nil
	}
	return int64(len(ids)), nil
}

func newQueueEngine(h *QueueHandler) *gin.Engine {
	r := gin.New()
	r.GET("/api/v1/queue/stats", h.Stats)
	r.POST("/api/v1/admin/queue/requeue", h.Requeue)
	return r
}

func TestQueueStats(t *testing.T) {
	probe := fixedProbe{ActiveWorkers: 3, QueuedTasks: 1, MaxWorkers: 4, MaxQueue: 4}
	admin := &stubQueueAdmin{stats: map[domain.JobStatus]int64{domain.JobStatusPending: 2, domain.JobStatusFailed: 1}}
	r := newQueueEngine(NewQueueHandler(probe, admin, 3))

	w := doRequest(r, http.MethodGet, "/api/v1/queue/stats", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got QueueStatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.LoadRatio != 0.5 || got.Pool.ActiveWorkers != 3 {
		t.Errorf("pool = %+v load = %v", got.Pool, got.LoadRatio)
	}
	if got.Queue[domain.JobStatusPending] != 2 || got.Queue[domain.JobStatusFailed] != 1 {
		t.Errorf("queue = %v", got.Queue)
	}

	admin.err = errors.New("db down")
	if w := doRequest(r, http.MethodGet, "/api/v1/queue/stats", "", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("status on error = %d", w.Code)
	}
}

func TestQueueRequeue(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantIDs    []uint
		wantCount  int64
	}{
		{"selected ids", `{"ids":[4,9]}`, http.StatusOK, []uint{4, 9}, 2},
		{"empty body requeues all", "", http.StatusOK, nil, 3},
		{"bad body", `{"ids":"x"}`, http.StatusBadRequest, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admin := &stubQueueAdmin{}
			r := newQueueEngine(NewQueueHandler(fixedProbe{}, admin, 5))

			w := doRequest(r, http.MethodPost, "/api/v1/admin/queue/requeue", "", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if w.Code != http.StatusOK {
				return
			}
			var got struct {
				Requeued int64 `json:"requeued"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatal(err)
			}
			if got.Requeued != tt.wantCount || admin.maxRetries != 5 || !reflect.DeepEqual(admin.ids, tt.wantIDs) {
				t.Errorf("requeued = %d, maxRetries = %d, ids = %v", got.Requeued, admin.maxRetries, admin.ids)
			}
		})
	}
}
