package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/timmy/vidflow/internal/domain"
)

func TestVideoTransitionStopsAtTerminal(t *testing.T) {
	repo := NewVideoRepository(newTestDB(t))
	ctx := context.Background()

	video := &domain.VideoRecord{QuestionID: 7, SourceRef: "v.webm", OwnerID: "u1"}
	if err := repo.Create(ctx, video); err != nil {
		t.Fatal(err)
	}
	if video.ProcessingStatus != domain.ProcessingStatusProcessing {
		t.Errorf("initial status = %s", video.ProcessingStatus)
	}

	if err := repo.Transition(ctx, video.ID, domain.ProcessingStatusTranscribing, map[string]interface{}{"thumbnail_ref": "thumb.jpg"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Transition(ctx, video.ID, domain.ProcessingStatusCompleted, map[string]interface{}{"transcript": "hello world!"}); err != nil {
		t.Fatal(err)
	}

	err := repo.Transition(ctx, video.ID, domain.ProcessingStatusError, nil)
	if !errors.Is(err, ErrTerminalRecord) {
		t.Errorf("Transition() from terminal error = %v, want ErrTerminalRecord", err)
	}

	got, err := repo.GetByID(ctx, video.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ProcessingStatus != domain.ProcessingStatusCompleted || got.ThumbnailRef != "thumb.jpg" || got.Transcript != "hello world!" {
		t.Errorf("record = %+v", got)
	}
}
