package service

import (
	"errors"
	"fmt"

	"github.com/timmy/vidflow/internal/media"
)

var (
	// ErrExternalService marks an object-store, transcription or feedback outage.
	ErrExternalService = errors.New("external service failure")
	// ErrValidationRejected marks an empty or filler-only transcript.
	ErrValidationRejected = errors.New("transcript rejected")
	// ErrProcessTimeout marks an external process killed for exceeding its bound.
	ErrProcessTimeout = media.ErrProcessTimeout
)

// wrapStage tags err with marker and the pipeline stage it came from.
// A marker already present in err's chain is kept as is.
func wrapStage(marker error, stage string, err error) error {
	if errors.Is(err, ErrProcessTimeout) || errors.Is(err, marker) {
		return fmt.Errorf("%s: %w", stage, err)
	}
	return fmt.Errorf("%w: %s: %w", marker, stage, err)
}
