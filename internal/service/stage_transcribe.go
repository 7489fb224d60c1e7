package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/vidflow/internal/logger"
	"github.com/timmy/vidflow/internal/storage"
	"golang.org/x/sync/errgroup"
)

// Window is one time slice of a long video.
type Window struct {
	Index  int
	Start  float64
	Length float64
}

// SplitWindows divides duration into n equal windows.
func SplitWindows(duration float64, n int) []Window {
	if n < 1 {
		n = 1
	}
	length := duration / float64(n)
	windows := make([]Window, n)
	for i := range windows {
		windows[i] = Window{Index: i, Start: float64(i) * length, Length: length}
	}
	return windows
}

// MergeTranscripts joins non-empty parts in order with single spaces.
func MergeTranscripts(parts []string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, " ")
}

// transcribeShort runs the engine once over the whole media.
func (p *VideoPipeline) transcribeShort(ctx context.Context, input string) (string, error) {
	text, err := p.engine.Transcribe(ctx, input)
	if err != nil {
		return "", wrapStage(ErrExternalService, "transcription", err)
	}
	return strings.TrimSpace(text), nil
}

// transcribeLong fans the windows out with bounded parallelism and merges the
// results in window order. A failed window leaves its slot empty, even when
// every window fails. The join is
// bounded by JoinTimeout; windows still running at that point are cancelled
// and contribute nothing.
func (p *VideoPipeline) transcribeLong(ctx context.Context, input, videoKey string, duration float64) (string, error) {
	windows := SplitWindows(duration, p.cfg.ChunkCount)
	results := make([]string, len(windows))
	var mu sync.Mutex
	var failed int

	chunkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(p.cfg.ChunkParallelism)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, w := range windows {
			w := w
			g.Go(func() error {
				text, err := p.transcribeWindow(chunkCtx, input, videoKey, w)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed++
					p.log(ctx).WithField("chunk", w.Index).WithError(err).Warn("Chunk transcription failed")
					return nil
				}
				results[w.Index] = text
				return nil
			})
		}
		g.Wait()
	}()

	timer := time.NewTimer(p.cfg.JoinTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		p.log(ctx).Warnf("Chunk join exceeded %s, cancelling remaining chunks", p.cfg.JoinTimeout)
		cancel()
	case <-ctx.Done():
		cancel()
		<-done
		return "", wrapStage(ErrExternalService, "chunked transcription", ctx.Err())
	}

	mu.Lock()
	parts := append([]string(nil), results...)
	nFailed := failed
	mu.Unlock()

	// Failed windows merge as empty; if nothing survived, transcript
	// validation turns the empty result into NO_RESPONSE.
	merged := MergeTranscripts(parts)
	logger.With(logger.Fields{
		logger.FieldCount: len(windows),
		"failed":          nFailed,
		logger.FieldSize:  len(merged),
	}).Info(ctx, "Merged chunk transcripts")
	return merged, nil
}

// transcribeWindow extracts one window, transcodes it to mp3, uploads it and transcribes the upload.
func (p *VideoPipeline) transcribeWindow(ctx context.Context, input, videoKey string, w Window) (string, error) {
	dir, err := os.MkdirTemp(p.cfg.TempDir, fmt.Sprintf("chunk-%d-*", w.Index))
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	ext := path.Ext(videoKey)
	if ext == "" {
		ext = ".webm"
	}
	chunkPath := filepath.Join(dir, "chunk"+ext)
	audioPath := filepath.Join(dir, "audio.mp3")

	if err := p.media.ExtractWindow(ctx, input, w.Start, w.Length, chunkPath); err != nil {
		return "", err
	}
	if err := p.media.TranscodeAudio(ctx, chunkPath, audioPath); err != nil {
		return "", err
	}

	audioKey := fmt.Sprintf("audio/chunk-%d-%s.mp3", w.Index, uuid.New().String())
	if err := p.uploadFile(ctx, audioPath, audioKey, "audio/mpeg"); err != nil {
		return "", err
	}
	defer func() {
		if err := p.store.Delete(context.WithoutCancel(ctx), audioKey); err != nil {
			p.log(ctx).WithError(err).Debug("Failed to delete chunk audio")
		}
	}()

	ref, err := p.store.PresignGet(ctx, audioKey, p.cfg.ShortPresignTTL)
	if err != nil {
		return "", err
	}
	text, err := p.engine.Transcribe(ctx, ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (p *VideoPipeline) uploadFile(ctx context.Context, localPath, key, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return errors.New("refusing to upload empty file " + filepath.Base(localPath))
	}
	return p.store.PutObject(ctx, key, f, info.Size(), contentType, storage.ACLPrivate)
}
