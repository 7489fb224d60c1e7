package transcription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/timmy/vidflow/internal/logger"
	"github.com/timmy/vidflow/internal/media"
)

// WhisperConfig configures the local whisper subprocess.
type WhisperConfig struct {
	PythonPath string
	ScriptPath string
	ModelSize  string
	Timeout    time.Duration
}

// WhisperProcess runs a whisper script that reads the media itself and prints the transcript to stdout.
type WhisperProcess struct {
	cfg    WhisperConfig
	runner media.Runner
}

// NewWhisperProcess creates a whisper engine backed by os/exec.
func NewWhisperProcess(cfg *WhisperConfig) *WhisperProcess {
	return NewWhisperProcessWithRunner(cfg, media.ExecRunner{})
}

// NewWhisperProcessWithRunner is NewWhisperProcess with an injected runner.
func NewWhisperProcessWithRunner(cfg *WhisperConfig, runner media.Runner) *WhisperProcess {
	c := *cfg
	if c.PythonPath == "" {
		c.PythonPath = "python3"
	}
	if c.ModelSize == "" {
		c.ModelSize = "base"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	return &WhisperProcess{cfg: c, runner: runner}
}

// Transcribe runs the script with a bounded runtime. A process that outlives
// the timeout is killed and media.ErrProcessTimeout is returned.
func (w *WhisperProcess) Transcribe(ctx context.Context, mediaRef string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := w.runner.Run(ctx, w.cfg.PythonPath, w.cfg.ScriptPath, mediaRef, w.cfg.ModelSize)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	for _, line := range strings.Split(res.Stderr, "\n") {
		if strings.Contains(strings.ToLower(line), "error") {
			logger.CtxWarn(ctx, "Whisper stderr: %s", line)
		}
	}

	transcript := strings.TrimSpace(string(res.Stdout))
	logger.With(logger.Fields{logger.FieldSize: len(transcript)}).Since(start).
		Info(ctx, "Whisper transcription finished")
	return transcript, nil
}
