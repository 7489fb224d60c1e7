package transcription

import (
	"context"
	"fmt"

	"github.com/timmy/vidflow/internal/config"
)

// Engine turns a media reference (presigned URL, object URI or local path) into text.
type Engine interface {
	Transcribe(ctx context.Context, mediaRef string) (string, error)
}

// New builds the engine selected by cfg.Engine.
// Parameters:
//   - cfg: transcription configuration.
// Returns:
//   - Engine: whisper subprocess or remote batch client.
//   - error: non-nil for an unknown engine name.
func New(cfg *config.TranscriptionConfig) (Engine, error) {
	switch cfg.Engine {
	case "whisper", "":
		return NewWhisperProcess(&WhisperConfig{
			PythonPath: cfg.PythonPath,
			ScriptPath: cfg.ScriptPath,
			ModelSize:  cfg.ModelSize,
			Timeout:    cfg.ProcessTimeout,
		}), nil
	case "remote":
		return NewRemoteBatch(&RemoteConfig{
			BaseURL:      cfg.RemoteBaseURL,
			APIKey:       cfg.RemoteAPIKey,
			LanguageCode: cfg.LanguageCode,
			PollInterval: cfg.RemotePollInterval,
			Timeout:      cfg.RemoteTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transcription engine %q", cfg.Engine)
	}
}
