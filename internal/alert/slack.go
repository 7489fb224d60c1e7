package alert

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/vidflow/internal/logger"
)

// Channel delivers operator alerts. Implementations swallow their own transport errors.
type Channel interface {
	SendAlert(ctx context.Context, text string)
}

// SlackChannel posts alerts to a Slack incoming webhook.
type SlackChannel struct {
	client     *resty.Client
	webhookURL string
}

// NewSlackChannel creates a Slack webhook channel.
func NewSlackChannel(webhookURL string) *SlackChannel {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(10 * time.Second)
	return &SlackChannel{client: client, webhookURL: webhookURL}
}

// SendAlert posts text to the webhook. Failures are logged, never returned.
func (s *SlackChannel) SendAlert(ctx context.Context, text string) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"text": text}).
		Post(s.webhookURL)
	if err != nil {
		logger.CtxError(ctx, "Slack alert failed: %v", err)
		return
	}
	if resp.IsError() {
		logger.CtxError(ctx, "Slack alert returned HTTP %d: %s", resp.StatusCode(), string(resp.Body()))
	}
}

// LogChannel writes alerts to the log only. Used when no webhook is configured.
type LogChannel struct{}

// SendAlert logs text at warn level.
func (LogChannel) SendAlert(ctx context.Context, text string) {
	logger.CtxWarn(ctx, "[alert] %s", text)
}

// New returns a SlackChannel when webhookURL is set, otherwise a LogChannel.
func New(webhookURL string) Channel {
	if webhookURL == "" {
		return LogChannel{}
	}
	return NewSlackChannel(webhookURL)
}
