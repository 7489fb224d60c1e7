package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/timmy/vidflow/internal/logger"
)

// RemoteConfig configures a batch transcription HTTP service.
type RemoteConfig struct {
	BaseURL      string
	APIKey       string
	LanguageCode string
	PollInterval time.Duration
	Timeout      time.Duration // overall submit-to-result budget
}

// RemoteBatch submits a transcription job, polls it to completion and fetches the transcript.
type RemoteBatch struct {
	client       *resty.Client
	languageCode string
	pollInterval time.Duration
	timeout      time.Duration
}

const (
	jobStatusCompleted = "COMPLETED"
	jobStatusFailed    = "FAILED"
)

type submitJobRequest struct {
	JobName      string `json:"job_name"`
	MediaURI     string `json:"media_uri"`
	LanguageCode string `json:"language_code"`
}

type jobResponse struct {
	JobName       string `json:"job_name"`
	Status        string `json:"status"`
	TranscriptURI string `json:"transcript_uri,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// transcriptDocument mirrors the common batch-STT output layout.
type transcriptDocument struct {
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
	} `json:"results"`
}

// NewRemoteBatch creates a remote batch engine.
func NewRemoteBatch(cfg *RemoteConfig) *RemoteBatch {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/"))
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(30 * time.Second)

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &RemoteBatch{
		client:       client,
		languageCode: cfg.LanguageCode,
		pollInterval: poll,
		timeout:      timeout,
	}
}

// Transcribe submits mediaRef and blocks until the job completes, fails or times out.
func (r *RemoteBatch) Transcribe(ctx context.Context, mediaRef string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	jobName := "vidflow-" + uuid.New().String()
	var submitted jobResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(submitJobRequest{JobName: jobName, MediaURI: mediaRef, LanguageCode: r.languageCode}).
		SetResult(&submitted).
		Post("/jobs")
	if err != nil {
		return "", fmt.Errorf("failed to submit transcription job: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("transcription submit returned HTTP %d: %s", resp.StatusCode(), string(resp.Body()))
	}
	if submitted.JobName != "" {
		jobName = submitted.JobName
	}
	logger.CtxInfo(ctx, "Transcription job submitted: job=%s", jobName)

	job, err := r.waitForJob(ctx, jobName)
	if err != nil {
		return "", err
	}
	return r.fetchTranscript(ctx, job.TranscriptURI)
}

func (r *RemoteBatch) waitForJob(ctx context.Context, jobName string) (*jobResponse, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		var job jobResponse
		resp, err := r.client.R().
			SetContext(ctx).
			SetResult(&job).
			Get("/jobs/" + jobName)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("transcription job %s did not finish within %s", jobName, r.timeout)
			}
			return nil, fmt.Errorf("failed to poll transcription job: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("transcription poll returned HTTP %d", resp.StatusCode())
		}

		switch job.Status {
		case jobStatusCompleted:
			return &job, nil
		case jobStatusFailed:
			return nil, fmt.Errorf("transcription job %s failed: %s", jobName, job.FailureReason)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transcription job %s did not finish within %s: %w", jobName, r.timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *RemoteBatch) fetchTranscript(ctx context.Context, uri string) (string, error) {
	if uri == "" {
		return "", errors.New("transcription job completed without a transcript uri")
	}
	var doc transcriptDocument
	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&doc).
		Get(uri)
	if err != nil {
		return "", fmt.Errorf("failed to fetch transcript: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("transcript fetch returned HTTP %d", resp.StatusCode())
	}
	if len(doc.Results.Transcripts) == 0 {
		return "", nil
	}
	return strings.TrimSpace(doc.Results.Transcripts[0].Transcript), nil
}
