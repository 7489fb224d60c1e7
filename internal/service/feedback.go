package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/vidflow/internal/config"
	"github.com/timmy/vidflow/internal/domain"
	"github.com/timmy/vidflow/internal/logger"
	"github.com/timmy/vidflow/internal/prompts"
)

// FeedbackStore persists generated feedback rows.
type FeedbackStore interface {
	Create(ctx context.Context, fb *domain.Feedback) error
}

// FeedbackService produces and stores feedback for accepted transcripts.
// With no model endpoint configured it stores a fixed acknowledgement instead.
type FeedbackService struct {
	client    *resty.Client
	store     FeedbackStore
	model     string
	endpoint  string
	maxTokens int
	static    bool
}

// NewFeedbackService creates a new feedback service.
// Parameters:
//   - cfg: feedback configuration; a disabled or "static" provider skips the model call.
//   - store: destination for feedback rows.
//
// Returns:
//   - *FeedbackService: initialized service.
func NewFeedbackService(cfg *config.FeedbackConfig, store FeedbackStore) *FeedbackService {
	static := !cfg.Enabled || cfg.Provider == "static"

	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client.SetTimeout(timeout)

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 600
	}
	model := cfg.Model
	if static {
		model = "static"
	}

	return &FeedbackService{
		client:    client,
		store:     store,
		model:     model,
		endpoint:  baseURL + "/chat/completions",
		maxTokens: maxTokens,
		static:    static,
	}
}

// GetModel returns the model name being used.
func (s *FeedbackService) GetModel() string {
	return s.model
}

// OpenAI-compatible Chat Completion API request/response structures
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate creates feedback for an accepted answer and stores it.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - videoID: record the feedback belongs to.
//   - questionID: question the answer responds to.
//   - answer: validated transcript.
//
// Returns:
//   - uint: stored feedback ID.
//   - error: wraps ErrExternalService if the model call or the insert fails.
func (s *FeedbackService) Generate(ctx context.Context, videoID uint, questionID uint64, answer string) (uint, error) {
	start := time.Now()

	content := prompts.StaticFeedback
	if !s.static {
		var err error
		content, err = s.complete(ctx, questionID, answer)
		if err != nil {
			return 0, wrapStage(ErrExternalService, "feedback", err)
		}
	}

	fb := &domain.Feedback{
		VideoID:    videoID,
		QuestionID: questionID,
		Answer:     answer,
		Content:    content,
		Model:      s.model,
	}
	if err := s.store.Create(ctx, fb); err != nil {
		return 0, wrapStage(ErrExternalService, "feedback", err)
	}

	logger.ForVideo(videoID).Since(start).Info(ctx, "Feedback generated")
	return fb.ID, nil
}

func (s *FeedbackService) complete(ctx context.Context, questionID uint64, answer string) (string, error) {
	req := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompts.FeedbackSystemPrompt},
			{Role: "user", Content: prompts.BuildFeedbackUserPrompt(questionID, answer)},
		},
		MaxTokens: s.maxTokens,
	}

	var resp chatResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(s.endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to call feedback API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		errorMsg := fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
		if resp.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		}
		return "", fmt.Errorf("feedback API returned error: %s", errorMsg)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("feedback API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in feedback response (status: %d)", httpResp.StatusCode())
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("feedback API returned empty content")
	}
	return content, nil
}
