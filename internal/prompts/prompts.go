package prompts

import (
	"fmt"
	"strings"
)

// ============================================================================
// Feedback Prompts (LLM)
// ============================================================================

// FeedbackSystemPrompt defines the reviewer role for recorded interview answers.
const FeedbackSystemPrompt = `You are an experienced technical interviewer reviewing a candidate's spoken answer.
The answer was recorded on video and transcribed automatically, so ignore filler words and minor transcription errors.

[Review steps]
1. Summarise what the candidate actually said in one or two sentences.
2. Judge correctness: point out wrong or missing key concepts.
3. Judge structure: is the answer ordered, concise and does it reach a conclusion?
4. Suggest one or two concrete improvements the candidate can apply next time.

[Output rules]
- Plain paragraphs, no markdown headings, no numbered lists
- 120-250 words
- Address the candidate directly ("you")
- Never invent content the transcript does not contain`

// FeedbackUserTemplate is filled with the question id and the transcript.
const FeedbackUserTemplate = `Question #%d

Transcribed answer:
"""
%s
"""

Write the feedback now:`

// StaticFeedback is returned when no model provider is configured.
const StaticFeedback = `Your answer was received and transcribed. Automated review is not enabled for this deployment, so no detailed feedback is available yet.`

// BuildFeedbackUserPrompt renders FeedbackUserTemplate.
func BuildFeedbackUserPrompt(questionID uint64, answer string) string {
	return fmt.Sprintf(FeedbackUserTemplate, questionID, strings.TrimSpace(answer))
}
