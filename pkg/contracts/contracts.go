// Package contracts defines the service interfaces consumed by the agent
// composition layer and the runner.
//
// Concrete implementations live in internal/: the OpenAI driver and model
// router in internal/router, the guardrails and language classifier in
// internal/guardrails. Tests replace them with scripted fakes.
package contracts

import (
	"context"

	"github.com/skywalker-firehose/agentchat/pkg/models"
)

// ── Model Execution ─────────────────────────────────────────

// CompletionRequest is a single chat completion request sent to a provider.
type CompletionRequest struct {
	Model       string
	Messages    []models.ChatMessage
	Tools       []models.ToolDefinition
	ToolChoice  string // "", "auto", "required", "none" or a tool name
	Temperature *float64
	MaxTokens   *int
}

// CompletionResponse is a non-streaming chat completion result.
type CompletionResponse struct {
	ID       string
	Provider string
	Model    string
	Content  string
	Usage    models.TokenUsage
}

// ModelService executes chat completions. Stream invokes fn for every chunk
// in order and stops at the first error fn returns.
type ModelService interface {
	Stream(ctx context.Context, req *CompletionRequest, fn func(*models.StreamChunk) error) error
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// ── Language Classification ─────────────────────────────────

// LanguageClassifier detects the language of a text and returns an
// ISO 639-1 tag or models.UnknownLanguage. It may fail; callers treat it as
// unreliable.
type LanguageClassifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

// ── Guardrails ──────────────────────────────────────────────

// InputGuardrail inspects a conversation before any model call of a run.
// Implementations never return errors: infrastructure failures must be
// folded into an allowing verdict.
type InputGuardrail interface {
	Name() string
	CheckInput(ctx context.Context, history []models.ChatMessage) models.GuardrailVerdict
}
