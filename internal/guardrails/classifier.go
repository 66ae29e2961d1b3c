package guardrails

import (
	"context"
	"fmt"
	"strings"

	"github.com/skywalker-firehose/agentchat/pkg/contracts"
	"github.com/skywalker-firehose/agentchat/pkg/models"
)

const classifierPrompt = `You are a language detection expert. Analyze the given text and return ONLY the ISO 639-1 two-letter language code (e.g., "en" for English, "es" for Spanish, "fr" for French, etc.). If you cannot determine the language, return "unknown".`

// LLMClassifier detects languages with a chat model.
type LLMClassifier struct {
	models contracts.ModelService
	model  string
}

// NewLLMClassifier creates a classifier using the given model name.
func NewLLMClassifier(svc contracts.ModelService, model string) *LLMClassifier {
	return &LLMClassifier{models: svc, model: model}
}

// Classify returns the lowercase language code the model answered with, or
// models.UnknownLanguage when the answer is empty.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (string, error) {
	temperature := 0.0
	maxTokens := 10

	resp, err := c.models.Complete(ctx, &contracts.CompletionRequest{
		Model: c.model,
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: classifierPrompt},
			{Role: models.RoleUser, Content: text},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("classify language: %w", err)
	}

	code := strings.ToLower(strings.TrimSpace(resp.Content))
	code = strings.Trim(code, `"'.`)
	if code == "" {
		return models.UnknownLanguage, nil
	}
	return code, nil
}
