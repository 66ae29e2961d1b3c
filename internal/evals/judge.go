package evals

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-firehose/agentchat/pkg/contracts"
	"github.com/skywalker-firehose/agentchat/pkg/models"
)

// JudgeFailedReason is reported when the judge itself could not run.
const JudgeFailedReason = "Evaluation failed due to technical error"

// Verdict is the outcome of an LLM judgment.
type Verdict struct {
	Meets  bool   `json:"meets"`
	Reason string `json:"reason"`
}

// Judge decides whether a response meets free-text requirements.
type Judge interface {
	Judge(ctx context.Context, response, requirements string) Verdict
}

// LLMJudge asks a chat model for a {meets, reason} JSON verdict.
type LLMJudge struct {
	models contracts.ModelService
	model  string
}

// NewLLMJudge creates a judge backed by model.
func NewLLMJudge(svc contracts.ModelService, model string) *LLMJudge {
	return &LLMJudge{models: svc, model: model}
}

const judgeInstructions = `You are an expert evaluator that judges whether AI assistant responses meet specific requirements.

Requirements:
%s

Evaluate whether the provided response meets the requirements and provide your judgment with clear reasoning.
Reply with a JSON object only: {"meets": <true|false>, "reason": "<explanation>"}`

// Judge never fails: infrastructure or parse errors yield a failing verdict.
func (j *LLMJudge) Judge(ctx context.Context, response, requirements string) Verdict {
	temperature := 0.0
	maxTokens := 300

	resp, err := j.models.Complete(ctx, &contracts.CompletionRequest{
		Model: j.model,
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: fmt.Sprintf(judgeInstructions, requirements)},
			{Role: models.RoleUser, Content: "Assistant Response:\n\"\"\"\n" + response + "\n\"\"\""},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		log.Warn().Err(err).Msg("LLM judge call failed")
		return Verdict{Meets: false, Reason: JudgeFailedReason}
	}

	v, err := parseVerdict(resp.Content)
	if err != nil {
		log.Warn().Err(err).Str("content", resp.Content).Msg("LLM judge returned an invalid verdict")
		return Verdict{Meets: false, Reason: JudgeFailedReason}
	}
	return v
}

// parseVerdict decodes a verdict, tolerating a surrounding code fence.
func parseVerdict(content string) (Verdict, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if s == "" {
		return Verdict{}, fmt.Errorf("empty verdict")
	}

	var raw struct {
		Meets  *bool   `json:"meets"`
		Reason *string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if raw.Meets == nil || raw.Reason == nil {
		return Verdict{}, fmt.Errorf("verdict missing meets or reason")
	}
	return Verdict{Meets: *raw.Meets, Reason: *raw.Reason}, nil
}
