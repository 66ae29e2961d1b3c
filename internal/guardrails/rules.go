package guardrails

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/skywalker-firehose/agentchat/pkg/models"
)

// RejectedRequestMessage is returned when the rule guardrail blocks a run.
const RejectedRequestMessage = "[[ error request rejected ]]"

// RulesGuardrailName identifies the rule guardrail in verdicts and metrics.
const RulesGuardrailName = "rules_guardrail"

// RulesConfig configures the rule guardrail. Zero values disable a rule.
type RulesConfig struct {
	MaxCharacters        int
	MaxWords             int
	BlockPromptInjection bool
	HighSensitivity      bool
}

// Enabled reports whether any rule is active.
func (c RulesConfig) Enabled() bool {
	return c.MaxCharacters > 0 || c.MaxWords > 0 || c.BlockPromptInjection
}

// RulesGuardrail applies cheap local heuristics to the latest user message.
type RulesGuardrail struct {
	cfg RulesConfig
}

// NewRulesGuardrail creates a rule guardrail.
func NewRulesGuardrail(cfg RulesConfig) *RulesGuardrail {
	return &RulesGuardrail{cfg: cfg}
}

func (g *RulesGuardrail) Name() string { return RulesGuardrailName }

// CheckInput evaluates every enabled rule; the first failing rule blocks.
func (g *RulesGuardrail) CheckInput(_ context.Context, history []models.ChatMessage) models.GuardrailVerdict {
	text := models.LatestUserText(history)
	if text == "" {
		return models.GuardrailVerdict{Allowed: true, DetectedLanguage: models.UnknownLanguage, Guardrail: RulesGuardrailName}
	}

	for _, rule := range []func(string) (string, bool){g.maxLength, g.promptInjection} {
		if reason, blocked := rule(text); blocked {
			log.Info().Str("reason", reason).Msg("Rule guardrail blocked request")
			return models.GuardrailVerdict{
				Allowed:          false,
				DetectedLanguage: models.UnknownLanguage,
				ErrorMessage:     RejectedRequestMessage,
				Guardrail:        RulesGuardrailName,
			}
		}
	}
	return models.GuardrailVerdict{Allowed: true, DetectedLanguage: models.UnknownLanguage, Guardrail: RulesGuardrailName}
}

// ── Max Length ───────────────────────────────────────────────

func (g *RulesGuardrail) maxLength(text string) (string, bool) {
	if g.cfg.MaxCharacters > 0 && utf8.RuneCountInString(text) > g.cfg.MaxCharacters {
		return "message exceeds maximum character limit", true
	}
	if g.cfg.MaxWords > 0 && len(strings.Fields(text)) > g.cfg.MaxWords {
		return "message exceeds maximum word limit", true
	}
	return "", false
}

// ── Prompt Injection Detection ──────────────────────────────

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?|directions?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?|context)`),
	regexp.MustCompile(`(?i)new\s+instructions?:\s*`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are`),
	regexp.MustCompile(`(?i)pretend\s+you\s+(are|have)\s+no\s+(restrictions?|rules?|guidelines?)`),
	// access-level spoofing aimed at the hand-off restrictions
	regexp.MustCompile(`(?i)(my|set)\s+(auth(orization)?|access)\s+level\s+(is|to)\s+\d+`),
}

var highSensitivityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bypass\s+(your|the|all)\s+`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?(prompt|instructions?)`),
	regexp.MustCompile(`(?i)repeat\s+(your|the)\s+(system\s+)?(prompt|instructions?)\s+verbatim`),
}

func (g *RulesGuardrail) promptInjection(text string) (string, bool) {
	if !g.cfg.BlockPromptInjection {
		return "", false
	}
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			return "potential prompt injection detected", true
		}
	}
	if g.cfg.HighSensitivity {
		for _, re := range highSensitivityPatterns {
			if re.MatchString(text) {
				return "potential prompt injection detected (high sensitivity)", true
			}
		}
	}
	return "", false
}
