// Package guardrails provides the input guardrails attached to the root agent.
//
// Guardrails:
//   - language: blocks messages whose detected language is outside the
//     supported set; fails open when detection is inconclusive or errors
//   - rules: optional max-length and prompt-injection heuristics
//
// Both run once per run, before any model call, and never return errors.
package guardrails

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skywalker-firehose/agentchat/pkg/contracts"
	"github.com/skywalker-firehose/agentchat/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// UnsupportedLanguageMessage is returned to the caller, verbatim, when the
// language guardrail blocks a run.
const UnsupportedLanguageMessage = "[[ error unsupported language ]]"

// LanguageGuardrailName identifies the language guardrail in verdicts and metrics.
const LanguageGuardrailName = "language_guardrail"

var tracer = otel.Tracer("agentchat/guardrails")

// LanguageGuardrail allows only messages in a fixed set of languages.
type LanguageGuardrail struct {
	classifier contracts.LanguageClassifier
	supported  map[string]struct{}
	timeout    time.Duration
}

// NewLanguageGuardrail creates a language guardrail. A zero timeout means no
// deadline beyond the caller's context.
func NewLanguageGuardrail(classifier contracts.LanguageClassifier, supported []string, timeout time.Duration) *LanguageGuardrail {
	set := make(map[string]struct{}, len(supported))
	for _, lang := range supported {
		set[strings.ToLower(strings.TrimSpace(lang))] = struct{}{}
	}
	return &LanguageGuardrail{classifier: classifier, supported: set, timeout: timeout}
}

func (g *LanguageGuardrail) Name() string { return LanguageGuardrailName }

// CheckInput checks the most recent user message of history.
func (g *LanguageGuardrail) CheckInput(ctx context.Context, history []models.ChatMessage) models.GuardrailVerdict {
	return g.Check(ctx, models.LatestUserText(history))
}

// Check classifies text and returns the verdict.
func (g *LanguageGuardrail) Check(ctx context.Context, text string) models.GuardrailVerdict {
	ctx, span := tracer.Start(ctx, "guardrail.check")
	defer span.End()
	span.SetAttributes(attribute.String("guardrail", LanguageGuardrailName))

	verdict := g.check(ctx, text)
	verdict.Guardrail = LanguageGuardrailName

	span.SetAttributes(
		attribute.Bool("guardrail.allowed", verdict.Allowed),
		attribute.String("guardrail.language", verdict.DetectedLanguage),
	)
	return verdict
}

func (g *LanguageGuardrail) check(ctx context.Context, text string) models.GuardrailVerdict {
	if strings.TrimSpace(text) == "" || g.classifier == nil {
		return models.Pass()
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	lang, err := g.classify(ctx, text)
	if err != nil {
		log.Warn().Err(err).Msg("Language detection failed, allowing message")
		return models.Pass()
	}

	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" || lang == models.UnknownLanguage {
		return models.Pass()
	}

	if _, ok := g.supported[lang]; ok {
		return models.GuardrailVerdict{Allowed: true, DetectedLanguage: lang}
	}

	log.Info().Str("language", lang).Msg("Blocking unsupported language")
	return models.GuardrailVerdict{
		Allowed:          false,
		DetectedLanguage: lang,
		ErrorMessage:     UnsupportedLanguageMessage,
	}
}

type classifyResult struct {
	lang string
	err  error
}

// classify runs the classifier in its own goroutine so a classifier that
// ignores ctx cannot outlive the deadline. A panic becomes an error so the
// guardrail keeps failing open.
func (g *LanguageGuardrail) classify(ctx context.Context, text string) (string, error) {
	done := make(chan classifyResult, 1)
	go func() {
		var res classifyResult
		defer func() {
			if r := recover(); r != nil {
				res = classifyResult{err: &classifierPanic{value: r}}
			}
			done <- res
		}()
		res.lang, res.err = g.classifier.Classify(ctx, text)
	}()

	select {
	case res := <-done:
		return res.lang, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("language detection: %w", ctx.Err())
	}
}

type classifierPanic struct{ value any }

func (p *classifierPanic) Error() string {
	return "language classifier panicked"
}
