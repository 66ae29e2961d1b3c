package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/skywalker-firehose/agentchat/pkg/contracts"
	"github.com/skywalker-firehose/agentchat/pkg/models"
)

// Built-in tool identifiers.
const (
	GetJokeName        = "get_joke"
	GetCatFactName     = "get_cat_fact"
	GetOrdersName      = "get_orders"
	DetectLanguageName = "detect_language"
)

const (
	joke    = "Why don't scientists trust atoms? Because they make up everything!"
	catFact = "Cats sleep for around 70% of their lives."
)

// DetectLanguageArgs is the input of the detect_language tool.
type DetectLanguageArgs struct {
	Text string `json:"text" jsonschema:"required,description=The text to detect the language of"`
}

// DetectLanguageResult is the output of the detect_language tool.
type DetectLanguageResult struct {
	LanguageCode string `json:"languageCode"`
	Text         string `json:"text"`
}

// NewBuiltinRegistry returns a registry holding the built-in tools. The
// classifier backs detect_language; when it is nil the tool is omitted.
func NewBuiltinRegistry(classifier contracts.LanguageClassifier) (*Registry, error) {
	reg := NewRegistry()

	jokeTool, err := NewFunctionTool(GetJokeName, "Return a timeless classic joke (same every time).", 0,
		func(context.Context, models.RequestContext, NoArgs) (any, error) {
			return joke, nil
		})
	if err != nil {
		return nil, err
	}

	catTool, err := NewFunctionTool(GetCatFactName, "Return a fun cat fact (same every time).", 0,
		func(context.Context, models.RequestContext, NoArgs) (any, error) {
			return catFact, nil
		})
	if err != nil {
		return nil, err
	}

	ordersTool, err := NewFunctionTool(GetOrdersName, "Return a JSON object containing recent orders.", 1,
		func(_ context.Context, rc models.RequestContext, _ NoArgs) (any, error) {
			return OrdersResponse{Orders: OrdersForScenario(rc.Scenario)}, nil
		})
	if err != nil {
		return nil, err
	}

	for _, d := range []*Descriptor{jokeTool, catTool, ordersTool} {
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}

	if classifier != nil {
		detect, err := NewFunctionTool(DetectLanguageName,
			"Detects the language of the given text and returns an ISO 639-1 language code", 0,
			func(ctx context.Context, _ models.RequestContext, args DetectLanguageArgs) (any, error) {
				code, err := classifier.Classify(ctx, args.Text)
				if err != nil || strings.TrimSpace(code) == "" {
					code = models.UnknownLanguage
				}
				return DetectLanguageResult{LanguageCode: code, Text: args.Text}, nil
			})
		if err != nil {
			return nil, err
		}
		if err := reg.Register(detect); err != nil {
			return nil, fmt.Errorf("register %s: %w", DetectLanguageName, err)
		}
	}

	return reg, nil
}
