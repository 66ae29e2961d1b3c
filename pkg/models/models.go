// Package models defines the shared data types for the agent chat service:
// chat messages, model streaming chunks, request context, and guardrail verdicts.
package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ── Chat Messages ───────────────────────────────────────────

// Message roles understood by the runner and the model drivers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ContentPart represents one piece of a multi-part message.
type ContentPart struct {
	Type string `json:"type"` // "text" (other part types are ignored)
	Text string `json:"text,omitempty"`
}

// ToolCallResult is a tool invocation requested by the model.
type ToolCallResult struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // "function"
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"` // JSON string
	} `json:"function"`
}

// ChatMessage is one entry of a conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// Parts is the AI SDK message format. When Content is empty the text
	// parts are used instead.
	Parts []ContentPart `json:"parts,omitempty"`

	ToolCalls  []ToolCallResult `json:"tool_calls,omitempty"`   // assistant messages with tool calls
	ToolCallID string           `json:"tool_call_id,omitempty"` // tool result messages
	Name       string           `json:"name,omitempty"`
}

// Text returns the message text, joining text parts when Content is empty.
func (m ChatMessage) Text() string {
	if m.Content != "" {
		return m.Content
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, " ")
}

// LatestUserText returns the text of the most recent user message, or ""
// when the history has no user message.
func LatestUserText(history []ChatMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return strings.TrimSpace(history[i].Text())
		}
	}
	return ""
}

// ── Model Streaming ─────────────────────────────────────────

// ToolDefinition describes a function tool offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// TokenUsage tracks token consumption for a model call.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// StreamChunk is one incremental piece of a streaming model response.
type StreamChunk struct {
	Content  string         `json:"content,omitempty"`   // text content token
	ToolCall *ToolCallChunk `json:"tool_call,omitempty"` // partial tool call
	Done     bool           `json:"done"`                // stream complete
	Usage    *TokenUsage    `json:"usage,omitempty"`     // final usage (on done)
}

// ToolCallChunk is a partial tool call from a streaming response.
// Index identifies the call across chunks; ID and Name arrive on the first chunk.
type ToolCallChunk struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"` // partial JSON string
}

// ── Request Context ─────────────────────────────────────────

// DefaultScenario is used when a request carries no scenario tag.
const DefaultScenario = "default"

// RequestContext is the per-request context shared by the composer, the
// runner, and every tool execution. It is never mutated after parsing.
type RequestContext struct {
	AuthLevel int               `json:"auth_level"`
	Scenario  string            `json:"scenario"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// DefaultRequestContext is the context used when a caller provides none:
// authorization level 0 and the default scenario.
func DefaultRequestContext() RequestContext {
	return RequestContext{AuthLevel: 0, Scenario: DefaultScenario}
}

// ParseRequestContext builds a RequestContext from a free-form context
// object. auth_level is parsed from a string (numbers are accepted too);
// missing, unparsable, or negative values yield 0. Other fields are kept in
// Extra in string form.
func ParseRequestContext(raw map[string]any) RequestContext {
	rc := DefaultRequestContext()
	for k, v := range raw {
		switch k {
		case "auth_level":
			rc.AuthLevel = parseAuthLevel(v)
		case "scenario":
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				rc.Scenario = strings.TrimSpace(s)
			}
		default:
			if v == nil {
				continue
			}
			if rc.Extra == nil {
				rc.Extra = make(map[string]string)
			}
			rc.Extra[k] = fmt.Sprint(v)
		}
	}
	return rc
}

func parseAuthLevel(v any) int {
	var level int
	switch n := v.(type) {
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		level = i
	case float64:
		level = int(n)
	case int:
		level = n
	default:
		return 0
	}
	if level < 0 {
		return 0
	}
	return level
}

// ExtraKeys returns the Extra keys in sorted order.
func (rc RequestContext) ExtraKeys() []string {
	keys := make([]string, 0, len(rc.Extra))
	for k := range rc.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ── Guardrails ──────────────────────────────────────────────

// UnknownLanguage is the language tag used when detection is inconclusive.
const UnknownLanguage = "unknown"

// GuardrailVerdict is the outcome of a single input guardrail check.
type GuardrailVerdict struct {
	Allowed          bool   `json:"allowed"`
	DetectedLanguage string `json:"detected_language"`
	ErrorMessage     string `json:"error_message,omitempty"`
	Guardrail        string `json:"guardrail,omitempty"`
}

// Pass returns an allowing verdict with an unknown language tag.
func Pass() GuardrailVerdict {
	return GuardrailVerdict{Allowed: true, DetectedLanguage: UnknownLanguage}
}
