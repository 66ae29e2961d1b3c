package router

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/skywalker-firehose/agentchat/pkg/contracts"
	"github.com/skywalker-firehose/agentchat/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ── OpenAI-compatible Provider ──────────────────────────────

const (
	// DefaultOpenAIBaseURL is the public OpenAI endpoint.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	// PortkeyGatewayURL is used instead of BaseURL when a Portkey key is set.
	PortkeyGatewayURL = "https://api.portkey.ai/v1"

	portkeyCacheConfig = `{"cache":{"mode":"simple"}}`
)

var tracer = otel.Tracer("agentchat/router")

// OpenAIConfig configures an OpenAIDriver.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int

	// Portkey gateway; enabled when PortkeyAPIKey is set.
	PortkeyAPIKey   string
	PortkeyProvider string

	// LogRequests logs every outgoing request URL and status.
	LogRequests bool

	// HTTPClient overrides the default client; its transport is still
	// wrapped for logging when LogRequests is set.
	HTTPClient *http.Client
}

// OpenAIDriver talks to the OpenAI Chat Completions API, directly or via
// the Portkey gateway.
type OpenAIDriver struct {
	cfg     OpenAIConfig
	baseURL string
	headers http.Header
	client  *http.Client
}

// NewOpenAIDriver creates a driver from cfg.
func NewOpenAIDriver(cfg OpenAIConfig) *OpenAIDriver {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	if cfg.PortkeyAPIKey != "" {
		baseURL = PortkeyGatewayURL
		provider := cfg.PortkeyProvider
		if provider == "" {
			provider = "openai"
		}
		headers.Set("x-portkey-api-key", cfg.PortkeyAPIKey)
		headers.Set("x-portkey-provider", provider)
		headers.Set("x-portkey-config", portkeyCacheConfig)
	}

	client := cfg.HTTPClient
	if client == nil {
		// Timeout bounds the wait for response headers; streams may run longer.
		client = &http.Client{}
	}
	if cfg.LogRequests {
		wrapped := *client
		wrapped.Transport = &loggingTransport{base: client.Transport}
		client = &wrapped
	}

	if cfg.PortkeyAPIKey != "" {
		log.Info().Str("gateway", baseURL).Str("provider", headers.Get("x-portkey-provider")).
			Msg("🔀 OpenAI driver routed through Portkey gateway")
	} else {
		log.Info().Str("endpoint", baseURL).Msg("🔌 OpenAI driver using direct endpoint")
	}

	return &OpenAIDriver{cfg: cfg, baseURL: baseURL, headers: headers, client: client}
}

func (d *OpenAIDriver) Kind() string { return "openai" }

// BaseURL returns the effective endpoint.
func (d *OpenAIDriver) BaseURL() string { return d.baseURL }

// ── Wire Types ──────────────────────────────────────────────

type openAIMessage struct {
	Role       string                  `json:"role"`
	Content    *string                 `json:"content"`
	ToolCalls  []models.ToolCallResult `json:"tool_calls,omitempty"`
	ToolCallID string                  `json:"tool_call_id,omitempty"`
	Name       string                  `json:"name,omitempty"`
}

type openAITool struct {
	Type     string                `json:"type"`
	Function models.ToolDefinition `json:"function"`
}

type openAIRequest struct {
	Model         string          `json:"model"`
	Messages      []openAIMessage `json:"messages"`
	Tools         []openAITool    `json:"tools,omitempty"`
	ToolChoice    any             `json:"tool_choice,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	MaxTokens     *int            `json:"max_tokens,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	StreamOptions *streamOptions  `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

func (u *openAIUsage) toModel() *models.TokenUsage {
	if u == nil {
		return nil
	}
	return &models.TokenUsage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage openAIUsage `json:"usage"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

func buildRequest(req *contracts.CompletionRequest, stream bool) openAIRequest {
	msgs := make([]openAIMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		text := m.Text()
		om := openAIMessage{Role: m.Role, ToolCalls: m.ToolCalls, ToolCallID: m.ToolCallID, Name: m.Name}
		// Assistant tool-call turns carry a null content.
		if text != "" || len(m.ToolCalls) == 0 {
			om.Content = &text
		}
		msgs = append(msgs, om)
	}

	out := openAIRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		out.Tools = make([]openAITool, 0, len(req.Tools))
		for _, t := range req.Tools {
			out.Tools = append(out.Tools, openAITool{Type: "function", Function: t})
		}
		out.ToolChoice = toolChoice(req.ToolChoice)
	}
	if stream {
		out.Stream = true
		out.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return out
}

// toolChoice maps the agent tool-choice setting to its wire form. A value
// other than the keywords names a specific tool.
func toolChoice(choice string) any {
	switch choice {
	case "":
		return nil
	case "auto", "required", "none":
		return choice
	default:
		return map[string]any{"type": "function", "function": map[string]string{"name": choice}}
	}
}

// ── Complete ────────────────────────────────────────────────

// Complete sends a non-streaming chat completion.
func (d *OpenAIDriver) Complete(ctx context.Context, req *contracts.CompletionRequest) (*contracts.CompletionResponse, error) {
	ctx, span := tracer.Start(ctx, "model.complete")
	defer span.End()
	span.SetAttributes(attribute.String("model", req.Model))

	httpResp, err := d.post(ctx, buildRequest(req, false))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer httpResp.Body.Close()

	var oaiResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}

	content := ""
	if len(oaiResp.Choices) > 0 {
		content = oaiResp.Choices[0].Message.Content
	}
	model := oaiResp.Model
	if model == "" {
		model = req.Model
	}

	return &contracts.CompletionResponse{
		ID:       oaiResp.ID,
		Provider: d.Kind(),
		Model:    model,
		Content:  content,
		Usage:    *oaiResp.Usage.toModel(),
	}, nil
}

// ── Stream ──────────────────────────────────────────────────

// Stream sends a streaming chat completion and invokes fn for every text
// delta and tool-call fragment, then once with Done set.
func (d *OpenAIDriver) Stream(ctx context.Context, req *contracts.CompletionRequest, fn func(*models.StreamChunk) error) error {
	ctx, span := tracer.Start(ctx, "model.stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("model", req.Model),
		attribute.Int("tools", len(req.Tools)),
	)

	httpResp, err := d.post(ctx, buildRequest(req, true))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer httpResp.Body.Close()

	if err := parseSSE(httpResp.Body, fn); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// parseSSE reads an OpenAI server-sent event stream.
func parseSSE(r io.Reader, fn func(*models.StreamChunk) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var usage *models.TokenUsage
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("openai: decode stream chunk: %w", err)
		}
		if chunk.Usage != nil {
			usage = chunk.Usage.toModel()
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if err := fn(&models.StreamChunk{Content: choice.Delta.Content}); err != nil {
					return err
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				if err := fn(&models.StreamChunk{ToolCall: &models.ToolCallChunk{
					Index:     tc.Index,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				}}); err != nil {
					return err
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("openai: read stream: %w", err)
	}
	return fn(&models.StreamChunk{Done: true, Usage: usage})
}

// ── Transport ───────────────────────────────────────────────

// post sends body to /chat/completions, retrying on transport errors, 429
// and 5xx. Only the request phase is retried; a started stream is not.
func (d *OpenAIDriver) post(ctx context.Context, body openAIRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}
	url := d.baseURL + "/chat/completions"

	var bo backoff.BackOff = backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(250*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
	)
	bo = backoff.WithContext(backoff.WithMaxRetries(bo, uint64(max(d.cfg.MaxRetries, 0))), ctx)

	attempt := 0
	return backoff.RetryNotifyWithData(func() (*http.Response, error) {
		attempt++
		reqCtx, cancel := context.WithCancel(ctx)
		stop := func() bool { return true }
		if d.cfg.Timeout > 0 {
			stop = time.AfterFunc(d.cfg.Timeout, cancel).Stop
		}

		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			cancel()
			return nil, backoff.Permanent(fmt.Errorf("openai: create request: %w", err))
		}
		httpReq.Header = d.headers.Clone()

		resp, err := d.client.Do(httpReq)
		stop()
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, fmt.Errorf("openai: request failed: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			cancel()
			statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
			if statusErr.Retryable() {
				return nil, statusErr
			}
			return nil, backoff.Permanent(statusErr)
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}, bo, func(err error, wait time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("Model request failed, retrying")
	})
}

// StatusError is a non-200 response from the provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openai: status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// cancelOnClose releases the request context when the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// loggingTransport logs every request sent to the model endpoint.
type loggingTransport struct {
	base http.RoundTripper
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	start := time.Now()
	resp, err := base.RoundTrip(req)
	evt := log.Info().Str("method", req.Method).Str("url", req.URL.String()).Dur("latency", time.Since(start))
	if err != nil {
		evt.Err(err).Msg("OpenAI request")
		return nil, err
	}
	evt.Int("status", resp.StatusCode).Msg("OpenAI request")
	return resp, nil
}

// HealthCheck sends a one-token completion to validate credentials.
func (d *OpenAIDriver) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	maxTokens := 1
	_, err := d.Complete(ctx, &contracts.CompletionRequest{
		Model:     "gpt-4o-mini",
		Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: "Say OK"}},
		MaxTokens: &maxTokens,
	})
	return err
}
