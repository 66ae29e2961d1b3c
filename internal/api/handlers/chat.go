package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-firehose/agentchat/internal/runner"
	"github.com/skywalker-firehose/agentchat/pkg/models"
)

// StreamErrorMessage is written to the stream when a run fails after the
// response has started.
const StreamErrorMessage = "[[ error generating response ]]"

const maxChatBody = 1 << 20

// chatRequest is the AI SDK chat body. Fields of data are merged into
// context; keys present in context win.
type chatRequest struct {
	Messages []models.ChatMessage `json:"messages"`
	Context  map[string]any       `json:"context,omitempty"`
	Data     map[string]any       `json:"data,omitempty"`
}

func (req *chatRequest) requestContext() models.RequestContext {
	merged := make(map[string]any, len(req.Context)+len(req.Data))
	for k, v := range req.Data {
		if k == "context" {
			continue
		}
		merged[k] = v
	}
	if nested, ok := req.Data["context"].(map[string]any); ok {
		for k, v := range nested {
			merged[k] = v
		}
	}
	for k, v := range req.Context {
		merged[k] = v
	}
	return models.ParseRequestContext(merged)
}

// Chat runs the composed assistant on the posted conversation and streams
// the reply as plain text, flushing after every token.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBody)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		respondError(w, http.StatusBadRequest, "messages is required")
		return
	}

	rc := req.requestContext()
	agent := h.Composer.CreateAssistant(rc)

	ctx := r.Context()
	stream := h.Runner.Run(ctx, agent, req.Messages, rc)
	defer stream.Close()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Run-Id", stream.RunID())
	w.WriteHeader(http.StatusOK)

	logger := log.With().Str("run_id", stream.RunID()).Int("auth_level", rc.AuthLevel).Str("scenario", rc.Scenario).Logger()
	logger.Info().Int("messages", len(req.Messages)).Msg("Chat run started")

	for {
		ev, ok, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info().Msg("Client disconnected")
				return
			}
			logger.Error().Err(err).Msg("Chat run failed")
			io.WriteString(w, StreamErrorMessage)
			if flusher != nil {
				flusher.Flush()
			}
			return
		}
		if !ok {
			return
		}

		switch ev.Type {
		case runner.EventToken, runner.EventGuardrailTripped:
			if _, err := io.WriteString(w, ev.Text); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case runner.EventAgentSwitched:
			logger.Debug().Str("agent", ev.Agent).Msg("Agent switched")
		}
	}
}
