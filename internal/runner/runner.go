// Package runner executes a composed agent against a conversation and
// streams the result.
//
// A run is:
//
//	input guardrails → build messages → stream model turn →
//	if hand-off: switch agent → if tool calls: execute with the request
//	context → feed results back → repeat until a text answer or max turns.
//
// A blocking guardrail ends the run before any model call.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/skywalker-firehose/agentchat/internal/agents"
	"github.com/skywalker-firehose/agentchat/internal/telemetry"
	"github.com/skywalker-firehose/agentchat/pkg/contracts"
	"github.com/skywalker-firehose/agentchat/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultMaxTurns is the maximum number of model round-trips per run.
const DefaultMaxTurns = 10

// DefaultModel is used for agents whose settings name no model.
const DefaultModel = "gpt-4o-mini"

// ErrMaxTurns is returned when a run exceeds its turn budget.
var ErrMaxTurns = errors.New("max turns exceeded")

var tracer = otel.Tracer("agentchat/runner")

// Options configures a Runner.
type Options struct {
	MaxTurns     int
	DefaultModel string
	Metrics      *telemetry.Metrics
}

// Runner drives agent runs. It is safe for concurrent use.
type Runner struct {
	models       contracts.ModelService
	maxTurns     int
	defaultModel string
	metrics      *telemetry.Metrics
}

// New creates a runner over svc.
func New(svc contracts.ModelService, opts Options) *Runner {
	r := &Runner{
		models:       svc,
		maxTurns:     opts.MaxTurns,
		defaultModel: opts.DefaultModel,
		metrics:      opts.Metrics,
	}
	if r.maxTurns <= 0 {
		r.maxTurns = DefaultMaxTurns
	}
	if r.defaultModel == "" {
		r.defaultModel = DefaultModel
	}
	if r.metrics == nil {
		r.metrics = telemetry.NoopMetrics()
	}
	return r
}

// Run starts agent on history and returns the event stream. rc is passed
// unchanged to every tool the run executes.
func (r *Runner) Run(ctx context.Context, agent *agents.Agent, history []models.ChatMessage, rc models.RequestContext) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := newStream(uuid.New().String(), cancel)
	s.setAgent(agent.Name)
	s.trace.RunID = s.runID
	s.trace.AgentName = agent.Name

	go func() {
		defer close(s.done)
		defer close(s.events)
		s.err = r.run(ctx, s, agent, history, rc)
	}()
	return s
}

func (r *Runner) run(ctx context.Context, s *Stream, agent *agents.Agent, history []models.ChatMessage, rc models.RequestContext) (err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "agent.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", s.runID),
		attribute.String("agent", agent.Name),
		attribute.Int("auth_level", rc.AuthLevel),
		attribute.String("scenario", rc.Scenario),
	)

	status := "ok"
	defer func() {
		if err != nil {
			status = "error"
			span.SetStatus(codes.Error, err.Error())
		}
		r.metrics.RecordRun(context.WithoutCancel(ctx), agent.Name, status, time.Since(start))
		log.Debug().
			Str("run_id", s.runID).
			Str("agent", agent.Name).
			Str("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("Run finished")
	}()

	if blocked, ok := r.checkGuardrails(ctx, s, agent, history); !ok {
		status = "blocked"
		return s.emit(ctx, Event{
			Type:      EventGuardrailTripped,
			Agent:     agent.Name,
			Text:      blocked.ErrorMessage,
			Guardrail: blocked.Guardrail,
		})
	}

	return r.loop(ctx, s, agent, history, rc)
}

// checkGuardrails evaluates every input guardrail once, in order. The first
// block wins. Otherwise the verdict reports the first detected language.
func (r *Runner) checkGuardrails(ctx context.Context, s *Stream, agent *agents.Agent, history []models.ChatMessage) (models.GuardrailVerdict, bool) {
	final := models.Pass()
	for _, g := range agent.InputGuardrails {
		v := g.CheckInput(ctx, history)
		if v.Guardrail == "" {
			v.Guardrail = g.Name()
		}
		r.metrics.RecordVerdict(ctx, v.Guardrail, v.Allowed, v.DetectedLanguage)

		if !v.Allowed {
			s.setVerdict(v)
			log.Info().
				Str("run_id", s.runID).
				Str("guardrail", v.Guardrail).
				Str("language", v.DetectedLanguage).
				Msg("Input guardrail tripped")
			return v, false
		}
		if final.DetectedLanguage == models.UnknownLanguage && v.DetectedLanguage != "" {
			final.DetectedLanguage = v.DetectedLanguage
			final.Guardrail = v.Guardrail
		}
	}
	s.setVerdict(final)
	return final, true
}

// ── Agentic Loop ────────────────────────────────────────────

func (r *Runner) loop(ctx context.Context, s *Stream, root *agents.Agent, history []models.ChatMessage, rc models.RequestContext) error {
	current := root
	messages := make([]models.ChatMessage, 0, len(history)+1)
	messages = append(messages, systemMessage(current))
	for _, m := range history {
		if m.Role == models.RoleSystem {
			continue
		}
		messages = append(messages, m)
	}

	usedTool := make(map[*agents.Agent]bool)

	for turn := 1; turn <= r.maxTurns; turn++ {
		turnStart := time.Now()
		req := r.buildRequest(current, messages, usedTool[current])

		text, calls, usage, err := r.streamTurn(ctx, s, current, req)
		if err != nil {
			return fmt.Errorf("model call failed (turn %d): %w", turn, err)
		}

		record := Turn{Number: turn, Agent: current.Name, Response: text, Usage: usage}
		if len(calls) == 0 {
			record.LatencyMs = time.Since(turnStart).Milliseconds()
			s.addTurn(record)
			return nil
		}

		messages = append(messages, models.ChatMessage{Role: models.RoleAssistant, Content: text, ToolCalls: calls})
		usedTool[current] = true

		var next *agents.Agent
		for _, call := range calls {
			if target, ok := current.HandoffTarget(call.Function.Name); ok && next == nil {
				next = target
				out, _ := json.Marshal(map[string]string{"assistant": target.Name})
				messages = append(messages, toolMessage(call, string(out)))
				record.ToolCalls = append(record.ToolCalls, ToolRecord{Name: call.Function.Name, Status: "handoff"})
				continue
			}

			out, status := r.executeTool(ctx, current, call, rc)
			messages = append(messages, toolMessage(call, out))
			record.ToolCalls = append(record.ToolCalls, ToolRecord{
				Name: call.Function.Name, Arguments: call.Function.Arguments, Output: out, Status: status,
			})
			if err := s.emit(ctx, Event{
				Type:       EventToolCalled,
				Agent:      current.Name,
				Tool:       call.Function.Name,
				Arguments:  call.Function.Arguments,
				Output:     out,
				ToolStatus: status,
			}); err != nil {
				return err
			}
		}
		record.LatencyMs = time.Since(turnStart).Milliseconds()
		s.addTurn(record)

		if next != nil {
			if err := r.handoff(ctx, s, current, next); err != nil {
				return err
			}
			current = next
			messages[0] = systemMessage(current)
		}

		log.Debug().
			Str("run_id", s.runID).
			Str("agent", current.Name).
			Int("turn", turn).
			Int("tool_calls", len(calls)).
			Msg("Agentic loop continuing")
	}

	log.Warn().Str("run_id", s.runID).Int("max_turns", r.maxTurns).Msg("Run hit max turns")
	return fmt.Errorf("%w (%d)", ErrMaxTurns, r.maxTurns)
}

func (r *Runner) handoff(ctx context.Context, s *Stream, from, to *agents.Agent) error {
	r.metrics.RecordHandoff(ctx, to.Name)
	log.Info().Str("run_id", s.runID).Str("from", from.Name).Str("to", to.Name).Msg("Hand-off")

	if err := s.emit(ctx, Event{
		Type:   EventHandoffInvoked,
		Agent:  from.Name,
		Tool:   agents.HandoffToolName(to.Name),
		Target: to.Name,
	}); err != nil {
		return err
	}
	s.setAgent(to.Name)
	return s.emit(ctx, Event{Type: EventAgentSwitched, Agent: to.Name})
}

func systemMessage(a *agents.Agent) models.ChatMessage {
	return models.ChatMessage{Role: models.RoleSystem, Content: a.Instructions}
}

func toolMessage(call models.ToolCallResult, content string) models.ChatMessage {
	return models.ChatMessage{Role: models.RoleTool, ToolCallID: call.ID, Name: call.Function.Name, Content: content}
}

// buildRequest assembles the model request for agent. A mandatory tool
// choice holds only until the agent has called a tool; afterwards the model
// is free to answer in text.
func (r *Runner) buildRequest(agent *agents.Agent, messages []models.ChatMessage, usedTool bool) *contracts.CompletionRequest {
	defs := make([]models.ToolDefinition, 0, len(agent.Tools)+len(agent.Handoffs))
	for _, t := range agent.Tools {
		defs = append(defs, t.Definition())
	}
	for _, h := range agent.Handoffs {
		defs = append(defs, handoffDefinition(h))
	}

	choice := agent.Settings.ToolChoice
	if usedTool && agent.Settings.MandatesTool() {
		choice = agents.ToolChoiceAuto
	}
	if len(defs) == 0 {
		choice = ""
	}

	model := agent.Settings.Model
	if model == "" {
		model = r.defaultModel
	}

	return &contracts.CompletionRequest{
		Model:       model,
		Messages:    append([]models.ChatMessage(nil), messages...),
		Tools:       defs,
		ToolChoice:  choice,
		Temperature: agent.Settings.Temperature,
		MaxTokens:   agent.Settings.MaxTokens,
	}
}

func handoffDefinition(target *agents.Agent) models.ToolDefinition {
	desc := fmt.Sprintf("Handoff to the %s agent to handle the request.", target.Name)
	if d := strings.TrimSpace(target.HandoffDescription); d != "" {
		desc += " " + d
	}
	return models.ToolDefinition{
		Name:        agents.HandoffToolName(target.Name),
		Description: desc,
		Parameters: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{},
			"additionalProperties": false,
		},
	}
}

// streamTurn runs one model call, forwarding text deltas as token events
// and assembling streamed tool calls.
func (r *Runner) streamTurn(ctx context.Context, s *Stream, agent *agents.Agent, req *contracts.CompletionRequest) (string, []models.ToolCallResult, models.TokenUsage, error) {
	var (
		text  strings.Builder
		usage models.TokenUsage
	)
	partial := make(map[int]*models.ToolCallResult)

	err := r.models.Stream(ctx, req, func(chunk *models.StreamChunk) error {
		if chunk.Content != "" {
			text.WriteString(chunk.Content)
			if err := s.emit(ctx, Event{Type: EventToken, Agent: agent.Name, Text: chunk.Content}); err != nil {
				return err
			}
		}
		if tc := chunk.ToolCall; tc != nil {
			call, ok := partial[tc.Index]
			if !ok {
				call = &models.ToolCallResult{Type: "function"}
				partial[tc.Index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Name != "" {
				call.Function.Name = tc.Name
			}
			call.Function.Arguments += tc.Arguments
		}
		if chunk.Done && chunk.Usage != nil {
			usage = *chunk.Usage
		}
		return nil
	})
	if err != nil {
		return "", nil, usage, err
	}

	indexes := make([]int, 0, len(partial))
	for i := range partial {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	calls := make([]models.ToolCallResult, 0, len(indexes))
	for _, i := range indexes {
		call := *partial[i]
		if call.ID == "" {
			call.ID = "call_" + uuid.New().String()
		}
		calls = append(calls, call)
	}
	return text.String(), calls, usage, nil
}

// executeTool runs a tool from agent's resolved set. Calls to any other
// tool name are answered with an error result and never executed.
func (r *Runner) executeTool(ctx context.Context, agent *agents.Agent, call models.ToolCallResult, rc models.RequestContext) (string, string) {
	name := call.Function.Name
	ctx, span := tracer.Start(ctx, "tool.execute")
	defer span.End()
	span.SetAttributes(attribute.String("tool", name), attribute.String("agent", agent.Name))

	tool, ok := agent.Tool(name)
	if !ok {
		r.metrics.RecordToolCall(ctx, name, "denied")
		log.Warn().Str("agent", agent.Name).Str("tool", name).Msg("Model called a tool outside the resolved set")
		return fmt.Sprintf("Error: tool %q is not available", name), "denied"
	}

	out, err := tool.Invoke(ctx, rc, json.RawMessage(call.Function.Arguments))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordToolCall(ctx, name, "error")
		log.Warn().Err(err).Str("agent", agent.Name).Str("tool", name).Msg("Tool execution failed")
		return "Error: " + err.Error(), "error"
	}
	r.metrics.RecordToolCall(ctx, name, "ok")
	return out, "ok"
}
