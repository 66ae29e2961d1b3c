package handlers

import (
	"net/http"
	"strings"

	"github.com/skywalker-firehose/agentchat/internal/agents"
	"github.com/skywalker-firehose/agentchat/pkg/models"
)

type toolDoc struct {
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	Parameters        map[string]any `json:"parameters"`
	RequiredAuthLevel int            `json:"requiredAuthLevel"`
}

// ListTools documents every registered tool.
func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	list := h.Tools.List()
	docs := make([]toolDoc, 0, len(list))
	for _, t := range list {
		docs = append(docs, toolDoc{
			Name:              t.Name,
			Description:       t.Description,
			Parameters:        t.InputSchema,
			RequiredAuthLevel: t.RequiredAuthLevel,
		})
	}
	respondJSON(w, http.StatusOK, docs)
}

type agentView struct {
	Name         string                 `json:"name"`
	Instructions string                 `json:"instructions"`
	ToolChoice   string                 `json:"toolChoice,omitempty"`
	Tools        []string               `json:"tools"`
	Handoffs     []agentView            `json:"handoffs,omitempty"`
	Guardrails   []string               `json:"guardrails,omitempty"`
	Context      *models.RequestContext `json:"context,omitempty"`
}

func viewOf(a *agents.Agent) agentView {
	v := agentView{
		Name:         a.Name,
		Instructions: a.Instructions,
		ToolChoice:   a.Settings.ToolChoice,
		Tools:        a.ToolNames(),
	}
	for _, h := range a.Handoffs {
		v.Handoffs = append(v.Handoffs, viewOf(h))
	}
	for _, g := range a.InputGuardrails {
		v.Guardrails = append(v.Guardrails, g.Name())
	}
	return v
}

// DescribeAssistant shows the root agent composed for ?auth_level=&scenario=.
func (h *Handlers) DescribeAssistant(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := map[string]any{}
	if v := q.Get("auth_level"); v != "" {
		raw["auth_level"] = v
	}
	if v := strings.TrimSpace(q.Get("scenario")); v != "" {
		raw["scenario"] = v
	}
	rc := models.ParseRequestContext(raw)

	view := viewOf(h.Composer.CreateAssistant(rc))
	view.Context = &rc
	respondJSON(w, http.StatusOK, view)
}
