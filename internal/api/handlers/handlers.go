// Package handlers implements the HTTP handlers of the agent chat service.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/skywalker-firehose/agentchat/internal/agents"
	"github.com/skywalker-firehose/agentchat/internal/evals"
	"github.com/skywalker-firehose/agentchat/internal/router"
	"github.com/skywalker-firehose/agentchat/internal/runner"
	"github.com/skywalker-firehose/agentchat/internal/tools"
)

// ServiceName is reported by /health and /version.
const ServiceName = "agentchat"

// Handlers holds all handler dependencies.
type Handlers struct {
	Composer *agents.Composer
	Runner   *runner.Runner
	Tools    *tools.Registry
	Models   *router.ModelRouter

	// Evaluator and EvalsDir back /api/evals; a nil Evaluator disables
	// action=run.
	Evaluator *evals.Evaluator
	EvalsDir  string

	Version string
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": ServiceName,
	})
}

// VersionInfo reports the build version.
func (h *Handlers) VersionInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
		"service": ServiceName,
	})
}

// ProviderHealth runs the model driver health checks.
func (h *Handlers) ProviderHealth(w http.ResponseWriter, r *http.Request) {
	if h.Models == nil {
		respondError(w, http.StatusServiceUnavailable, "model router not configured")
		return
	}
	result := h.Models.HealthCheck(r.Context())
	status := http.StatusOK
	for _, v := range result {
		if v != "ok" {
			status = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, status, result)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
