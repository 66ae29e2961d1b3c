package handlers

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-firehose/agentchat/internal/evals"
)

// Evals serves ?action=list|run|tags over the eval directory, optionally
// filtered by ?tags=a,b.
func (h *Handlers) Evals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	action := q.Get("action")
	if action == "" {
		action = "list"
	}
	var tags []string
	for _, t := range strings.Split(q.Get("tags"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	switch action {
	case "list", "run", "tags":
	default:
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "Invalid action. Use: list, run, or tags",
		})
		return
	}

	defs, err := evals.LoadDir(h.EvalsDir)
	if err != nil {
		log.Error().Err(err).Msg("Error in evals API")
		respondJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}

	switch action {
	case "list":
		filtered := evals.FilterByTags(defs, tags)
		respondJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    filtered,
			"count":   len(filtered),
		})

	case "tags":
		respondJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    evals.Tags(defs),
		})

	case "run":
		if h.Evaluator == nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "evals runner not configured"})
			return
		}
		results := h.Evaluator.RunAll(r.Context(), evals.FilterByTags(defs, tags))
		respondJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    results,
			"summary": evals.Summarize(results),
		})
	}
}
