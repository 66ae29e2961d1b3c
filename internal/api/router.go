package api

import (
	"net/http"

	"github.com/skywalker-firehose/agentchat/internal/api/handlers"
	"github.com/skywalker-firehose/agentchat/internal/api/middleware"
	"github.com/skywalker-firehose/agentchat/internal/config"
	"github.com/skywalker-firehose/agentchat/internal/telemetry"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers, metrics *telemetry.Metrics) http.Handler {
	r := chi.NewRouter()

	// Global middleware. No response compression: chat replies are
	// streamed and must reach the client chunk by chunk.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id", "X-Run-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	auth := middleware.NewAPIKeyAuth(cfg.Auth.APIKeys)
	if auth.Enabled() {
		r.Use(auth.Middleware)
	}

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/version", h.VersionInfo)
	r.Get("/health/providers", h.ProviderHealth)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.Chat)

		r.Get("/docs/tools", h.ListTools)
		r.Get("/agents/assistant", h.DescribeAssistant)

		r.Get("/evals", h.Evals)
	})

	return r
}
