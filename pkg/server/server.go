// Package server provides the public entry point for initializing the
// agent chat server.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
//
// Tests and tools that must not reach a real model pass their own
// contracts.ModelService through Config.Models.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/skywalker-firehose/agentchat/internal/agents"
	"github.com/skywalker-firehose/agentchat/internal/api"
	"github.com/skywalker-firehose/agentchat/internal/api/handlers"
	"github.com/skywalker-firehose/agentchat/internal/config"
	"github.com/skywalker-firehose/agentchat/internal/evals"
	"github.com/skywalker-firehose/agentchat/internal/guardrails"
	modelrouter "github.com/skywalker-firehose/agentchat/internal/router"
	"github.com/skywalker-firehose/agentchat/internal/runner"
	"github.com/skywalker-firehose/agentchat/internal/telemetry"
	"github.com/skywalker-firehose/agentchat/internal/tools"
	"github.com/skywalker-firehose/agentchat/pkg/contracts"

	"github.com/rs/zerolog/log"
)

// RootAgentID is the definition id of the composed root agent.
const RootAgentID = "assistant"

// Config is the public configuration for the server. Zero fields keep the
// values loaded from the environment.
type Config struct {
	Port    int
	Version string

	// Models replaces the OpenAI driver when set.
	Models contracts.ModelService
}

// Server holds the initialized agent chat service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Evaluator runs eval definitions against the composed assistant.
	Evaluator *evals.Evaluator
	EvalsDir  string

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from the environment and returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, &Config{})
}

// NewWithConfig initializes the server with explicit overrides.
func NewWithConfig(ctx context.Context, pubCfg *Config) (*Server, error) {
	cfg := config.Load()
	if pubCfg.Port > 0 {
		cfg.Port = pubCfg.Port
	}
	if pubCfg.Version != "" {
		cfg.Version = pubCfg.Version
	}

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	metrics, err := telemetry.InitMetrics(cfg.Telemetry.MetricsEnabled)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	// Model access
	mr := modelrouter.NewModelRouter()
	var svc contracts.ModelService = mr
	if pubCfg.Models != nil {
		svc = pubCfg.Models
		log.Info().Msg("✅ Using injected model service")
	} else {
		if cfg.LLM.APIKey == "" && cfg.Gateway.PortkeyAPIKey == "" {
			log.Warn().Msg("⚠️  OPENAI_API_KEY is not set, model calls will fail")
		}
		mr.RegisterDriver(modelrouter.NewOpenAIDriver(modelrouter.OpenAIConfig{
			APIKey:          cfg.LLM.APIKey,
			BaseURL:         cfg.LLM.BaseURL,
			Timeout:         cfg.LLM.Timeout,
			MaxRetries:      cfg.LLM.MaxRetries,
			PortkeyAPIKey:   cfg.Gateway.PortkeyAPIKey,
			PortkeyProvider: cfg.Gateway.PortkeyProvider,
			LogRequests:     cfg.Gateway.LogRequests,
		}))
		log.Info().Strs("drivers", mr.ListDrivers()).Msg("✅ Model Router initialized")
	}

	// Guardrails
	classifier := guardrails.NewLLMClassifier(svc, cfg.LLM.ClassifierModel)
	inputGuardrails := []contracts.InputGuardrail{
		guardrails.NewLanguageGuardrail(classifier, cfg.Guardrails.SupportedLanguages, cfg.Guardrails.ClassifierTimeout),
	}
	rules := guardrails.RulesConfig{
		MaxCharacters:        cfg.Guardrails.MaxCharacters,
		MaxWords:             cfg.Guardrails.MaxWords,
		BlockPromptInjection: cfg.Guardrails.BlockPromptInjection,
		HighSensitivity:      cfg.Guardrails.HighSensitivity,
	}
	if rules.Enabled() {
		inputGuardrails = append(inputGuardrails, guardrails.NewRulesGuardrail(rules))
	}
	log.Info().
		Strs("languages", cfg.Guardrails.SupportedLanguages).
		Bool("rules", rules.Enabled()).
		Msg("✅ Guardrails initialized")

	// Tools and agents
	registry, err := tools.NewBuiltinRegistry(classifier)
	if err != nil {
		return nil, fmt.Errorf("init tools: %w", err)
	}

	store, err := loadDefinitions(cfg.Agents)
	if err != nil {
		return nil, err
	}

	composer, err := agents.NewComposerFromStore(store, RootAgentID, registry, inputGuardrails...)
	if err != nil {
		return nil, fmt.Errorf("compose %s: %w", RootAgentID, err)
	}
	log.Info().Int("leaves", len(composer.Leaves())).Msg("✅ Agent composer initialized")

	run := runner.New(svc, runner.Options{
		MaxTurns:     cfg.Runner.MaxTurns,
		DefaultModel: cfg.LLM.Model,
		Metrics:      metrics,
	})

	evaluator := evals.NewEvaluator(composer, run, evals.NewLLMJudge(svc, cfg.LLM.JudgeModel), cfg.Evals.Concurrency)

	h := &handlers.Handlers{
		Composer:  composer,
		Runner:    run,
		Tools:     registry,
		Models:    mr,
		Evaluator: evaluator,
		EvalsDir:  cfg.Evals.Dir,
		Version:   cfg.Version,
	}
	router := api.NewRouter(cfg, h, metrics)

	return &Server{
		Handler:   router,
		Evaluator: evaluator,
		EvalsDir:  cfg.Evals.Dir,
		Port:      cfg.Port,
		ShutdownFunc: func(ctx context.Context) error {
			return errors.Join(shutdownTracing(ctx), metrics.Shutdown(ctx))
		},
	}, nil
}

func loadDefinitions(cfg config.AgentsConfig) (*agents.Store, error) {
	if cfg.DefinitionsDir == "" {
		store, err := agents.LoadEmbeddedDefinitions()
		if err != nil {
			return nil, fmt.Errorf("load embedded agent definitions: %w", err)
		}
		return store, nil
	}

	store, err := agents.LoadDefinitions(os.DirFS(cfg.DefinitionsDir))
	if err != nil {
		return nil, fmt.Errorf("load agent definitions from %s: %w", cfg.DefinitionsDir, err)
	}
	log.Info().Str("dir", cfg.DefinitionsDir).Strs("agents", store.IDs()).Msg("✅ Agent definitions loaded")
	return store, nil
}
