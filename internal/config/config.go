package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the agent chat service.
type Config struct {
	Port       int
	Version    string
	LLM        LLMConfig
	Gateway    GatewayConfig
	Guardrails GuardrailConfig
	Runner     RunnerConfig
	Agents     AgentsConfig
	Evals      EvalsConfig
	Telemetry  TelemetryConfig
	Auth       AuthConfig
}

type LLMConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	ClassifierModel string
	JudgeModel      string
	Timeout         time.Duration
	MaxRetries      int
}

// GatewayConfig routes model traffic through the Portkey gateway when
// PortkeyAPIKey is set.
type GatewayConfig struct {
	PortkeyAPIKey   string
	PortkeyProvider string
	LogRequests     bool
}

type GuardrailConfig struct {
	SupportedLanguages   []string
	ClassifierTimeout    time.Duration
	MaxCharacters        int
	MaxWords             int
	BlockPromptInjection bool
	HighSensitivity      bool
}

type RunnerConfig struct {
	MaxTurns int
}

type AgentsConfig struct {
	// DefinitionsDir overrides the embedded agent definitions when set.
	DefinitionsDir string
}

type EvalsConfig struct {
	Dir         string
	Concurrency int
}

type TelemetryConfig struct {
	Enabled        bool
	OTLPEndpoint   string
	ServiceName    string
	MetricsEnabled bool
}

type AuthConfig struct {
	// APIKeys enables API key auth on /api/* when non-empty.
	APIKeys []string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("PORT", 8080),
		Version: envStr("APP_VERSION", "0.1.0"),
		LLM: LLMConfig{
			APIKey:          envStr("OPENAI_API_KEY", ""),
			BaseURL:         envStr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:           envStr("OPENAI_MODEL", "gpt-4o-mini"),
			ClassifierModel: envStr("CLASSIFIER_MODEL", "gpt-4o-mini"),
			JudgeModel:      envStr("JUDGE_MODEL", "gpt-4o-mini"),
			Timeout:         envDuration("LLM_TIMEOUT", 120*time.Second),
			MaxRetries:      envInt("LLM_MAX_RETRIES", 2),
		},
		Gateway: GatewayConfig{
			PortkeyAPIKey:   envStr("PORTKEY_API_KEY", ""),
			PortkeyProvider: envStr("PORTKEY_PROVIDER", "openai"),
			LogRequests:     os.Getenv("LOG_OPENAI") != "0",
		},
		Guardrails: GuardrailConfig{
			SupportedLanguages:   envList("SUPPORTED_LANGUAGES", []string{"en", "es"}),
			ClassifierTimeout:    envDuration("CLASSIFIER_TIMEOUT", 10*time.Second),
			MaxCharacters:        envInt("GUARDRAIL_MAX_CHARACTERS", 0),
			MaxWords:             envInt("GUARDRAIL_MAX_WORDS", 0),
			BlockPromptInjection: envBool("GUARDRAIL_BLOCK_PROMPT_INJECTION", false),
			HighSensitivity:      envBool("GUARDRAIL_HIGH_SENSITIVITY", false),
		},
		Runner: RunnerConfig{
			MaxTurns: envInt("RUNNER_MAX_TURNS", 10),
		},
		Agents: AgentsConfig{
			DefinitionsDir: envStr("AGENT_DEFINITIONS_DIR", ""),
		},
		Evals: EvalsConfig{
			Dir:         envStr("EVALS_DIR", "evals"),
			Concurrency: envInt("EVALS_CONCURRENCY", 4),
		},
		Telemetry: TelemetryConfig{
			Enabled:        envBool("OTEL_ENABLED", false),
			OTLPEndpoint:   envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:    envStr("OTEL_SERVICE_NAME", "agentchat"),
			MetricsEnabled: envBool("METRICS_ENABLED", true),
		},
		Auth: AuthConfig{
			APIKeys: envList("CHAT_API_KEYS", nil),
		},
	}
}

// LoadEnvFiles loads .env.local and .env into the process environment.
// Missing files are ignored; variables already set are never overridden.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList parses a comma-separated list, dropping empty entries.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
