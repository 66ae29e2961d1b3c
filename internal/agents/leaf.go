package agents

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/skywalker-firehose/agentchat/internal/tools"
)

// LeafFactory builds a specialized agent for a given authorization level.
type LeafFactory struct {
	def      *Definition
	registry *tools.Registry
}

// NewLeafFactory creates a factory for def. A malformed definition is a
// configuration error and fails here, at startup, rather than per request.
func NewLeafFactory(def *Definition, registry *tools.Registry) (*LeafFactory, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, fmt.Errorf("leaf factory %q: tool registry is required", def.ID)
	}
	return &LeafFactory{def: def, registry: registry}, nil
}

// Definition returns the static definition backing the factory.
func (f *LeafFactory) Definition() *Definition {
	return f.def
}

// RequiredAuthLevel is the minimum level at which the leaf is available.
func (f *LeafFactory) RequiredAuthLevel() int {
	return f.def.RequiredAuthLevel
}

// CreateAgent resolves the leaf's tools for authLevel and builds the agent.
// When no tool survives filtering, a mandatory tool choice is cleared: the
// runtime rejects a required tool call with an empty tool set.
func (f *LeafFactory) CreateAgent(authLevel int) *Agent {
	resolved := f.registry.Resolve(f.def.Tools, authLevel)

	settings := f.def.ModelSettings
	if len(resolved) == 0 && settings.MandatesTool() {
		log.Debug().
			Str("agent", f.def.Name).
			Str("tool_choice", settings.ToolChoice).
			Int("auth_level", authLevel).
			Msg("No tools resolved, clearing mandatory tool choice")
		settings.ToolChoice = ""
	}

	return &Agent{
		Name:               f.def.Name,
		Instructions:       f.def.Instructions,
		HandoffDescription: f.def.HandoffDescription,
		Settings:           settings,
		Tools:              resolved,
	}
}
