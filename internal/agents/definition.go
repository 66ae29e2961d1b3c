// Package agents implements agent composition: the definition store, the
// per-leaf agent factories, and the root composer that assembles the
// hand-off set and instructions for one request.
package agents

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed definitions/*.yaml
var embeddedDefinitions embed.FS

// ErrInvalidDefinition marks a configuration error in an agent definition.
// It is fatal at startup.
var ErrInvalidDefinition = errors.New("invalid agent definition")

// Tool choice values with special meaning.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceRequired = "required"
	ToolChoiceNone     = "none"
)

// ModelSettings are the model invocation settings of an agent.
type ModelSettings struct {
	Model       string   `yaml:"model,omitempty" json:"model,omitempty"`
	ToolChoice  string   `yaml:"toolChoice,omitempty" json:"tool_choice,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens   *int     `yaml:"maxTokens,omitempty" json:"max_tokens,omitempty"`
}

// MandatesTool reports whether the settings force the model to call a tool:
// "required" or the name of a specific tool.
func (s ModelSettings) MandatesTool() bool {
	switch s.ToolChoice {
	case "", ToolChoiceAuto, ToolChoiceNone:
		return false
	default:
		return true
	}
}

// Definition is the static, declarative configuration of one agent.
// Definitions are loaded once at startup and never mutated.
type Definition struct {
	// ID is the file base name the definition was loaded from.
	ID string `yaml:"-" json:"id"`

	Name               string        `yaml:"name" json:"name"`
	Instructions       string        `yaml:"instructions" json:"instructions"`
	HandoffDescription string        `yaml:"handoffDescription,omitempty" json:"handoff_description,omitempty"`
	RequiredAuthLevel  int           `yaml:"requiredAuthLevel,omitempty" json:"required_auth_level"`
	Tools              []string      `yaml:"tools,omitempty" json:"tools,omitempty"`
	ModelSettings      ModelSettings `yaml:"modelSettings,omitempty" json:"model_settings"`

	// HandoffRule and RestrictedTopic override the text otherwise taken from
	// the first bullet of HandoffDescription.
	HandoffRule     string `yaml:"handoffRule,omitempty" json:"handoff_rule,omitempty"`
	RestrictedTopic string `yaml:"restrictedTopic,omitempty" json:"restricted_topic,omitempty"`

	// Handoffs lists the IDs of sub-agents, in delegation order.
	Handoffs []string `yaml:"handoffs,omitempty" json:"handoffs,omitempty"`
}

// Validate checks the required fields.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: %q: name is required", ErrInvalidDefinition, d.ID)
	}
	if d.RequiredAuthLevel < 0 {
		return fmt.Errorf("%w: %q: requiredAuthLevel must be >= 0", ErrInvalidDefinition, d.ID)
	}
	return nil
}

// Store holds the loaded definitions keyed by ID. It is read-only after
// LoadDefinitions returns.
type Store struct {
	defs map[string]*Definition
}

// LoadDefinitions parses every *.yaml / *.yml file at the root of fsys.
// Any malformed definition aborts the whole load.
func LoadDefinitions(fsys fs.FS) (*Store, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}

	s := &Store{defs: make(map[string]*Definition)}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := path.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read definition %s: %w", e.Name(), err)
		}

		def, err := ParseDefinition(strings.TrimSuffix(e.Name(), ext), data)
		if err != nil {
			return nil, err
		}
		if _, dup := s.defs[def.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidDefinition, def.ID)
		}
		s.defs[def.ID] = def
	}
	return s, nil
}

// LoadEmbeddedDefinitions loads the definitions compiled into the binary.
func LoadEmbeddedDefinitions() (*Store, error) {
	sub, err := fs.Sub(embeddedDefinitions, "definitions")
	if err != nil {
		return nil, err
	}
	return LoadDefinitions(sub)
}

// ParseDefinition decodes and validates one YAML definition.
func ParseDefinition(id string, data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidDefinition, id, err)
	}
	def.ID = id
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// NewStore builds a store from in-memory definitions, validating each.
func NewStore(defs ...*Definition) (*Store, error) {
	s := &Store{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		s.defs[d.ID] = d
	}
	return s, nil
}

// Get returns the definition with the given ID.
func (s *Store) Get(id string) (*Definition, bool) {
	d, ok := s.defs[id]
	return d, ok
}

// IDs returns all definition IDs, sorted.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.defs))
	for id := range s.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
