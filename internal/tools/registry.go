// Package tools provides the tool registry and authorization filter.
//
// A Descriptor pairs an executable capability with its input schema and the
// minimum authorization level a caller needs to see it. The Registry is
// populated once at startup and is read-only afterwards, so concurrent
// lookups need no locking.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/skywalker-firehose/agentchat/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrDuplicateTool is returned when a tool name is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrInvalidArguments is returned when tool arguments fail schema validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// ExecuteFunc runs a tool. The request context is passed explicitly; tools
// never read the scenario or auth level from ambient state.
type ExecuteFunc func(ctx context.Context, rc models.RequestContext, args json.RawMessage) (any, error)

// Descriptor describes one registered tool.
type Descriptor struct {
	Name              string
	Description       string
	InputSchema       map[string]any
	RequiredAuthLevel int
	Execute           ExecuteFunc

	schema *gojsonschema.Schema
}

// Definition returns the model-facing function definition.
func (d *Descriptor) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.InputSchema,
	}
}

// VisibleAt reports whether a caller at authLevel may use the tool.
func (d *Descriptor) VisibleAt(authLevel int) bool {
	return authLevel >= d.RequiredAuthLevel
}

// Invoke validates args against the input schema, executes the tool, and
// renders the result as the string handed back to the model. String results
// are returned verbatim, anything else is JSON-encoded.
func (d *Descriptor) Invoke(ctx context.Context, rc models.RequestContext, args json.RawMessage) (string, error) {
	if len(strings.TrimSpace(string(args))) == 0 {
		args = json.RawMessage("{}")
	}

	if d.schema != nil {
		result, err := d.schema.Validate(gojsonschema.NewBytesLoader(args))
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrInvalidArguments, d.Name, err)
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			return "", fmt.Errorf("%w: %s: %s", ErrInvalidArguments, d.Name, strings.Join(msgs, "; "))
		}
	}

	out, err := d.Execute(ctx, rc, args)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", d.Name, err)
	}

	switch v := out.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("tool %s: encode result: %w", d.Name, err)
	}
	return string(data), nil
}

// Registry maps stable tool identifiers to descriptors.
type Registry struct {
	tools map[string]*Descriptor
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Descriptor)}
}

// Register adds a descriptor. Must only be called during startup.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || d.Name == "" {
		return fmt.Errorf("register tool: name is required")
	}
	if d.Execute == nil {
		return fmt.Errorf("register tool %s: execute function is required", d.Name)
	}
	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("register tool %s: %w", d.Name, ErrDuplicateTool)
	}
	if d.InputSchema == nil {
		d.InputSchema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if d.schema == nil {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(d.InputSchema))
		if err != nil {
			return fmt.Errorf("register tool %s: compile schema: %w", d.Name, err)
		}
		d.schema = schema
	}
	r.tools[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// MustRegister is Register that panics on error, for static built-ins.
func (r *Registry) MustRegister(d *Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Get looks up a descriptor by name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	d, ok := r.tools[name]
	return d, ok
}

// List returns all descriptors in registration order.
func (r *Registry) List() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Resolve returns the descriptors for names that exist in the registry and
// are visible at authLevel, preserving the order of names. Unknown names are
// dropped silently so agent and tool configuration may drift independently.
func (r *Registry) Resolve(names []string, authLevel int) []*Descriptor {
	resolved := make([]*Descriptor, 0, len(names))
	for _, name := range names {
		d, ok := r.tools[name]
		if !ok {
			continue
		}
		if !d.VisibleAt(authLevel) {
			continue
		}
		resolved = append(resolved, d)
	}
	return resolved
}
