package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/skywalker-firehose/agentchat/pkg/models"
)

// NewFunctionTool builds a descriptor whose input schema is reflected from
// the argument type T. Supported tags follow invopop/jsonschema:
//
//	type Args struct {
//	    Text string `json:"text" jsonschema:"required,description=The text to inspect"`
//	}
func NewFunctionTool[T any](name, description string, requiredAuthLevel int, fn func(ctx context.Context, rc models.RequestContext, args T) (any, error)) (*Descriptor, error) {
	schema, err := generateSchema[T]()
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}

	return &Descriptor{
		Name:              name,
		Description:       description,
		InputSchema:       schema,
		RequiredAuthLevel: requiredAuthLevel,
		Execute: func(ctx context.Context, rc models.RequestContext, raw json.RawMessage) (any, error) {
			var args T
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
				}
			}
			return fn(ctx, rc, args)
		},
	}, nil
}

// NoArgs is the argument type of tools that take no parameters.
type NoArgs struct{}

func generateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(data, &schemaMap); err != nil {
		return nil, fmt.Errorf("failed to convert schema to map: %w", err)
	}

	// Chat Completions only needs the object shape.
	delete(schemaMap, "$schema")
	delete(schemaMap, "$id")

	result := map[string]any{"type": "object"}
	if props, ok := schemaMap["properties"]; ok {
		result["properties"] = props
	} else {
		result["properties"] = map[string]any{}
	}
	if required, ok := schemaMap["required"]; ok {
		result["required"] = required
	}
	if addProps, ok := schemaMap["additionalProperties"]; ok {
		result["additionalProperties"] = addProps
	}
	return result, nil
}
