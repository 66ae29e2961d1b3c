// Package evals loads and runs JSON conversation evals against the composed
// assistant.
package evals

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/skywalker-firehose/agentchat/pkg/models"
)

//go:embed schema.json
var schemaJSON []byte

var definitionSchema = mustCompileSchema(schemaJSON)

func mustCompileSchema(data []byte) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		panic(fmt.Sprintf("evals: invalid definition schema: %v", err))
	}
	return s
}

// Assertion types.
const (
	AssertContains    = "contains"
	AssertNotContains = "not_contains"
	AssertExactMatch  = "exact_match"
	AssertRegex       = "regex"
	AssertLLMJudge    = "llm_judge"
	AssertExpr        = "expr"
)

// Assertion is one check applied to the assistant's reply.
type Assertion struct {
	Type        string `json:"type"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// Message is one turn of a multi-turn eval input.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Input is either a single user message or a conversation.
type Input []Message

// UnmarshalJSON accepts a plain string as a single user turn.
func (in *Input) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*in = Input{{Role: models.RoleUser, Content: s}}
		return nil
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}
	*in = msgs
	return nil
}

// History converts the input to chat messages.
func (in Input) History() []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(in))
	for _, m := range in {
		out = append(out, models.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// Definition is one eval case.
type Definition struct {
	Name       string         `json:"name"`
	Context    map[string]any `json:"context,omitempty"`
	Input      Input          `json:"input"`
	Assertions []Assertion    `json:"assertions"`
	Tags       []string       `json:"tags,omitempty"`

	// File is the path the definition was loaded from.
	File string `json:"file,omitempty"`
}

// RequestContext parses the eval's context the way the chat endpoint does.
func (d *Definition) RequestContext() models.RequestContext {
	return models.ParseRequestContext(d.Context)
}

// HasAnyTag reports whether d carries one of tags. An empty tags list
// matches everything.
func (d *Definition) HasAnyTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, have := range d.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Parse validates data against the definition schema and decodes it.
func Parse(data []byte) (*Definition, error) {
	result, err := definitionSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid eval JSON: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("eval does not match schema: %s", strings.Join(msgs, "; "))
	}

	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode eval: %w", err)
	}
	return &def, nil
}

// LoadFile reads and validates one definition file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load eval from %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load eval from %s: %w", path, err)
	}
	def.File = path
	return def, nil
}

// LoadDir loads every *.json definition in dir, sorted by file name.
// Invalid files are logged and skipped; an unreadable directory is an
// error.
func LoadDir(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read eval directory %s: %w", dir, err)
	}

	var defs []*Definition
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || name == "schema.json" {
			continue
		}
		def, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("Skipping invalid eval")
			continue
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].File < defs[j].File })
	return defs, nil
}

// FilterByTags keeps the definitions carrying any of tags.
func FilterByTags(defs []*Definition, tags []string) []*Definition {
	if len(tags) == 0 {
		return defs
	}
	out := make([]*Definition, 0, len(defs))
	for _, d := range defs {
		if d.HasAnyTag(tags) {
			out = append(out, d)
		}
	}
	return out
}

// Tags returns the sorted, distinct tags across defs.
func Tags(defs []*Definition) []string {
	seen := make(map[string]struct{})
	for _, d := range defs {
		for _, t := range d.Tags {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
