package agents

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/skywalker-firehose/agentchat/internal/tools"
	"github.com/skywalker-firehose/agentchat/pkg/contracts"
	"github.com/skywalker-firehose/agentchat/pkg/models"
)

// DefaultPreamble is used when the root definition has no instructions.
const DefaultPreamble = "You are a helpful AI assistant."

const (
	handoffRulesHeader = "## Hand-off rules\nIf the user requests:"
	handoffDirective   = "Do NOT answer these requests yourself; always hand off to the matching agent. " +
		"For all other topics respond normally."
	restrictionsHeader = "## Access Restrictions\n" +
		"The user's current access level does not include the following capabilities:"
	fallbackRule   = "Anything the %q handles – immediately hand off to the %q."
	restrictionFmt = "If the user asks about %s, politely refuse and explain that this is not available " +
		"at their access level. Do not attempt to answer it yourself."
)

// bulletLine matches a markdown bullet: "-", "*" or "•" followed by text.
var bulletLine = regexp.MustCompile(`^\s*[-*•]\s+(.+?)\s*$`)

// handoffClause matches the trailing hand-off directive of a rule bullet,
// e.g. ` – immediately hand off to the "Cat Facts Agent".`
var handoffClause = regexp.MustCompile(`(?i)\s*[-–—:,]?\s*(immediately\s+)?hand[- ]?off\b.*$`)

// Composer assembles the root agent for a request. It holds only
// read-only state, so one Composer serves all concurrent requests.
type Composer struct {
	root       *Definition
	leaves     []*LeafFactory
	guardrails []contracts.InputGuardrail
}

// NewComposer creates a composer over an ordered list of leaf factories.
// The order determines the order of hand-offs and instruction lines.
func NewComposer(root *Definition, leaves []*LeafFactory, guardrails ...contracts.InputGuardrail) (*Composer, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: root definition is required", ErrInvalidDefinition)
	}
	if err := root.Validate(); err != nil {
		return nil, err
	}
	return &Composer{root: root, leaves: leaves, guardrails: guardrails}, nil
}

// NewComposerFromStore builds the leaf factories named by the root
// definition's handoffs list. A missing or malformed leaf definition is a
// configuration error.
func NewComposerFromStore(store *Store, rootID string, registry *tools.Registry, guardrails ...contracts.InputGuardrail) (*Composer, error) {
	root, ok := store.Get(rootID)
	if !ok {
		return nil, fmt.Errorf("%w: root agent %q not found", ErrInvalidDefinition, rootID)
	}

	leaves := make([]*LeafFactory, 0, len(root.Handoffs))
	for _, id := range root.Handoffs {
		def, ok := store.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %q hands off to unknown agent %q", ErrInvalidDefinition, rootID, id)
		}
		f, err := NewLeafFactory(def, registry)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, f)
	}
	return NewComposer(root, leaves, guardrails...)
}

// Leaves returns the leaf factories in delegation order.
func (c *Composer) Leaves() []*LeafFactory {
	return c.leaves
}

// CreateAssistant builds the root agent for rc. Leaves whose required level
// exceeds rc.AuthLevel are left out of the hand-offs and each produce one
// access restriction line instead. Output is deterministic for a given
// context and configuration.
func (c *Composer) CreateAssistant(rc models.RequestContext) *Agent {
	authLevel := rc.AuthLevel
	if authLevel < 0 {
		authLevel = 0
	}

	var (
		handoffs     []*Agent
		rules        []string
		restrictions []string
	)
	for _, leaf := range c.leaves {
		def := leaf.Definition()
		if authLevel >= def.RequiredAuthLevel {
			handoffs = append(handoffs, leaf.CreateAgent(authLevel))
			rules = append(rules, "- "+handoffRule(def))
			continue
		}
		restrictions = append(restrictions, "- "+fmt.Sprintf(restrictionFmt, restrictedTopic(def)))
	}

	preamble := strings.TrimSpace(c.root.Instructions)
	if preamble == "" {
		preamble = DefaultPreamble
	}

	sections := []string{preamble}
	if len(rules) > 0 {
		sections = append(sections, handoffRulesHeader+"\n"+strings.Join(rules, "\n")+"\n"+handoffDirective)
	}
	if len(restrictions) > 0 {
		sections = append(sections, restrictionsHeader+"\n"+strings.Join(restrictions, "\n"))
	}

	guardrails := make([]contracts.InputGuardrail, len(c.guardrails))
	copy(guardrails, c.guardrails)

	log.Debug().
		Int("auth_level", authLevel).
		Str("scenario", rc.Scenario).
		Int("handoffs", len(handoffs)).
		Int("restricted", len(restrictions)).
		Msg("Composed assistant")

	return &Agent{
		Name:            c.root.Name,
		Instructions:    strings.Join(sections, "\n\n"),
		Settings:        c.root.ModelSettings,
		Handoffs:        handoffs,
		InputGuardrails: guardrails,
	}
}

// firstBullet returns the text of the first bullet line in s, without its
// marker.
func firstBullet(s string) (string, bool) {
	for _, line := range strings.Split(s, "\n") {
		if m := bulletLine.FindStringSubmatch(line); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func handoffRule(def *Definition) string {
	if r := strings.TrimSpace(def.HandoffRule); r != "" {
		return r
	}
	if b, ok := firstBullet(def.HandoffDescription); ok {
		return b
	}
	return fmt.Sprintf(fallbackRule, def.Name, def.Name)
}

func restrictedTopic(def *Definition) string {
	if t := strings.TrimSpace(def.RestrictedTopic); t != "" {
		return t
	}
	if b, ok := firstBullet(def.HandoffDescription); ok {
		if topic := strings.TrimSpace(handoffClause.ReplaceAllString(b, "")); topic != "" {
			return topic
		}
	}
	return def.Name
}
