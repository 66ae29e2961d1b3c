package agents

import (
	"strings"
	"unicode"

	"github.com/skywalker-firehose/agentchat/internal/tools"
	"github.com/skywalker-firehose/agentchat/pkg/contracts"
)

// Agent is a ready-to-run agent built for a single request. It is never
// cached or shared across requests.
type Agent struct {
	Name               string
	Instructions       string
	HandoffDescription string
	Settings           ModelSettings
	Tools              []*tools.Descriptor
	Handoffs           []*Agent
	InputGuardrails    []contracts.InputGuardrail
}

// Tool returns the resolved tool with the given name.
func (a *Agent) Tool(name string) (*tools.Descriptor, bool) {
	for _, t := range a.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// ToolNames returns the resolved tool names in order.
func (a *Agent) ToolNames() []string {
	out := make([]string, 0, len(a.Tools))
	for _, t := range a.Tools {
		out = append(out, t.Name)
	}
	return out
}

// HandoffTarget returns the hand-off agent addressed by a transfer tool name.
func (a *Agent) HandoffTarget(toolName string) (*Agent, bool) {
	for _, h := range a.Handoffs {
		if HandoffToolName(h.Name) == toolName {
			return h, true
		}
	}
	return nil, false
}

// HandoffToolName is the name of the tool the model calls to delegate to
// the named agent, e.g. "Orders Agent" becomes "transfer_to_orders_agent".
func HandoffToolName(agentName string) string {
	var b strings.Builder
	b.WriteString("transfer_to_")
	underscore := false
	for _, r := range strings.ToLower(agentName) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > len("transfer_to_") {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
