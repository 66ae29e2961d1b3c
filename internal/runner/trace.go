package runner

import "github.com/skywalker-firehose/agentchat/pkg/models"

// Trace records the turns of one run.
type Trace struct {
	RunID     string            `json:"run_id"`
	AgentName string            `json:"agent_name"`
	Turns     []Turn            `json:"turns"`
	Usage     models.TokenUsage `json:"usage"`
}

// Turn is one model round-trip of the agentic loop.
type Turn struct {
	Number    int               `json:"number"`
	Agent     string            `json:"agent"`
	Response  string            `json:"response,omitempty"`
	ToolCalls []ToolRecord      `json:"tool_calls,omitempty"`
	LatencyMs int64             `json:"latency_ms"`
	Usage     models.TokenUsage `json:"usage"`
}

// ToolRecord is one tool call made during a turn.
type ToolRecord struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
	Status    string `json:"status"`
}

// ToolCalls returns the names of every tool called, in order.
func (t Trace) ToolCalls() []string {
	var names []string
	for _, turn := range t.Turns {
		for _, tc := range turn.ToolCalls {
			names = append(names, tc.Name)
		}
	}
	return names
}

// Agents returns the agents that answered, in order, without repeats of
// consecutive turns.
func (t Trace) Agents() []string {
	var names []string
	for _, turn := range t.Turns {
		if len(names) == 0 || names[len(names)-1] != turn.Agent {
			names = append(names, turn.Agent)
		}
	}
	return names
}
