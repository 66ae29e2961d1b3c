package runner

import (
	"context"
	"strings"
	"sync"

	"github.com/skywalker-firehose/agentchat/pkg/models"
)

// EventType identifies a run event.
type EventType string

const (
	EventToken            EventType = "token"
	EventToolCalled       EventType = "tool_called"
	EventHandoffInvoked   EventType = "handoff_invoked"
	EventAgentSwitched    EventType = "agent_switched"
	EventGuardrailTripped EventType = "guardrail_tripped"
)

// Event is one item of a run's output stream.
type Event struct {
	Type  EventType `json:"type"`
	Agent string    `json:"agent"`

	// Text is the token delta, or the fixed error message of a tripped
	// guardrail.
	Text string `json:"text,omitempty"`

	// Tool events.
	Tool       string `json:"tool,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	Output     string `json:"output,omitempty"`
	ToolStatus string `json:"tool_status,omitempty"`

	// Target is the agent a hand-off delegates to.
	Target string `json:"target,omitempty"`

	Guardrail string `json:"guardrail,omitempty"`
}

// Stream is a pull-based iterator over the events of one run. A producer
// goroutine writes to an unbuffered channel, so the run only advances as
// fast as the caller reads. Callers must Close the stream when done.
type Stream struct {
	runID  string
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once

	// err is written by the producer before events is closed.
	err error

	mu      sync.Mutex
	verdict models.GuardrailVerdict
	agent   string
	trace   Trace
}

func newStream(runID string, cancel context.CancelFunc) *Stream {
	return &Stream{
		runID:   runID,
		events:  make(chan Event),
		done:    make(chan struct{}),
		cancel:  cancel,
		verdict: models.Pass(),
	}
}

// RunID identifies the run in logs and traces.
func (s *Stream) RunID() string { return s.runID }

// Next returns the next event. ok is false once the run has finished; err
// is the run's failure, if any.
func (s *Stream) Next(ctx context.Context) (Event, bool, error) {
	select {
	case <-ctx.Done():
		return Event{}, false, ctx.Err()
	case ev, open := <-s.events:
		if !open {
			return Event{}, false, s.err
		}
		return ev, true, nil
	}
}

// Collect drains the stream and returns the visible text: token deltas, or
// the guardrail message when the run was blocked.
func (s *Stream) Collect(ctx context.Context) (string, error) {
	var b strings.Builder
	for {
		ev, ok, err := s.Next(ctx)
		if err != nil {
			return b.String(), err
		}
		if !ok {
			return b.String(), nil
		}
		if ev.Type == EventToken || ev.Type == EventGuardrailTripped {
			b.WriteString(ev.Text)
		}
	}
}

// Close cancels the run and waits for the producer to exit. Safe to call
// more than once.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.cancel()
		for range s.events {
		}
		<-s.done
	})
}

// Verdict returns the aggregated guardrail verdict. It is final once the
// first event has been received or the stream has ended.
func (s *Stream) Verdict() models.GuardrailVerdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verdict
}

// Agent returns the name of the agent currently producing output.
func (s *Stream) Agent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent
}

// Trace returns a copy of the execution trace recorded so far.
func (s *Stream) Trace() Trace {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.trace
	t.Turns = append([]Turn(nil), s.trace.Turns...)
	return t
}

func (s *Stream) setVerdict(v models.GuardrailVerdict) {
	s.mu.Lock()
	s.verdict = v
	s.mu.Unlock()
}

func (s *Stream) setAgent(name string) {
	s.mu.Lock()
	s.agent = name
	s.mu.Unlock()
}

func (s *Stream) addTurn(t Turn) {
	s.mu.Lock()
	s.trace.Turns = append(s.trace.Turns, t)
	s.trace.Usage.InputTokens += t.Usage.InputTokens
	s.trace.Usage.OutputTokens += t.Usage.OutputTokens
	s.trace.Usage.TotalTokens += t.Usage.TotalTokens
	s.mu.Unlock()
}

// emit blocks until the caller reads ev or the run is cancelled.
func (s *Stream) emit(ctx context.Context, ev Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
