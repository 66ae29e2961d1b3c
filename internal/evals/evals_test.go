package evals_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalker-firehose/agentchat/internal/agents"
	"github.com/skywalker-firehose/agentchat/internal/evals"
	"github.com/skywalker-firehose/agentchat/internal/guardrails"
	"github.com/skywalker-firehose/agentchat/internal/runner"
	"github.com/skywalker-firehose/agentchat/internal/tools"
	"github.com/skywalker-firehose/agentchat/pkg/contracts"
	"github.com/skywalker-firehose/agentchat/pkg/models"
)

// echoModels answers every turn with a fixed text and serves Complete from
// a canned reply.
type echoModels struct {
	mu       sync.Mutex
	reply    string
	complete string
	streams  int
}

func (f *echoModels) Stream(_ context.Context, _ *contracts.CompletionRequest, fn func(*models.StreamChunk) error) error {
	f.mu.Lock()
	f.streams++
	f.mu.Unlock()
	if err := fn(&models.StreamChunk{Content: f.reply}); err != nil {
		return err
	}
	return fn(&models.StreamChunk{Done: true})
}

func (f *echoModels) Complete(context.Context, *contracts.CompletionRequest) (*contracts.CompletionResponse, error) {
	if f.complete == "" {
		return nil, errors.New("no reply")
	}
	return &contracts.CompletionResponse{Content: f.complete}, nil
}

type fixedClassifier string

func (c fixedClassifier) Classify(context.Context, string) (string, error) { return string(c), nil }

func newEvaluator(t *testing.T, svc contracts.ModelService, lang string, judge evals.Judge) *evals.Evaluator {
	t.Helper()
	reg, err := tools.NewBuiltinRegistry(nil)
	require.NoError(t, err)
	store, err := agents.LoadEmbeddedDefinitions()
	require.NoError(t, err)
	g := guardrails.NewLanguageGuardrail(fixedClassifier(lang), []string{"en", "es"}, 0)
	composer, err := agents.NewComposerFromStore(store, "assistant", reg, g)
	require.NoError(t, err)
	return evals.NewEvaluator(composer, runner.New(svc, runner.Options{}), judge, 2)
}

func TestParse_StringAndConversationInput(t *testing.T) {
	def, err := evals.Parse([]byte(`{"name":"a","input":"hi","assertions":[{"type":"contains","value":"x"}]}`))
	require.NoError(t, err)
	require.Len(t, def.Input, 1)
	assert.Equal(t, models.RoleUser, def.Input[0].Role)
	assert.Equal(t, "hi", def.Input[0].Content)

	def, err = evals.Parse([]byte(`{"name":"b","input":[{"role":"user","content":"a"},{"role":"assistant","content":"b"}],"assertions":[{"type":"regex","value":"."}]}`))
	require.NoError(t, err)
	assert.Len(t, def.Input.History(), 2)
}

func TestParse_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no assertions":  `{"name":"a","input":"hi","assertions":[]}`,
		"unknown type":   `{"name":"a","input":"hi","assertions":[{"type":"fuzzy","value":"x"}]}`,
		"bad role":       `{"name":"a","input":[{"role":"system","content":"x"}],"assertions":[{"type":"contains","value":"x"}]}`,
		"missing name":   `{"input":"hi","assertions":[{"type":"contains","value":"x"}]}`,
		"malformed json": `{"name":`,
	}
	for name, data := range cases {
		_, err := evals.Parse([]byte(data))
		assert.Error(t, err, name)
	}
}

func TestLoadDir_SkipsInvalidAndSchema(t *testing.T) {
	defs, err := evals.LoadDir("testdata")
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "greeting", defs[0].Name)
	assert.Equal(t, "multiturn", defs[1].Name)

	assert.Equal(t, []string{"multi-turn", "smoke"}, evals.Tags(defs))
	assert.Len(t, evals.FilterByTags(defs, []string{"multi-turn"}), 1)
	assert.Len(t, evals.FilterByTags(defs, nil), 2)
}

func TestLoadDir_Missing(t *testing.T) {
	_, err := evals.LoadDir("does-not-exist")
	assert.Error(t, err)
}

func TestRun_AssertionTypes(t *testing.T) {
	svc := &echoModels{reply: "Hello there, friend"}
	e := newEvaluator(t, svc, "en", nil)

	def := &evals.Definition{
		Name:  "all types",
		Input: evals.Input{{Role: models.RoleUser, Content: "Hi"}},
		Assertions: []evals.Assertion{
			{Type: evals.AssertContains, Value: "friend"},
			{Type: evals.AssertNotContains, Value: "enemy"},
			{Type: evals.AssertExactMatch, Value: "Hello there, friend"},
			{Type: evals.AssertRegex, Value: `^Hello`},
			{Type: evals.AssertExpr, Value: `response contains "there" && language == "en" && !blocked`},
		},
	}
	r := e.Run(context.Background(), def)
	assert.True(t, r.Passed, "%+v", r.AssertionResults)
	assert.Equal(t, "Hello there, friend", r.Response)
	assert.Len(t, r.AssertionResults, 5)
}

func TestRun_FailingAssertions(t *testing.T) {
	e := newEvaluator(t, &echoModels{reply: "nope"}, "en", nil)
	def := &evals.Definition{
		Name:  "failures",
		Input: evals.Input{{Role: models.RoleUser, Content: "Hi"}},
		Assertions: []evals.Assertion{
			{Type: evals.AssertRegex, Value: `(`},
			{Type: evals.AssertExpr, Value: `response +`},
			{Type: evals.AssertLLMJudge, Value: "anything"},
			{Type: "fuzzy", Value: "x"},
		},
	}
	r := e.Run(context.Background(), def)
	assert.False(t, r.Passed)
	for _, ar := range r.AssertionResults {
		assert.False(t, ar.Passed)
		assert.NotEmpty(t, ar.Error)
	}
}

func TestRun_GuardrailBlockIsTheResponse(t *testing.T) {
	svc := &echoModels{reply: "should not be used"}
	e := newEvaluator(t, svc, "fr", nil)
	def := &evals.Definition{
		Name:       "french",
		Input:      evals.Input{{Role: models.RoleUser, Content: "Bonjour"}},
		Assertions: []evals.Assertion{{Type: evals.AssertExactMatch, Value: guardrails.UnsupportedLanguageMessage}},
	}
	r := e.Run(context.Background(), def)
	assert.True(t, r.Passed)
	assert.Zero(t, svc.streams)
}

func TestLLMJudge(t *testing.T) {
	cases := []struct {
		reply string
		want  evals.Verdict
	}{
		{`{"meets": true, "reason": "polite"}`, evals.Verdict{Meets: true, Reason: "polite"}},
		{"```json\n{\"meets\": false, \"reason\": \"rude\"}\n```", evals.Verdict{Meets: false, Reason: "rude"}},
		{`not json`, evals.Verdict{Meets: false, Reason: evals.JudgeFailedReason}},
		{`{"meets": true}`, evals.Verdict{Meets: false, Reason: evals.JudgeFailedReason}},
		{``, evals.Verdict{Meets: false, Reason: evals.JudgeFailedReason}},
	}
	for _, tc := range cases {
		j := evals.NewLLMJudge(&echoModels{complete: tc.reply}, "gpt-4.1-mini")
		assert.Equal(t, tc.want, j.Judge(context.Background(), "resp", "req"), tc.reply)
	}
}

func TestRunAll_PreservesOrderAndSummarizes(t *testing.T) {
	e := newEvaluator(t, &echoModels{reply: "Hello"}, "en", nil)
	defs, err := evals.LoadDir("testdata")
	require.NoError(t, err)

	results := e.RunAll(context.Background(), defs)
	require.Len(t, results, 2)
	assert.Equal(t, "greeting", results[0].Name)
	assert.Equal(t, "multiturn", results[1].Name)

	s := evals.Summarize(results)
	assert.Equal(t, evals.Summary{Total: 2, Passed: 2, Failed: 0}, s)
}
