package evals

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/skywalker-firehose/agentchat/internal/agents"
	"github.com/skywalker-firehose/agentchat/internal/runner"
)

// AssertionResult is the outcome of one assertion.
type AssertionResult struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Passed      bool   `json:"passed"`
	Error       string `json:"error,omitempty"`
}

// Result is the outcome of one eval.
type Result struct {
	Name             string            `json:"name"`
	Passed           bool              `json:"passed"`
	Response         string            `json:"response,omitempty"`
	AssertionResults []AssertionResult `json:"assertionResults"`
	Error            string            `json:"error,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	DurationMs       int64             `json:"durationMs"`
}

// Summary counts results.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Summarize counts passed and failed results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	return s
}

// Evaluator runs definitions through the composed assistant.
type Evaluator struct {
	composer    *agents.Composer
	runner      *runner.Runner
	judge       Judge
	concurrency int
}

// NewEvaluator creates an evaluator. judge may be nil, in which case
// llm_judge assertions fail.
func NewEvaluator(composer *agents.Composer, r *runner.Runner, judge Judge, concurrency int) *Evaluator {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Evaluator{composer: composer, runner: r, judge: judge, concurrency: concurrency}
}

// exprEnv is the environment of expr assertions.
type exprEnv struct {
	Response string   `expr:"response"`
	Tools    []string `expr:"tools"`
	Agents   []string `expr:"agents"`
	Language string   `expr:"language"`
	Blocked  bool     `expr:"blocked"`
}

// Run executes one eval. It never returns an error: failures are recorded
// in the result.
func (e *Evaluator) Run(ctx context.Context, def *Definition) Result {
	start := time.Now()
	result := Result{Name: def.Name, Tags: def.Tags}
	defer func() { result.DurationMs = time.Since(start).Milliseconds() }()

	env, err := e.respond(ctx, def)
	if err != nil {
		result.Error = fmt.Sprintf("Eval execution failed: %v", err)
		result.AssertionResults = []AssertionResult{}
		return result
	}
	result.Response = env.Response

	result.Passed = true
	for _, a := range def.Assertions {
		ar := e.assert(ctx, a, env)
		if !ar.Passed {
			result.Passed = false
		}
		result.AssertionResults = append(result.AssertionResults, ar)
	}
	return result
}

func (e *Evaluator) respond(ctx context.Context, def *Definition) (exprEnv, error) {
	rc := def.RequestContext()
	agent := e.composer.CreateAssistant(rc)

	stream := e.runner.Run(ctx, agent, def.Input.History(), rc)
	defer stream.Close()

	out, err := stream.Collect(ctx)
	if err != nil {
		return exprEnv{}, err
	}
	trace := stream.Trace()
	verdict := stream.Verdict()
	return exprEnv{
		Response: strings.TrimSpace(out),
		Tools:    trace.ToolCalls(),
		Agents:   trace.Agents(),
		Language: verdict.DetectedLanguage,
		Blocked:  !verdict.Allowed,
	}, nil
}

func (e *Evaluator) assert(ctx context.Context, a Assertion, env exprEnv) AssertionResult {
	ar := AssertionResult{Type: a.Type, Description: a.Description}
	response := env.Response

	switch a.Type {
	case AssertContains:
		ar.Passed = strings.Contains(response, a.Value)
	case AssertNotContains:
		ar.Passed = !strings.Contains(response, a.Value)
	case AssertExactMatch:
		ar.Passed = response == a.Value
	case AssertRegex:
		re, err := regexp.Compile(a.Value)
		if err != nil {
			ar.Error = fmt.Sprintf("Assertion failed: %v", err)
			return ar
		}
		ar.Passed = re.MatchString(response)
	case AssertLLMJudge:
		if e.judge == nil {
			ar.Error = "no judge configured"
			return ar
		}
		v := e.judge.Judge(ctx, response, a.Value)
		ar.Passed = v.Meets
		if !v.Meets {
			ar.Error = v.Reason
		}
	case AssertExpr:
		program, err := expr.Compile(a.Value, expr.Env(exprEnv{}), expr.AsBool())
		if err != nil {
			ar.Error = fmt.Sprintf("Assertion failed: %v", err)
			return ar
		}
		out, err := expr.Run(program, env)
		if err != nil {
			ar.Error = fmt.Sprintf("Assertion failed: %v", err)
			return ar
		}
		ar.Passed, _ = out.(bool)
	default:
		ar.Error = fmt.Sprintf("Unknown assertion type: %s", a.Type)
	}
	return ar
}

// RunAll runs defs concurrently and returns the results in input order.
func (e *Evaluator) RunAll(ctx context.Context, defs []*Definition) []Result {
	results := make([]Result, len(defs))

	var g errgroup.Group
	g.SetLimit(e.concurrency)

	for i, def := range defs {
		g.Go(func() error {
			log.Info().Str("eval", def.Name).Msg("Running eval")
			results[i] = e.Run(ctx, def)
			logResult(results[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func logResult(r Result) {
	if r.Passed {
		log.Info().Str("eval", r.Name).Int64("ms", r.DurationMs).Msg("✅ Eval passed")
		return
	}
	evt := log.Warn().Str("eval", r.Name)
	if r.Error != "" {
		evt = evt.Str("error", r.Error)
	}
	for _, a := range r.AssertionResults {
		if !a.Passed {
			evt = evt.Str("failed_"+a.Type, a.Description+" "+a.Error)
		}
	}
	evt.Msg("❌ Eval failed")
}
