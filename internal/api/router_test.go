package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalker-firehose/agentchat/internal/agents"
	"github.com/skywalker-firehose/agentchat/internal/api"
	"github.com/skywalker-firehose/agentchat/internal/api/handlers"
	"github.com/skywalker-firehose/agentchat/internal/config"
	"github.com/skywalker-firehose/agentchat/internal/guardrails"
	"github.com/skywalker-firehose/agentchat/internal/runner"
	"github.com/skywalker-firehose/agentchat/internal/tools"
	"github.com/skywalker-firehose/agentchat/pkg/contracts"
	"github.com/skywalker-firehose/agentchat/pkg/models"
)

// replayModels answers every Stream call with the next scripted turn.
type replayModels struct {
	mu    sync.Mutex
	turns [][]models.StreamChunk
	calls int
}

func (m *replayModels) Stream(_ context.Context, _ *contracts.CompletionRequest, fn func(*models.StreamChunk) error) error {
	m.mu.Lock()
	m.calls++
	if len(m.turns) == 0 {
		m.mu.Unlock()
		return errors.New("no more turns")
	}
	chunks := m.turns[0]
	m.turns = m.turns[1:]
	m.mu.Unlock()

	for i := range chunks {
		if err := fn(&chunks[i]); err != nil {
			return err
		}
	}
	return fn(&models.StreamChunk{Done: true})
}

func (m *replayModels) Complete(context.Context, *contracts.CompletionRequest) (*contracts.CompletionResponse, error) {
	return nil, errors.New("not used")
}

type fixedClassifier string

func (c fixedClassifier) Classify(context.Context, string) (string, error) { return string(c), nil }

func newServer(t *testing.T, lang string, svc contracts.ModelService, keys ...string) http.Handler {
	t.Helper()
	reg, err := tools.NewBuiltinRegistry(nil)
	require.NoError(t, err)
	store, err := agents.LoadEmbeddedDefinitions()
	require.NoError(t, err)
	g := guardrails.NewLanguageGuardrail(fixedClassifier(lang), []string{"en", "es"}, 0)
	composer, err := agents.NewComposerFromStore(store, "assistant", reg, g)
	require.NoError(t, err)

	cfg := &config.Config{Version: "test", Auth: config.AuthConfig{APIKeys: keys}}
	h := &handlers.Handlers{
		Composer: composer,
		Runner:   runner.New(svc, runner.Options{}),
		Tools:    reg,
		EvalsDir: "../evals/testdata",
		Version:  cfg.Version,
	}
	return api.NewRouter(cfg, h, nil)
}

func postChat(t *testing.T, srv http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestChat_UnsupportedLanguage(t *testing.T) {
	svc := &replayModels{}
	srv := newServer(t, "fr", svc)

	w := postChat(t, srv, `{"messages":[{"role":"user","content":"Bonjour, comment ça va?"}]}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[[ error unsupported language ]]", w.Body.String())
	assert.Zero(t, svc.calls)
	assert.NotEmpty(t, w.Header().Get("X-Run-Id"))
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
}

func TestChat_StreamsText(t *testing.T) {
	svc := &replayModels{turns: [][]models.StreamChunk{
		{{Content: "Hello"}, {Content: ", world"}},
	}}
	srv := newServer(t, "en", svc)

	w := postChat(t, srv, `{"messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hello, world", w.Body.String())
	assert.True(t, w.Flushed)
}

func TestChat_OrdersAtLevelOneFromData(t *testing.T) {
	svc := &replayModels{turns: [][]models.StreamChunk{
		{{ToolCall: &models.ToolCallChunk{ID: "c1", Name: "transfer_to_orders_agent", Arguments: "{}"}}},
		{{ToolCall: &models.ToolCallChunk{ID: "c2", Name: tools.GetOrdersName, Arguments: "{}"}}},
		{{Content: "• Order 4001"}},
	}}
	srv := newServer(t, "en", svc)

	w := postChat(t, srv, `{"messages":[{"role":"user","content":"my orders"}],"data":{"context":{"auth_level":1,"scenario":"single"}}}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "• Order 4001", w.Body.String())
	assert.Equal(t, 3, svc.calls)
}

func TestChat_ModelErrorWritesFragment(t *testing.T) {
	srv := newServer(t, "en", &replayModels{})

	w := postChat(t, srv, `{"messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, handlers.StreamErrorMessage, w.Body.String())
}

func TestChat_BadRequest(t *testing.T) {
	srv := newServer(t, "en", &replayModels{})

	for _, body := range []string{`not json`, `{"messages":[]}`} {
		w := postChat(t, srv, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestChat_RequiresAPIKeyWhenConfigured(t *testing.T) {
	srv := newServer(t, "en", &replayModels{}, "secret")

	w := postChat(t, srv, `{"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDocsTools(t *testing.T) {
	srv := newServer(t, "en", &replayModels{})

	req := httptest.NewRequest(http.MethodGet, "/api/docs/tools", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var docs []struct {
		Name              string `json:"name"`
		RequiredAuthLevel int    `json:"requiredAuthLevel"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &docs))

	levels := map[string]int{}
	for _, d := range docs {
		levels[d.Name] = d.RequiredAuthLevel
	}
	assert.Contains(t, levels, tools.GetJokeName)
	assert.Contains(t, levels, tools.GetCatFactName)
	assert.Equal(t, 1, levels[tools.GetOrdersName])
}

func TestDescribeAssistant(t *testing.T) {
	srv := newServer(t, "en", &replayModels{})

	var view struct {
		Name         string `json:"name"`
		Instructions string `json:"instructions"`
		Handoffs     []struct {
			Name  string   `json:"name"`
			Tools []string `json:"tools"`
		} `json:"handoffs"`
		Guardrails []string `json:"guardrails"`
	}

	req := httptest.NewRequest(http.MethodGet, "/api/agents/assistant?auth_level=0", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "Assistant", view.Name)
	assert.Len(t, view.Handoffs, 2)
	assert.Contains(t, view.Instructions, "## Access Restrictions")
	assert.Equal(t, []string{guardrails.LanguageGuardrailName}, view.Guardrails)

	req = httptest.NewRequest(http.MethodGet, "/api/agents/assistant?auth_level=1", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Len(t, view.Handoffs, 3)
	assert.Equal(t, "Orders Agent", view.Handoffs[2].Name)
	assert.Equal(t, []string{tools.GetOrdersName}, view.Handoffs[2].Tools)
	assert.NotContains(t, view.Instructions, "## Access Restrictions")
}

func TestEvalsEndpoint(t *testing.T) {
	srv := newServer(t, "en", &replayModels{})

	req := httptest.NewRequest(http.MethodGet, "/api/evals?action=list", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Success bool `json:"success"`
		Count   int  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.True(t, list.Success)
	assert.Equal(t, 2, list.Count)

	req = httptest.NewRequest(http.MethodGet, "/api/evals?action=bogus", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/evals?action=run", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthAndVersion(t *testing.T) {
	srv := newServer(t, "en", &replayModels{})

	for path, key := range map[string]string{"/health": "status", "/version": "version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, path)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.NotEmpty(t, body[key], path)
		assert.Equal(t, handlers.ServiceName, body["service"])
	}
}
