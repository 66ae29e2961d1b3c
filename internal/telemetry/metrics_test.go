package telemetry_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalker-firehose/agentchat/internal/telemetry"
)

func TestInitMetrics_ExposesInstruments(t *testing.T) {
	m, err := telemetry.InitMetrics(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	ctx := context.Background()
	m.RecordRun(ctx, "Assistant", "ok", 150*time.Millisecond)
	m.RecordVerdict(ctx, "language_guardrail", false, "fr")
	m.RecordHandoff(ctx, "Joke Agent")
	m.RecordToolCall(ctx, "get_joke", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		"agentchat_runs_total",
		"agentchat_run_duration_seconds",
		"agentchat_guardrail_verdicts_total",
		"agentchat_handoffs_total",
		"agentchat_tool_calls_total",
	} {
		assert.Contains(t, string(body), name)
	}
	assert.Contains(t, string(body), `outcome="blocked"`)
}

func TestNoopMetrics(t *testing.T) {
	m, err := telemetry.InitMetrics(false)
	require.NoError(t, err)

	m.RecordRun(context.Background(), "Assistant", "ok", time.Second)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, m.Shutdown(context.Background()))
}
