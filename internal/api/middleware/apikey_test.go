package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/skywalker-firehose/agentchat/internal/api/middleware"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	auth := middleware.NewAPIKeyAuth(nil)
	if auth.Enabled() {
		t.Error("Expected auth to be disabled with no keys")
	}

	handler := auth.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Disabled auth: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAPIKeyAuth_BlankKeysDisabled(t *testing.T) {
	auth := middleware.NewAPIKeyAuth([]string{"", "  "})
	if auth.Enabled() {
		t.Error("Expected blank keys to leave auth disabled")
	}
}

func TestAPIKeyAuth_ValidKey(t *testing.T) {
	auth := middleware.NewAPIKeyAuth([]string{"test-key-1", "test-key-2"})
	if !auth.Enabled() {
		t.Fatal("Expected auth to be enabled")
	}

	handler := auth.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set("Authorization", "Bearer test-key-1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Valid Bearer key: status = %d, want %d", w.Code, http.StatusOK)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req2.Header.Set("X-API-Key", "test-key-2")
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)

	if w2.Code != http.StatusOK {
		t.Errorf("Valid X-API-Key: status = %d, want %d", w2.Code, http.StatusOK)
	}

	req3 := httptest.NewRequest(http.MethodGet, "/api/docs/tools?api_key=test-key-2", nil)
	w3 := httptest.NewRecorder()
	handler.ServeHTTP(w3, req3)

	if w3.Code != http.StatusOK {
		t.Errorf("Valid api_key query: status = %d, want %d", w3.Code, http.StatusOK)
	}
}

func TestAPIKeyAuth_InvalidKey(t *testing.T) {
	handler := middleware.NewAPIKeyAuth([]string{"valid-key"}).Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Invalid key: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if got := w.Header().Get("WWW-Authenticate"); got != `Bearer realm="agentchat"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}
}

func TestAPIKeyAuth_MissingKey(t *testing.T) {
	handler := middleware.NewAPIKeyAuth([]string{"valid-key"}).Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/agents/assistant", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Missing key: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAPIKeyAuth_PublicPaths(t *testing.T) {
	handler := middleware.NewAPIKeyAuth([]string{"valid-key"}).Middleware(okHandler())

	publicPaths := []string{"/health", "/version", "/metrics"}
	for _, path := range publicPaths {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Public path %q: status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

func TestLogger_PreservesFlusher(t *testing.T) {
	var flushed bool
	handler := middleware.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("Logger response writer does not implement http.Flusher")
		}
		w.Write([]byte("chunk"))
		f.Flush()
		flushed = true
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat", nil))

	if !flushed {
		t.Error("handler did not flush")
	}
	if !w.Flushed {
		t.Error("flush did not reach the underlying writer")
	}
	if w.Body.String() != "chunk" {
		t.Errorf("body = %q, want %q", w.Body.String(), "chunk")
	}
}
