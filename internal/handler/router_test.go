package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securag/securag/internal/config"
	"github.com/securag/securag/internal/model/chat"
	"github.com/securag/securag/internal/observability"
	"github.com/securag/securag/internal/service/pipeline"
)

type stubEngine struct{}

func (stubEngine) Chat(_ context.Context, req pipeline.ChatRequest) (pipeline.Reply, error) {
	return pipeline.Reply{SessionID: req.SessionID, Answer: "hello"}, nil
}

func (stubEngine) History(context.Context, string) ([]chat.Turn, error) { return nil, nil }

func (stubEngine) ResetSession(context.Context, string) error { return nil }

func (stubEngine) AddDocument(context.Context, string) (string, error) { return "id", nil }

func (stubEngine) Ingest(context.Context, string) ([]string, error) { return []string{"id"}, nil }

func (stubEngine) KnowledgeCount(context.Context) (int, error) { return 3, nil }

func newTestRouter(server config.ServerConfig) http.Handler {
	reg := prometheus.NewRegistry()
	observability.NewMetrics(reg).RecordRequest("answered")
	return NewRouter(RouterOptions{
		Engine:   stubEngine{},
		Provider: "cloud",
		Server:   server,
		Gatherer: reg,
	})
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestRouterHealthAndMetrics(t *testing.T) {
	r := newTestRouter(config.ServerConfig{})

	resp := serve(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())

	resp = serve(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "securag_pipeline_requests_total")
}

func TestRouterMountsAPI(t *testing.T) {
	r := newTestRouter(config.ServerConfig{})

	resp := serve(r, http.MethodPost, "/api/chat", `{"query":"hi","session_id":"s1"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"answer":"hello"`)

	resp = serve(r, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"knowledge_count":3}`, resp.Body.String())
}

func TestRouterRateLimit(t *testing.T) {
	r := newTestRouter(config.ServerConfig{RateLimitRPS: 0.001, RateLimitBurst: 1})

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/stats", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/api/stats", "").Code)
	// 健康检查不受限流影响
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/healthz", "").Code)
}

func TestRouterCORSPreflight(t *testing.T) {
	r := newTestRouter(config.ServerConfig{AllowedOrigins: []string{"http://localhost:8501"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:8501")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, "http://localhost:8501", resp.Header().Get("Access-Control-Allow-Origin"))
}
