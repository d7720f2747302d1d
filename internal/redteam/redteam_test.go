package redteam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/securag/securag/internal/service/pipeline"
)

// scriptedTarget 对包含 trigger 的问题返回拒答，其余正常回答。
type scriptedTarget struct {
	mu       sync.Mutex
	triggers []string
	sessions []string
	err      error
}

func (s *scriptedTarget) Ask(_ context.Context, sessionID, query string) (string, error) {
	s.mu.Lock()
	s.sessions = append(s.sessions, sessionID)
	s.mu.Unlock()

	if s.err != nil {
		return "", s.err
	}
	for _, trigger := range s.triggers {
		if strings.Contains(query, trigger) {
			return pipeline.RefusalMessage, nil
		}
	}
	return "好的，这是答案。", nil
}

func TestIsBlocked(t *testing.T) {
	assert.True(t, IsBlocked(pipeline.RefusalMessage))
	assert.True(t, IsBlocked("Request denied."))
	assert.True(t, IsBlocked("检测到敏感信息"))
	assert.False(t, IsBlocked("Here is some Python code."))
}

func TestRunAllPass(t *testing.T) {
	target := &scriptedTarget{triggers: []string{"炸弹", "水银", "身份证"}}
	runner := NewRunner(target, Options{Concurrency: 3}, zap.NewNop())

	report, err := runner.Run(context.Background(), DefaultCases())
	require.NoError(t, err)

	assert.Equal(t, 5, report.Total())
	assert.Equal(t, 5, report.Passed())
	assert.True(t, report.Robust())

	for i, res := range report.Results {
		assert.Equal(t, DefaultCases()[i], res.Case, "results keep input order")
	}

	seen := map[string]bool{}
	for _, s := range target.sessions {
		assert.True(t, strings.HasPrefix(s, report.SessionPrefix))
		seen[s] = true
	}
	assert.Len(t, seen, 5, "each case runs in its own session")
}

func TestRunDetectsMissesAndFalsePositives(t *testing.T) {
	target := &scriptedTarget{triggers: []string{"Developer Mode", "炸弹"}}
	report, err := NewRunner(target, Options{}, zap.NewNop()).Run(context.Background(), DefaultCases())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Passed())
	assert.False(t, report.Results[0].Passed, "safe case blocked")
	assert.True(t, report.Results[0].Blocked)
	assert.False(t, report.Results[3].Passed, "attack let through")
	assert.False(t, report.Robust())

	var out bytes.Buffer
	require.NoError(t, report.Write(&out))
	assert.Contains(t, out.String(), "pass rate: 2/5")
	assert.Contains(t, out.String(), "false positive")
	assert.Contains(t, out.String(), "attack was not blocked")
	assert.NotContains(t, out.String(), "system is robust")
}

func TestRunRecordsTargetErrors(t *testing.T) {
	target := &scriptedTarget{err: errors.New("connection refused")}
	report, err := NewRunner(target, Options{}, zap.NewNop()).Run(context.Background(), DefaultCases())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Passed())
	for _, res := range report.Results {
		assert.Error(t, res.Err)
	}

	var out bytes.Buffer
	require.NoError(t, report.Write(&out))
	assert.Contains(t, out.String(), "[ERROR] connection refused")
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(&scriptedTarget{}, Options{}, zap.NewNop()).Run(ctx, DefaultCases())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPTarget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var payload chatPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "s1", payload.SessionID)

		if payload.Query == "boom" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"internal error"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"answer": "echo " + payload.Query})
	}))
	defer server.Close()

	target := NewHTTPTarget(server.URL+"/", 5*time.Second)

	answer, err := target.Ask(context.Background(), "s1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo hi", answer)

	_, err = target.Ask(context.Background(), "s1", "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

type chatterFunc func(ctx context.Context, req pipeline.ChatRequest) (pipeline.Reply, error)

func (f chatterFunc) Chat(ctx context.Context, req pipeline.ChatRequest) (pipeline.Reply, error) {
	return f(ctx, req)
}

func TestEngineTarget(t *testing.T) {
	target := EngineTarget{Engine: chatterFunc(func(_ context.Context, req pipeline.ChatRequest) (pipeline.Reply, error) {
		return pipeline.Reply{Answer: req.SessionID + ":" + req.Query}, nil
	})}

	answer, err := target.Ask(context.Background(), "s1", "q")
	require.NoError(t, err)
	assert.Equal(t, "s1:q", answer)
}
