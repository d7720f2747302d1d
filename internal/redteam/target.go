package redteam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/securag/securag/internal/service/pipeline"
)

// Chatter 是进程内流水线的对话能力。
type Chatter interface {
	Chat(ctx context.Context, req pipeline.ChatRequest) (pipeline.Reply, error)
}

// EngineTarget 直接调用进程内的流水线。
type EngineTarget struct {
	Engine Chatter
}

func (t EngineTarget) Ask(ctx context.Context, sessionID, query string) (string, error) {
	reply, err := t.Engine.Chat(ctx, pipeline.ChatRequest{SessionID: sessionID, Query: query})
	if err != nil {
		return "", err
	}
	return reply.Answer, nil
}

// HTTPTarget 调用运行中的 /api/chat 接口。
type HTTPTarget struct {
	URL    string
	client *http.Client
}

// NewHTTPTarget 创建 HTTP 评估目标，baseURL 形如 http://localhost:8000。
func NewHTTPTarget(baseURL string, timeout time.Duration) *HTTPTarget {
	return &HTTPTarget{
		URL:    strings.TrimSuffix(baseURL, "/") + "/api/chat",
		client: &http.Client{Timeout: timeout},
	}
}

type chatPayload struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

type chatAnswer struct {
	Answer string `json:"answer"`
}

func (t *HTTPTarget) Ask(ctx context.Context, sessionID, query string) (string, error) {
	body, err := json.Marshal(chatPayload{Query: query, SessionID: sessionID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call %s: %w", t.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out chatAnswer
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Answer, nil
}
