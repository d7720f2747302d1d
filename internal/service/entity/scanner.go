package entity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Entity 是识别出的一段敏感实体。
type Entity struct {
	Type  string  `json:"entity_type"`
	Start int     `json:"start"`
	End   int     `json:"end"`
	Score float64 `json:"score"`
}

// Scanner 识别文本中的敏感实体。
type Scanner interface {
	Scan(ctx context.Context, text string) ([]Entity, error)
}

// NoopScanner 在未配置识别后端时使用。
type NoopScanner struct{}

func (NoopScanner) Scan(context.Context, string) ([]Entity, error) {
	return nil, nil
}

// PresidioScanner 调用 Presidio analyzer 的 /analyze 接口。
type PresidioScanner struct {
	endpoint string
	language string
	client   *http.Client
}

// NewPresidioScanner 创建扫描器，baseURL 形如 http://localhost:5002。
func NewPresidioScanner(baseURL, language string, timeout time.Duration) *PresidioScanner {
	if language == "" {
		language = "en"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PresidioScanner{
		endpoint: strings.TrimRight(baseURL, "/") + "/analyze",
		language: language,
		client:   &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func (s *PresidioScanner) Scan(ctx context.Context, text string) ([]Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	body, err := json.Marshal(analyzeRequest{Text: text, Language: s.language})
	if err != nil {
		return nil, fmt.Errorf("failed to encode analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyze request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("analyze returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var entities []Entity
	if err := json.NewDecoder(resp.Body).Decode(&entities); err != nil {
		return nil, fmt.Errorf("failed to decode analyze response: %w", err)
	}
	return entities, nil
}
