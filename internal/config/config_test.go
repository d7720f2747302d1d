package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv 清空会影响 Load 的变量，避免本机环境干扰测试。
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "CORS_ALLOWED_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "AI_PROVIDER", "APP_MODE", "AI_MODEL", "Model", "AI_TEMPERATURE", "AI_TOP_P",
		"AI_MAX_TOKENS", "AI_STREAM_RESPONSE", "ARK_API_KEY", "DEEPSEEK_API_KEY", "OLLAMA_BASE_URL",
		"PIPELINE_STAGE_TIMEOUT", "PIPELINE_RETRIEVAL_TOP_K", "PIPELINE_GENERATION_TEMPERATURE",
		"FIREWALL_FAIL_MODE", "FIREWALL_MAX_TOKENS", "FIREWALL_LLM_ENABLED",
		"PRESIDIO_ANALYZER_URL", "ENTITY_THRESHOLD", "ENTITY_ENFORCE",
		"SESSION_BACKEND", "REDIS_URL", "SESSION_TTL", "SESSION_ALLOW_SHARED_DEFAULT",
		"KNOWLEDGE_BACKEND", "WEAVIATE_URL", "POSTGRES_DSN",
		"LOG_LEVEL", "LOG_FILE", "OTEL_TRACE_STDOUT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Empty(t, cfg.Server.AllowedOrigins)
	assert.InDelta(t, 5.0, cfg.Server.RateLimitRPS, 1e-9)
	assert.Equal(t, ProviderCloud, cfg.AI.Provider)
	assert.Equal(t, "deepseek-chat", cfg.AI.Model)
	assert.False(t, cfg.AI.Enabled())

	assert.Equal(t, 30*time.Second, cfg.Pipeline.StageTimeout)
	assert.Equal(t, 4, cfg.Pipeline.ChatHistoryTurns)
	assert.Equal(t, 2, cfg.Pipeline.RewriteHistoryTurns)
	assert.Equal(t, 3, cfg.Pipeline.RetrievalTopK)
	assert.InDelta(t, 0.1, cfg.Pipeline.GenerationTemperature, 1e-9)

	assert.True(t, cfg.Firewall.LLMEnabled)
	assert.Equal(t, "open", cfg.Firewall.FailMode)
	assert.Equal(t, 10, cfg.Firewall.MaxTokens)

	assert.InDelta(t, 0.6, cfg.Entity.Threshold, 1e-9)
	assert.Equal(t, "memory", cfg.Session.Backend)
	assert.False(t, cfg.Session.AllowSharedDefault)
	assert.Equal(t, "memory", cfg.Knowledge.Backend)
}

func TestLoadLocalProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_MODE", "local")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderLocal, cfg.AI.Provider)
	assert.Equal(t, "deepseek-r1", cfg.AI.Model)
	assert.Equal(t, "http://localhost:11434/v1", cfg.AI.BaseURL)
	assert.True(t, cfg.AI.Enabled())
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:8501, http://localhost:3000")
	t.Setenv("AI_PROVIDER", "ark")
	t.Setenv("AI_MODEL", "doubao-pro")
	t.Setenv("ARK_API_KEY", "key")
	t.Setenv("AI_TEMPERATURE", "0.7")
	t.Setenv("FIREWALL_FAIL_MODE", "CLOSED")
	t.Setenv("SESSION_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:8501", "http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.AI.Enabled())
	require.NotNil(t, cfg.AI.Temperature)
	assert.InDelta(t, 0.7, *cfg.AI.Temperature, 1e-9)
	assert.Equal(t, "closed", cfg.Firewall.FailMode)
	assert.Equal(t, "redis", cfg.Session.Backend)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "port with space", key: "PORT", val: "80 80"},
		{name: "bad provider", key: "AI_PROVIDER", val: "gemini"},
		{name: "bad duration", key: "PIPELINE_STAGE_TIMEOUT", val: "soon"},
		{name: "bad fail mode", key: "FIREWALL_FAIL_MODE", val: "maybe"},
		{name: "bad bool", key: "ENTITY_ENFORCE", val: "perhaps"},
		{name: "threshold out of range", key: "ENTITY_THRESHOLD", val: "1.5"},
		{name: "redis without url", key: "SESSION_BACKEND", val: "redis"},
		{name: "weaviate without url", key: "KNOWLEDGE_BACKEND", val: "weaviate"},
		{name: "zero top k", key: "PIPELINE_RETRIEVAL_TOP_K", val: "0"},
		{name: "negative rate limit", key: "RATE_LIMIT_RPS", val: "-1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
