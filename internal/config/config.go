package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// AI 提供方。
const (
	ProviderArk   = "ark"
	ProviderCloud = "cloud"
	ProviderLocal = "local"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Pipeline  PipelineConfig
	Firewall  FirewallConfig
	Entity    EntityConfig
	Session   SessionConfig
	Knowledge KnowledgeConfig
	Rules     RulesConfig
	Log       LogConfig
	Telemetry TelemetryConfig
}

// Load 从环境变量加载配置并校验。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	pipeline, err := loadPipelineConfig()
	if err != nil {
		return nil, err
	}

	firewall, err := loadFirewallConfig()
	if err != nil {
		return nil, err
	}

	entity, err := loadEntityConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	knowledge, err := loadKnowledgeConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	traceStdout, err := parseBoolEnv("OTEL_TRACE_STDOUT", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:    server,
		AI:        ai,
		Pipeline:  pipeline,
		Firewall:  firewall,
		Entity:    entity,
		Session:   session,
		Knowledge: knowledge,
		Rules: RulesConfig{
			SanitizeFile:  strings.TrimSpace(os.Getenv("SANITIZE_RULES_FILE")),
			InjectionFile: strings.TrimSpace(os.Getenv("INJECTION_RULES_FILE")),
			DangerFile:    strings.TrimSpace(os.Getenv("DANGER_KEYWORDS_FILE")),
		},
		Log:       logCfg,
		Telemetry: TelemetryConfig{TraceStdout: traceStdout},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 按结构体标签校验配置取值。
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string   `validate:"required"`
	AllowedOrigins []string
	// RateLimitRPS 为每个客户端 IP 的每秒请求数，0 表示不限流。
	RateLimitRPS   float64 `validate:"gte=0"`
	RateLimitBurst int     `validate:"gte=0"`
}

// loadServerConfig 解析服务器监听地址、跨域来源与限流参数。
func loadServerConfig() (ServerConfig, error) {
	addr, err := parseAddr(strings.TrimSpace(os.Getenv("PORT")))
	if err != nil {
		return ServerConfig{}, err
	}

	rps := 5.0
	if override, err := parseOptionalFloatEnv("RATE_LIMIT_RPS"); err != nil {
		return ServerConfig{}, err
	} else if override != nil {
		rps = *override
	}

	burst, err := parseIntEnv("RATE_LIMIT_BURST", 10)
	if err != nil {
		return ServerConfig{}, err
	}

	var origins []string
	for _, o := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return ServerConfig{
		Addr:           addr,
		AllowedOrigins: origins,
		RateLimitRPS:   rps,
		RateLimitBurst: burst,
	}, nil
}

func parseAddr(port string) (string, error) {
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider       string `validate:"oneof=ark cloud local"`
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string `validate:"omitempty,url"`
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
	EmbeddingModel string
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	if c.Model == "" {
		return false
	}
	switch c.Provider {
	case ProviderArk:
		return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
	case ProviderLocal:
		return c.BaseURL != ""
	default:
		return c.APIKey != ""
	}
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("AI_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("AI_STREAM_RESPONSE", false)
	if err != nil {
		return AIConfig{}, err
	}

	// APP_MODE 沿用早期 local/cloud 的命名。
	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", getEnvOrDefault("APP_MODE", ProviderCloud)))

	cfg := AIConfig{
		Provider:       provider,
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
		Model:          getEnvOrDefault("AI_MODEL", strings.TrimSpace(os.Getenv("Model"))),
		EmbeddingModel: getEnvOrDefault("AI_EMBEDDING_MODEL", "nomic-embed-text"),
	}

	switch provider {
	case ProviderArk:
		cfg.APIKey = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		cfg.AccessKey = strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY"))
		cfg.SecretKey = strings.TrimSpace(os.Getenv("ARK_SECRET_KEY"))
		cfg.BaseURL = getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3")
		cfg.Region = getEnvOrDefault("ARK_REGION", "cn-beijing")
	case ProviderLocal:
		// Ollama 不校验 key，但 OpenAI 协议要求非空。
		cfg.APIKey = getEnvOrDefault("OLLAMA_API_KEY", "ollama")
		cfg.BaseURL = getEnvOrDefault("OLLAMA_BASE_URL", "http://localhost:11434/v1")
		if cfg.Model == "" {
			cfg.Model = "deepseek-r1"
		}
	default:
		cfg.APIKey = strings.TrimSpace(os.Getenv("DEEPSEEK_API_KEY"))
		cfg.BaseURL = getEnvOrDefault("DEEPSEEK_BASE_URL", "https://api.deepseek.com")
		if cfg.Model == "" {
			cfg.Model = "deepseek-chat"
		}
	}

	return cfg, nil
}

// PipelineConfig 控制编排流程的超时与窗口大小。
type PipelineConfig struct {
	StageTimeout          time.Duration `validate:"gt=0"`
	GenerationTimeout     time.Duration `validate:"gt=0"`
	ChatHistoryTurns      int           `validate:"gte=0"`
	RewriteHistoryTurns   int           `validate:"gte=0"`
	RetrievalTopK         int           `validate:"gte=1"`
	GenerationTemperature float64       `validate:"gte=0,lte=2"`
}

func loadPipelineConfig() (PipelineConfig, error) {
	stageTimeout, err := parseDurationEnv("PIPELINE_STAGE_TIMEOUT", 30*time.Second)
	if err != nil {
		return PipelineConfig{}, err
	}

	genTimeout, err := parseDurationEnv("PIPELINE_GENERATION_TIMEOUT", 120*time.Second)
	if err != nil {
		return PipelineConfig{}, err
	}

	chatTurns, err := parseIntEnv("PIPELINE_CHAT_HISTORY_TURNS", 4)
	if err != nil {
		return PipelineConfig{}, err
	}

	rewriteTurns, err := parseIntEnv("PIPELINE_REWRITE_HISTORY_TURNS", 2)
	if err != nil {
		return PipelineConfig{}, err
	}

	topK, err := parseIntEnv("PIPELINE_RETRIEVAL_TOP_K", 3)
	if err != nil {
		return PipelineConfig{}, err
	}

	temperature := 0.1
	if override, err := parseOptionalFloatEnv("PIPELINE_GENERATION_TEMPERATURE"); err != nil {
		return PipelineConfig{}, err
	} else if override != nil {
		temperature = *override
	}

	return PipelineConfig{
		StageTimeout:          stageTimeout,
		GenerationTimeout:     genTimeout,
		ChatHistoryTurns:      chatTurns,
		RewriteHistoryTurns:   rewriteTurns,
		RetrievalTopK:         topK,
		GenerationTemperature: temperature,
	}, nil
}

// FirewallConfig 描述语义防火墙的策略。
type FirewallConfig struct {
	// LLMEnabled 为 false 时只运行关键词快速通道。
	LLMEnabled bool
	FailMode   string `validate:"oneof=open closed"`
	MaxTokens  int    `validate:"gte=1"`
}

func loadFirewallConfig() (FirewallConfig, error) {
	enabled, err := parseBoolEnv("FIREWALL_LLM_ENABLED", true)
	if err != nil {
		return FirewallConfig{}, err
	}

	maxTokens, err := parseIntEnv("FIREWALL_MAX_TOKENS", 10)
	if err != nil {
		return FirewallConfig{}, err
	}

	return FirewallConfig{
		LLMEnabled: enabled,
		FailMode:   strings.ToLower(getEnvOrDefault("FIREWALL_FAIL_MODE", "open")),
		MaxTokens:  maxTokens,
	}, nil
}

// EntityConfig 描述实体识别（Presidio）后端与策略。
type EntityConfig struct {
	URL       string  `validate:"omitempty,url"`
	Language  string  `validate:"required"`
	Threshold float64 `validate:"gte=0,lte=1"`
	Enforce   bool
	Timeout   time.Duration `validate:"gt=0"`
}

func loadEntityConfig() (EntityConfig, error) {
	threshold := 0.6
	if override, err := parseOptionalFloatEnv("ENTITY_THRESHOLD"); err != nil {
		return EntityConfig{}, err
	} else if override != nil {
		threshold = *override
	}

	enforce, err := parseBoolEnv("ENTITY_ENFORCE", false)
	if err != nil {
		return EntityConfig{}, err
	}

	timeout, err := parseDurationEnv("ENTITY_TIMEOUT", 10*time.Second)
	if err != nil {
		return EntityConfig{}, err
	}

	return EntityConfig{
		URL:       strings.TrimSpace(os.Getenv("PRESIDIO_ANALYZER_URL")),
		Language:  getEnvOrDefault("ENTITY_LANGUAGE", "en"),
		Threshold: threshold,
		Enforce:   enforce,
		Timeout:   timeout,
	}, nil
}

// SessionConfig 描述会话记忆的存储与上限。
type SessionConfig struct {
	Backend            string        `validate:"oneof=memory redis"`
	RedisURL           string        `validate:"required_if=Backend redis"`
	TTL                time.Duration `validate:"gt=0"`
	MaxSessions        int           `validate:"gte=1"`
	MaxTurns           int           `validate:"gte=2"`
	AllowSharedDefault bool
}

func loadSessionConfig() (SessionConfig, error) {
	ttl, err := parseDurationEnv("SESSION_TTL", time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}

	maxSessions, err := parseIntEnv("SESSION_MAX_SESSIONS", 10000)
	if err != nil {
		return SessionConfig{}, err
	}

	maxTurns, err := parseIntEnv("SESSION_MAX_TURNS", 100)
	if err != nil {
		return SessionConfig{}, err
	}

	shared, err := parseBoolEnv("SESSION_ALLOW_SHARED_DEFAULT", false)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{
		Backend:            strings.ToLower(getEnvOrDefault("SESSION_BACKEND", "memory")),
		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
		TTL:                ttl,
		MaxSessions:        maxSessions,
		MaxTurns:           maxTurns,
		AllowSharedDefault: shared,
	}, nil
}

// KnowledgeConfig 描述知识库（向量库）后端。
type KnowledgeConfig struct {
	Backend             string `validate:"oneof=memory weaviate pgvector"`
	WeaviateURL         string `validate:"required_if=Backend weaviate,omitempty,url"`
	WeaviateClass       string `validate:"required"`
	WeaviateVectorizer  string
	PostgresDSN         string `validate:"required_if=Backend pgvector"`
	EmbeddingDimensions int    `validate:"gte=1"`
}

func loadKnowledgeConfig() (KnowledgeConfig, error) {
	dims, err := parseIntEnv("KNOWLEDGE_EMBEDDING_DIMENSIONS", 768)
	if err != nil {
		return KnowledgeConfig{}, err
	}

	return KnowledgeConfig{
		Backend:             strings.ToLower(getEnvOrDefault("KNOWLEDGE_BACKEND", "memory")),
		WeaviateURL:         strings.TrimSpace(os.Getenv("WEAVIATE_URL")),
		WeaviateClass:       getEnvOrDefault("WEAVIATE_CLASS", "SecureKnowledge"),
		WeaviateVectorizer:  getEnvOrDefault("WEAVIATE_VECTORIZER", "text2vec-transformers"),
		PostgresDSN:         strings.TrimSpace(os.Getenv("POSTGRES_DSN")),
		EmbeddingDimensions: dims,
	}, nil
}

// RulesConfig 指向可选的自定义规则文件，为空时使用内置规则。
type RulesConfig struct {
	SanitizeFile  string
	InjectionFile string
	DangerFile    string
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level      string `validate:"omitempty,oneof=debug info warn warning error"`
	File       string
	Production bool
}

func loadLogConfig() (LogConfig, error) {
	production, err := parseBoolEnv("LOG_PRODUCTION", false)
	if err != nil {
		return LogConfig{}, err
	}

	return LogConfig{
		Level:      strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		File:       strings.TrimSpace(os.Getenv("LOG_FILE")),
		Production: production,
	}, nil
}

// TelemetryConfig 描述链路追踪输出。
type TelemetryConfig struct {
	TraceStdout bool
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
