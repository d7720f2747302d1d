// Package bootstrap 根据配置组装流水线及其依赖，供 HTTP 服务与命令行共用。
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/securag/securag/internal/analysis/danger"
	"github.com/securag/securag/internal/analysis/injection"
	"github.com/securag/securag/internal/analysis/sanitize"
	"github.com/securag/securag/internal/config"
	"github.com/securag/securag/internal/observability"
	"github.com/securag/securag/internal/service/ai"
	chatsvc "github.com/securag/securag/internal/service/chat"
	"github.com/securag/securag/internal/service/entity"
	"github.com/securag/securag/internal/service/firewall"
	"github.com/securag/securag/internal/service/intent"
	"github.com/securag/securag/internal/service/knowledge"
	"github.com/securag/securag/internal/service/pipeline"
	"github.com/securag/securag/internal/service/rewrite"
)

const serviceName = "securag"

// Options 允许调用方替换外部依赖，字段为空时按配置创建。
type Options struct {
	ChatModel model.BaseChatModel
	Knowledge knowledge.Store
	Entity    entity.Scanner
	// Tracing 为 true 时安装全局 TracerProvider。
	Tracing bool
}

// Container 持有进程内只构建一次的组件。
type Container struct {
	Config   *config.Config
	Engine   *pipeline.Engine
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	logger  *zap.Logger
	closers []func(context.Context) error
}

// New 按配置组装流水线。失败时已创建的资源会被释放。
func New(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (_ *Container, err error) {
	c := &Container{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		logger:   logger,
	}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
		}
	}()

	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = observability.NewMetrics(c.Registry)

	if opts.Tracing {
		shutdown, err := observability.InitTracing(serviceName, cfg.Telemetry.TraceStdout)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		c.closers = append(c.closers, shutdown)
	}

	chatModel := opts.ChatModel
	if chatModel == nil {
		cm, err := ai.NewChatModel(ctx, cfg.AI)
		if err != nil {
			return nil, err
		}
		chatModel = cm
	}

	injectionRules, err := injection.LoadFile(cfg.Rules.InjectionFile)
	if err != nil {
		return nil, err
	}
	dangerRules, err := danger.LoadFile(cfg.Rules.DangerFile)
	if err != nil {
		return nil, err
	}
	sanitizer, err := sanitize.LoadFile(cfg.Rules.SanitizeFile)
	if err != nil {
		return nil, err
	}

	guard, err := firewall.New(ctx, chatModel, dangerRules, firewall.Options{
		LLMEnabled:    cfg.Firewall.LLMEnabled,
		FailurePolicy: firewall.ParseFailurePolicy(cfg.Firewall.FailMode),
		MaxTokens:     cfg.Firewall.MaxTokens,
	}, logger)
	if err != nil {
		return nil, err
	}

	router, err := intent.NewRouter(ctx, chatModel, logger)
	if err != nil {
		return nil, err
	}

	rewriter, err := rewrite.NewRewriter(ctx, chatModel, cfg.Pipeline.RewriteHistoryTurns, logger)
	if err != nil {
		return nil, err
	}

	generator, err := ai.NewGenerator(ctx, chatModel, ai.GeneratorOptions{
		Temperature: cfg.Pipeline.GenerationTemperature,
		Streaming:   cfg.AI.StreamResponse,
	}, logger)
	if err != nil {
		return nil, err
	}

	sessions, err := c.sessionService(ctx)
	if err != nil {
		return nil, err
	}

	store := opts.Knowledge
	if store == nil {
		if store, err = c.knowledgeStore(ctx); err != nil {
			return nil, err
		}
	}

	scanner := opts.Entity
	if scanner == nil {
		scanner = entity.NoopScanner{}
		if cfg.Entity.URL != "" {
			scanner = entity.NewPresidioScanner(cfg.Entity.URL, cfg.Entity.Language, cfg.Entity.Timeout)
		}
	}

	c.Engine, err = pipeline.NewEngine(pipeline.Deps{
		Injection: injectionRules,
		Firewall:  guard,
		Router:    router,
		Rewriter:  rewriter,
		Sanitizer: sanitizer,
		Entity:    scanner,
		Policy:    entity.Policy{Threshold: cfg.Entity.Threshold, Enforce: cfg.Entity.Enforce},
		Knowledge: store,
		Generator: generator,
		Sessions:  sessions,
		Metrics:   c.Metrics,
	}, pipeline.Options{
		StageTimeout:      cfg.Pipeline.StageTimeout,
		GenerationTimeout: cfg.Pipeline.GenerationTimeout,
		ChatHistoryTurns:  cfg.Pipeline.ChatHistoryTurns,
		RetrievalTopK:     cfg.Pipeline.RetrievalTopK,
	}, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("pipeline ready",
		zap.String("provider", cfg.AI.Provider),
		zap.String("model", cfg.AI.Model),
		zap.String("session_backend", cfg.Session.Backend),
		zap.String("knowledge_backend", cfg.Knowledge.Backend),
		zap.Bool("entity_scanner", cfg.Entity.URL != "" || opts.Entity != nil),
		zap.Bool("firewall_llm", cfg.Firewall.LLMEnabled),
	)
	return c, nil
}

func (c *Container) sessionService(ctx context.Context) (*chatsvc.Service, error) {
	cfg := c.Config.Session
	var store chatsvc.Store

	switch cfg.Backend {
	case "redis":
		client, err := chatsvc.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		store = chatsvc.NewRedisStore(client, cfg.TTL, cfg.MaxTurns)
	default:
		store = chatsvc.NewMemoryStore(chatsvc.MemoryOptions{
			TTL:         cfg.TTL,
			MaxSessions: cfg.MaxSessions,
			MaxTurns:    cfg.MaxTurns,
		})
	}

	return chatsvc.NewService(store, chatsvc.Options{AllowSharedDefault: cfg.AllowSharedDefault}), nil
}

func (c *Container) knowledgeStore(ctx context.Context) (knowledge.Store, error) {
	cfg := c.Config.Knowledge

	switch cfg.Backend {
	case "weaviate":
		return knowledge.NewWeaviateStore(ctx, knowledge.WeaviateOptions{
			URL:        cfg.WeaviateURL,
			Class:      cfg.WeaviateClass,
			Vectorizer: cfg.WeaviateVectorizer,
		}, c.logger)
	case "pgvector":
		db, err := knowledge.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
		embedder := knowledge.NewOpenAIEmbedder(c.Config.AI.APIKey, c.Config.AI.BaseURL, c.Config.AI.EmbeddingModel)
		return knowledge.NewPGVectorStore(db, embedder, cfg.EmbeddingDimensions, c.logger), nil
	default:
		return knowledge.NewMemoryStore(), nil
	}
}

// Close 按创建的逆序释放资源。
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
