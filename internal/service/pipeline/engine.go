package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/securag/securag/internal/analysis/sanitize"
	"github.com/securag/securag/internal/analysis/verdict"
	"github.com/securag/securag/internal/model/chat"
	"github.com/securag/securag/internal/model/guard"
	"github.com/securag/securag/internal/observability"
	"github.com/securag/securag/internal/service/ai"
	chatsvc "github.com/securag/securag/internal/service/chat"
	"github.com/securag/securag/internal/service/entity"
	"github.com/securag/securag/internal/service/knowledge"
)

// RefusalMessage 是所有安全拦截统一返回的文本，不暴露命中的规则。
const RefusalMessage = "I cannot fulfill this request due to security policies. (Security Alert: request blocked)"

const (
	degradedPrefix = "抱歉，系统遇到了一些问题："
	emptyAnswer    = "抱歉，模型没有返回任何内容。"
)

// ErrEmptyQuery 表示请求没有有效的问题文本。
var ErrEmptyQuery = errors.New("query is empty")

// ErrEmptyDocument 表示文档脱敏后没有可入库的内容。
var ErrEmptyDocument = errors.New("document is empty")

// ErrSessionRequired 表示缺少会话键且未开启共享会话。
var ErrSessionRequired = chatsvc.ErrSessionRequired

// InjectionMatcher 是确定性的注入规则检测。
type InjectionMatcher interface {
	Match(text string) (pattern string, ok bool)
}

// Firewall 是语义防火墙。
type Firewall interface {
	Assess(ctx context.Context, text string) guard.Decision
}

// IntentClassifier 决定是否需要检索。
type IntentClassifier interface {
	Classify(ctx context.Context, text string) verdict.Intent
}

// QueryRewriter 补全追问中的指代。
type QueryRewriter interface {
	Rewrite(ctx context.Context, query string, history []chat.Turn) string
}

// Sanitizer 对文本做结构化 PII 替换。
type Sanitizer interface {
	Sanitize(text string) string
	Findings(text string) []sanitize.Finding
}

// AnswerGenerator 调用补全后端生成最终回答。
type AnswerGenerator interface {
	Generate(ctx context.Context, in ai.GenerateInput) (string, error)
}

// Deps 是 Engine 依赖的组件，Entity 与 Metrics 可以为空。
type Deps struct {
	Injection InjectionMatcher
	Firewall  Firewall
	Router    IntentClassifier
	Rewriter  QueryRewriter
	Sanitizer Sanitizer
	Entity    entity.Scanner
	Policy    entity.Policy
	Knowledge knowledge.Store
	Generator AnswerGenerator
	Sessions  *chatsvc.Service
	Metrics   *observability.Metrics
}

// Options 控制窗口大小与超时。
type Options struct {
	StageTimeout      time.Duration
	GenerationTimeout time.Duration
	ChatHistoryTurns  int
	RetrievalTopK     int
}

// ChatRequest 是一次对话请求。
type ChatRequest struct {
	SessionID string
	Query     string
	// Observer 可选，接收状态迁移。
	Observer Observer
	// OnToken 可选，生成器开启流式时接收增量文本。
	OnToken func(delta string)
}

// Reply 是一次请求的结果。拦截与降级都以 Reply 返回而不是 error。
type Reply struct {
	SessionID string
	Answer    string
	Blocked   bool
	Degraded  bool
	// Route 为空表示请求在路由前已被拦截。
	Route          verdict.Intent
	Mode           ai.Mode
	RewrittenQuery string
	Sources        []string
}

// Engine 串联护栏、路由、改写、检索与生成，进程内只构建一次。
type Engine struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

// NewEngine 组装流水线。
func NewEngine(deps Deps, opts Options, logger *zap.Logger) (*Engine, error) {
	switch {
	case deps.Injection == nil:
		return nil, fmt.Errorf("pipeline: injection rules are required")
	case deps.Firewall == nil:
		return nil, fmt.Errorf("pipeline: firewall is required")
	case deps.Router == nil:
		return nil, fmt.Errorf("pipeline: intent router is required")
	case deps.Rewriter == nil:
		return nil, fmt.Errorf("pipeline: rewriter is required")
	case deps.Sanitizer == nil:
		return nil, fmt.Errorf("pipeline: sanitizer is required")
	case deps.Knowledge == nil:
		return nil, fmt.Errorf("pipeline: knowledge store is required")
	case deps.Generator == nil:
		return nil, fmt.Errorf("pipeline: generator is required")
	case deps.Sessions == nil:
		return nil, fmt.Errorf("pipeline: session service is required")
	}
	if deps.Entity == nil {
		deps.Entity = entity.NoopScanner{}
	}

	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 30 * time.Second
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 120 * time.Second
	}
	if opts.ChatHistoryTurns < 0 {
		opts.ChatHistoryTurns = 0
	}
	if opts.RetrievalTopK <= 0 {
		opts.RetrievalTopK = 3
	}

	return &Engine{deps: deps, opts: opts, logger: logger.Named("pipeline")}, nil
}

// Chat 处理一次对话。只有调用方误用（空问题、缺少会话键）时返回 error。
func (e *Engine) Chat(ctx context.Context, req ChatRequest) (Reply, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Reply{}, ErrEmptyQuery
	}

	sessionID, err := e.deps.Sessions.ResolveSessionID(req.SessionID)
	if err != nil {
		return Reply{}, err
	}

	ctx, span := observability.StartStage(ctx, "chat", attribute.String("session.id", sessionID))
	defer span.End()

	run := &requestRun{
		engine:    e,
		sessionID: sessionID,
		query:     query,
		observer:  req.Observer,
		onToken:   req.OnToken,
		logger:    e.logger.With(zap.String("session_id", sessionID)),
	}
	run.emit(StateReceived)

	release, err := e.deps.Sessions.Acquire(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session lock")
		return run.degradeWith(Reply{SessionID: sessionID}, degradedPrefix+err.Error(), "session_lock", err), nil
	}
	defer release()

	reply := run.execute(ctx)
	if reply.Blocked {
		span.SetAttributes(attribute.Bool("securag.blocked", true))
	}
	return reply, nil
}

// AddDocument 脱敏后写入知识库，返回内容派生的 ID。
func (e *Engine) AddDocument(ctx context.Context, text string) (string, error) {
	clean := strings.TrimSpace(e.deps.Sanitizer.Sanitize(text))
	if clean == "" {
		return "", ErrEmptyDocument
	}

	e.recordFindings(text)
	ids, err := e.deps.Knowledge.Add(ctx, clean)
	if err != nil {
		return "", fmt.Errorf("add document: %w", err)
	}
	if len(ids) == 0 {
		return knowledge.ChunkID(clean), nil
	}
	return ids[0], nil
}

// Ingest 以空行切分文档，逐段脱敏后批量入库。
func (e *Engine) Ingest(ctx context.Context, document string) ([]string, error) {
	paragraphs := knowledge.SplitParagraphs(document)
	if len(paragraphs) == 0 {
		return nil, nil
	}

	cleaned := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		e.recordFindings(p)
		if c := strings.TrimSpace(e.deps.Sanitizer.Sanitize(p)); c != "" {
			cleaned = append(cleaned, c)
		}
	}

	ids, err := e.deps.Knowledge.Add(ctx, cleaned...)
	if err != nil {
		return nil, fmt.Errorf("ingest document: %w", err)
	}
	e.logger.Info("document ingested", zap.Int("chunks", len(ids)))
	return ids, nil
}

// KnowledgeCount 返回知识库中的片段数。
func (e *Engine) KnowledgeCount(ctx context.Context) (int, error) {
	return e.deps.Knowledge.Count(ctx)
}

// History 返回会话记录。
func (e *Engine) History(ctx context.Context, sessionID string) ([]chat.Turn, error) {
	id, err := e.deps.Sessions.ResolveSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	return e.deps.Sessions.History(ctx, id)
}

// ResetSession 清空会话记录，会等待同一会话上进行中的对话结束。
func (e *Engine) ResetSession(ctx context.Context, sessionID string) error {
	id, err := e.deps.Sessions.ResolveSessionID(sessionID)
	if err != nil {
		return err
	}

	release, err := e.deps.Sessions.Acquire(ctx, id)
	if err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	defer release()

	return e.deps.Sessions.Reset(ctx, id)
}

func (e *Engine) recordFindings(text string) []sanitize.Finding {
	findings := e.deps.Sanitizer.Findings(text)
	for _, f := range findings {
		e.deps.Metrics.RecordRedactions(f.Rule, f.Count)
	}
	return findings
}
