package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/securag/securag/internal/analysis/verdict"
	"github.com/securag/securag/internal/model/chat"
	"github.com/securag/securag/internal/model/guard"
	"github.com/securag/securag/internal/observability"
	"github.com/securag/securag/internal/service/ai"
	"github.com/securag/securag/internal/service/entity"
)

const (
	outcomeAnswered = "answered"
	outcomeBlocked  = "blocked"
	outcomeDegraded = "degraded"
)

// requestRun 保存单次请求在各阶段之间传递的状态。
type requestRun struct {
	engine    *Engine
	sessionID string
	query     string
	observer  Observer
	onToken   func(string)
	logger    *zap.Logger
}

func (r *requestRun) emit(s State) {
	if r.observer != nil {
		r.observer(s)
	}
}

// stage 在独立 span 与超时下运行一个阶段并记录耗时。
func (r *requestRun) stage(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := observability.StartStage(ctx, name)
	defer span.End()

	start := time.Now()
	fn(ctx)
	r.engine.deps.Metrics.ObserveStage(name, time.Since(start))
}

func (r *requestRun) execute(ctx context.Context) Reply {
	e := r.engine
	timeout := e.opts.StageTimeout

	r.emit(StateInjectionCheck)
	if pattern, ok := e.deps.Injection.Match(r.query); ok {
		r.logger.Warn("prompt injection detected", zap.String("pattern", pattern))
		return r.block(guard.Blocking(guard.StageInjection, "pattern"))
	}

	r.emit(StateFirewallCheck)
	var decision guard.Decision
	r.stage(ctx, "firewall", timeout, func(ctx context.Context) {
		decision = e.deps.Firewall.Assess(ctx, r.query)
	})
	if decision.Blocked() {
		return r.block(decision)
	}

	r.emit(StateRoute)
	history, err := e.deps.Sessions.History(ctx, r.sessionID)
	if err != nil {
		r.logger.Warn("failed to load history, continuing without it", zap.Error(err))
		e.deps.Metrics.RecordUpstreamFailure("history")
		history = nil
	}

	var intent verdict.Intent
	r.stage(ctx, "route", timeout, func(ctx context.Context) {
		intent = e.deps.Router.Classify(ctx, r.query)
	})
	e.deps.Metrics.RecordRoute(string(intent))

	reply := Reply{SessionID: r.sessionID, Route: intent}
	input := ai.GenerateInput{
		Mode:    ai.ModeChat,
		History: chat.LastN(history, e.opts.ChatHistoryTurns),
		Query:   r.query,
		OnToken: r.onToken,
	}

	if intent == verdict.Chat {
		r.emit(StateChatGen)
	} else {
		input.Mode = ai.ModeRAG

		r.emit(StateRewrite)
		rewritten := r.query
		r.stage(ctx, "rewrite", timeout, func(ctx context.Context) {
			rewritten = e.deps.Rewriter.Rewrite(ctx, r.query, history)
		})
		reply.RewrittenQuery = rewritten

		r.emit(StateSanitizeAdvisory)
		if blocked, ok := r.advise(ctx); ok {
			return blocked
		}

		// 检索后端可能是外部服务，只接收脱敏后的问题
		safeQuery := e.deps.Sanitizer.Sanitize(rewritten)

		r.emit(StateRetrieve)
		r.stage(ctx, "retrieve", timeout, func(ctx context.Context) {
			result, err := e.deps.Knowledge.Query(ctx, safeQuery, e.opts.RetrievalTopK)
			if err != nil {
				r.logger.Warn("retrieval failed, using empty context", zap.Error(err))
				e.deps.Metrics.RecordUpstreamFailure("retrieve")
				return
			}
			input.Context = result.Texts()
			for _, c := range result.Chunks {
				reply.Sources = append(reply.Sources, c.ID)
			}
		})
		e.deps.Metrics.ObserveRetrieval(len(input.Context))

		r.emit(StateRAGGen)
	}
	reply.Mode = input.Mode

	var (
		answer string
		genErr error
	)
	r.stage(ctx, "generate", e.opts.GenerationTimeout, func(ctx context.Context) {
		answer, genErr = e.deps.Generator.Generate(ctx, input)
	})
	if genErr != nil {
		return r.degradeWith(reply, degradedPrefix+genErr.Error(), "generate", genErr)
	}
	if answer == "" {
		r.logger.Warn("model returned empty content")
		return r.degradeWith(reply, emptyAnswer, "", nil)
	}

	r.emit(StateRecord)
	if err := e.deps.Sessions.Record(ctx, r.sessionID, r.query, answer); err != nil {
		r.logger.Error("failed to record turns", zap.Error(err))
		e.deps.Metrics.RecordUpstreamFailure("record")
	}

	reply.Answer = answer
	r.emit(StateReturned)
	e.deps.Metrics.RecordRequest(outcomeAnswered)
	return reply
}

// advise 对原始问题做脱敏与实体识别。默认只告警，策略强制时返回拦截结果。
func (r *requestRun) advise(ctx context.Context) (Reply, bool) {
	e := r.engine

	findings := e.recordFindings(r.query)
	sanitized := r.query
	if len(findings) > 0 {
		sanitized = e.deps.Sanitizer.Sanitize(r.query)
		rules := make([]string, 0, len(findings))
		for _, f := range findings {
			rules = append(rules, f.Rule)
		}
		r.logger.Warn("query contains structured PII", zap.Strings("rules", rules))
	}

	decision := guard.Allowed(guard.StageEntity, "not_scanned")
	r.stage(ctx, "entity_scan", e.opts.StageTimeout, func(ctx context.Context) {
		entities, err := e.deps.Entity.Scan(ctx, sanitized)
		if err != nil {
			r.logger.Warn("entity scan failed, continuing", zap.Error(err))
			e.deps.Metrics.RecordUpstreamFailure("entity")
			return
		}
		if risky := e.deps.Policy.Risky(entities); len(risky) > 0 {
			r.logger.Warn("risky entities detected",
				zap.Strings("types", entity.Types(risky)),
				zap.Bool("enforced", e.deps.Policy.Enforce),
			)
		}
		decision = e.deps.Policy.Evaluate(entities)
	})

	if decision.Blocked() {
		return r.block(decision), true
	}
	return Reply{}, false
}

func (r *requestRun) block(decision guard.Decision) Reply {
	r.emit(StateBlocked)
	r.engine.deps.Metrics.RecordBlock(string(decision.Stage), blockReasonLabel(decision.Reason))
	r.engine.deps.Metrics.RecordRequest(outcomeBlocked)
	r.logger.Info("request blocked", zap.String("stage", string(decision.Stage)))
	return Reply{
		SessionID: r.sessionID,
		Answer:    RefusalMessage,
		Blocked:   true,
	}
}

// degradeWith 返回降级提示，不写入会话记录。
func (r *requestRun) degradeWith(reply Reply, message, stage string, err error) Reply {
	if err != nil {
		r.logger.Error("request degraded", zap.String("stage", stage), zap.Error(err))
		r.engine.deps.Metrics.RecordUpstreamFailure(stage)
	}
	r.engine.deps.Metrics.RecordRequest(outcomeDegraded)

	reply.Answer = message
	reply.Degraded = true
	r.emit(StateReturned)
	return reply
}

// blockReasonLabel 把原因归并为低基数的指标标签。
func blockReasonLabel(reason string) string {
	class, _, found := strings.Cut(reason, ":")
	if !found || class == "keyword" {
		return reason
	}
	return class
}
