package rewrite

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/securag/securag/internal/analysis/verdict"
	"github.com/securag/securag/internal/model/chat"
)

// DefaultHistoryTurns 是改写时参考的历史轮数。
const DefaultHistoryTurns = 2

var labelPrefix = regexp.MustCompile(`(?i)^(rewritten query|rewritten question|query|question|改写后的问题|改写结果|问题)\s*[:：]\s*`)

// Rewriter 用最近的对话补全追问中的指代与省略。
type Rewriter struct {
	runnable     compose.Runnable[map[string]any, *schema.Message]
	historyTurns int
	logger       *zap.Logger
}

// NewRewriter 构建改写链。historyTurns <= 0 时使用 DefaultHistoryTurns。
func NewRewriter(ctx context.Context, chatModel model.BaseChatModel, historyTurns int, logger *zap.Logger) (*Rewriter, error) {
	if historyTurns <= 0 {
		historyTurns = DefaultHistoryTurns
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(rewriteSystemPrompt),
		schema.UserMessage("对话历史：\n{history}\n\n当前问题：{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rewrite chain: %w", err)
	}

	return &Rewriter{
		runnable:     runnable,
		historyTurns: historyTurns,
		logger:       logger.Named("rewrite"),
	}, nil
}

// Rewrite 返回独立完整的问题；历史为空、调用失败或输出为空时原样返回 query。
func (r *Rewriter) Rewrite(ctx context.Context, query string, history []chat.Turn) string {
	if len(history) == 0 {
		return query
	}

	msg, err := r.runnable.Invoke(ctx, map[string]any{
		"history": chat.FormatTranscript(chat.LastN(history, r.historyTurns)),
		"query":   query,
	})
	if err != nil {
		r.logger.Warn("query rewrite failed, using original query", zap.Error(err))
		return query
	}
	if msg == nil {
		return query
	}

	rewritten := Clean(msg.Content)
	if rewritten == "" {
		return query
	}
	r.logger.Debug("query rewritten", zap.String("original", query), zap.String("rewritten", rewritten))
	return rewritten
}

// Clean 去掉推理块、标签前缀与包裹的引号，只保留第一行非空内容。
func Clean(raw string) string {
	text := verdict.StripThink(raw)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = labelPrefix.ReplaceAllString(line, "")
		return strings.TrimSpace(strings.Trim(line, "\"'“”‘’「」`"))
	}
	return ""
}

const rewriteSystemPrompt = `你是一个查询改写助手。根据对话历史，把用户当前的问题改写成一个不依赖上下文、可以独立检索的完整问题。
要求：
1. 把代词和省略的内容替换为历史中明确的对象；
2. 保持原问题的语言和意图，不要回答问题；
3. 如果问题本身已经完整，原样输出；
4. 只输出改写后的问题，不要输出解释。`
