package intent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/securag/securag/internal/analysis/verdict"
)

// OnErrorIntent 是分类调用失败时的路由，检索优先于闲聊。
const OnErrorIntent = verdict.Search

// Router 判断问题是否需要检索知识库。
type Router struct {
	runnable compose.Runnable[map[string]any, *schema.Message]
	logger   *zap.Logger
}

// NewRouter 构建意图分类链。
func NewRouter(ctx context.Context, chatModel model.BaseChatModel, logger *zap.Logger) (*Router, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(routerSystemPrompt),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile intent chain: %w", err)
	}

	return &Router{runnable: runnable, logger: logger.Named("intent")}, nil
}

// Classify 返回 SEARCH 或 CHAT。
func (r *Router) Classify(ctx context.Context, query string) verdict.Intent {
	msg, err := r.runnable.Invoke(ctx, map[string]any{"query": query},
		compose.WithChatModelOption(model.WithTemperature(0)),
	)
	if err != nil {
		r.logger.Warn("intent classification failed, routing to search", zap.Error(err))
		return OnErrorIntent
	}
	if msg == nil {
		return verdict.Chat
	}

	intent, strict := verdict.ParseIntent(msg.Content)
	r.logger.Debug("intent classified", zap.String("intent", string(intent)), zap.Bool("strict", strict))
	return intent
}

const routerSystemPrompt = `你是一个意图分类器。判断用户的问题是否需要查询知识库。
- 涉及具体事实、数据、产品、规则、文档内容或专业知识的问题，输出 SEARCH；
- 问候、闲聊、感谢、简单的自我介绍或通用写作请求，输出 CHAT。
只输出一个单词：SEARCH 或 CHAT。`
