package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/securag/securag/internal/analysis/verdict"
	"github.com/securag/securag/internal/model/chat"
)

// GeneratorOptions 控制最终回答的生成。
type GeneratorOptions struct {
	Temperature float64
	// Streaming 为 true 且调用方提供 OnToken 时走流式输出。
	Streaming bool
}

// GenerateInput 是一次生成所需的全部输入。
type GenerateInput struct {
	Mode    Mode
	Context []string
	History []chat.Turn
	Query   string
	// OnToken 接收去掉推理块后的增量文本。
	OnToken func(delta string)
}

// Generator 组装系统人设、短期历史与当前问题并调用补全后端。
type Generator struct {
	chain   compose.Runnable[map[string]any, *schema.Message]
	prompts *PromptManager
	opts    GeneratorOptions
	logger  *zap.Logger
}

// NewGenerator 编译 system + history + query 的对话链。
func NewGenerator(ctx context.Context, chatModel model.BaseChatModel, opts GeneratorOptions, logger *zap.Logger) (*Generator, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile answer chain: %w", err)
	}

	return &Generator{
		chain:   runnable,
		prompts: NewPromptManager(),
		opts:    opts,
		logger:  logger.Named("generator"),
	}, nil
}

// Generate 返回去掉推理块后的回答。内容为空不视为错误，由调用方决定如何降级。
func (g *Generator) Generate(ctx context.Context, in GenerateInput) (string, error) {
	input := map[string]any{
		"system":  g.prompts.BuildSystemPrompt(in.Mode, in.Context),
		"history": BuildHistoryMessages(in.History),
		"query":   in.Query,
	}
	opt := compose.WithChatModelOption(model.WithTemperature(float32(g.opts.Temperature)))

	if g.opts.Streaming && in.OnToken != nil {
		return g.stream(ctx, input, opt, in.OnToken)
	}

	response, err := g.chain.Invoke(ctx, input, opt)
	if err != nil {
		return "", fmt.Errorf("failed to run answer chain: %w", err)
	}
	if response == nil {
		return "", nil
	}

	answer := verdict.StripThink(response.Content)
	g.logger.Debug("generated answer", zap.String("mode", string(in.Mode)), zap.Int("length", len(answer)))
	return answer, nil
}

func (g *Generator) stream(ctx context.Context, input map[string]any, opt compose.Option, onToken func(string)) (string, error) {
	stream, err := g.chain.Stream(ctx, input, opt)
	if err != nil {
		return "", fmt.Errorf("failed to stream answer chain: %w", err)
	}
	defer stream.Close()

	var (
		full    strings.Builder
		emitted string
	)
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("failed to read answer stream: %w", err)
		}
		if chunk == nil {
			continue
		}
		full.WriteString(chunk.Content)

		visible := holdBackPartialTag(verdict.StripThink(full.String()))
		if strings.HasPrefix(visible, emitted) && len(visible) > len(emitted) {
			onToken(visible[len(emitted):])
			emitted = visible
		}
	}

	return verdict.StripThink(full.String()), nil
}

// holdBackPartialTag 去掉末尾可能是 "<think>" 前缀的部分，等后续内容到达后再决定是否输出。
func holdBackPartialTag(s string) string {
	const tag = "<think>"
	lower := strings.ToLower(s)
	for i := len(tag) - 1; i > 0; i-- {
		if strings.HasSuffix(lower, tag[:i]) {
			return s[:len(s)-i]
		}
	}
	return s
}

// BuildHistoryMessages 把会话记录转换为模型消息。
func BuildHistoryMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}
