package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sashabaranov/go-openai"
)

// OpenAIOptions 描述 OpenAI 兼容后端（DeepSeek 云端或本地 Ollama）。
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
}

// OpenAIChatModel 把 go-openai 客户端适配为 eino 的 ChatModel。
type OpenAIChatModel struct {
	client *openai.Client
	opts   OpenAIOptions
}

var _ model.ChatModel = (*OpenAIChatModel)(nil)

// NewOpenAIChatModel 创建适配器。
func NewOpenAIChatModel(opts OpenAIOptions) *OpenAIChatModel {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &OpenAIChatModel{
		client: openai.NewClientWithConfig(cfg),
		opts:   opts,
	}
}

// Generate 发起一次补全。没有 choices 时返回空内容而不是错误。
func (m *OpenAIChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	req := m.buildRequest(input, opts...)

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return schema.AssistantMessage("", nil), nil
	}
	return schema.AssistantMessage(resp.Choices[0].Message.Content, nil), nil
}

// Stream 以流的形式返回增量内容。
func (m *OpenAIChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	req := m.buildRequest(input, opts...)
	req.Stream = true

	stream, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}

	sr, sw := schema.Pipe[*schema.Message](8)
	go func() {
		defer stream.Close()
		defer sw.Close()

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				sw.Send(nil, fmt.Errorf("chat completion stream: %w", err))
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if closed := sw.Send(schema.AssistantMessage(chunk.Choices[0].Delta.Content, nil), nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

// BindTools 不支持工具调用，直接忽略。
func (m *OpenAIChatModel) BindTools(_ []*schema.ToolInfo) error {
	return nil
}

func (m *OpenAIChatModel) buildRequest(input []*schema.Message, opts ...model.Option) openai.ChatCompletionRequest {
	modelName := m.opts.Model
	options := model.GetCommonOptions(&model.Options{
		Model:       &modelName,
		Temperature: m.opts.Temperature,
		TopP:        m.opts.TopP,
		MaxTokens:   m.opts.MaxTokens,
	}, opts...)

	req := openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: toOpenAIMessages(input),
	}
	if options.Model != nil && *options.Model != "" {
		req.Model = *options.Model
	}
	if options.Temperature != nil {
		req.Temperature = *options.Temperature
		// go-openai 会省略零值温度，改用最小正数表达 0。
		if req.Temperature == 0 {
			req.Temperature = math.SmallestNonzeroFloat32
		}
	}
	if options.TopP != nil {
		req.TopP = *options.TopP
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	if len(options.Stop) > 0 {
		req.Stop = options.Stop
	}
	return req
}

func toOpenAIMessages(input []*schema.Message) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case schema.System:
			role = openai.ChatMessageRoleSystem
		case schema.Assistant:
			role = openai.ChatMessageRoleAssistant
		case schema.Tool:
			role = openai.ChatMessageRoleTool
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return messages
}
