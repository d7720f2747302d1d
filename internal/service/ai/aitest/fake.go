// Package aitest 提供测试用的可编程 ChatModel。
package aitest

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Call 记录一次模型调用。
type Call struct {
	Messages []*schema.Message
	Options  *model.Options
}

// ChatModel 按 GenerateFn 返回结果并记录每次调用，GenerateFn 为空时返回空回答。
type ChatModel struct {
	GenerateFn func(ctx context.Context, messages []*schema.Message, opts *model.Options) (*schema.Message, error)

	mu    sync.Mutex
	calls []Call
}

var _ model.ChatModel = (*ChatModel)(nil)

// Reply 返回固定内容的模型。
func Reply(content string) *ChatModel {
	return &ChatModel{
		GenerateFn: func(context.Context, []*schema.Message, *model.Options) (*schema.Message, error) {
			return schema.AssistantMessage(content, nil), nil
		},
	}
}

// Fail 返回总是报错的模型。
func Fail(err error) *ChatModel {
	return &ChatModel{
		GenerateFn: func(context.Context, []*schema.Message, *model.Options) (*schema.Message, error) {
			return nil, err
		},
	}
}

// Generate 实现 model.BaseChatModel。
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{}, opts...)

	copied := make([]*schema.Message, len(input))
	copy(copied, input)

	m.mu.Lock()
	m.calls = append(m.calls, Call{Messages: copied, Options: options})
	fn := m.GenerateFn
	m.mu.Unlock()

	if fn == nil {
		return schema.AssistantMessage("", nil), nil
	}
	return fn(ctx, copied, options)
}

// Stream 把 Generate 的结果拆成逐字的流。
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}

	runes := []rune(msg.Content)
	chunks := make([]*schema.Message, 0, len(runes))
	for _, r := range runes {
		chunks = append(chunks, schema.AssistantMessage(string(r), nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

// BindTools 实现 model.ChatModel。
func (m *ChatModel) BindTools(_ []*schema.ToolInfo) error {
	return nil
}

// Calls 返回调用记录副本。
func (m *ChatModel) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 返回调用次数。
func (m *ChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastCall 返回最后一次调用，未调用时 ok 为 false。
func (m *ChatModel) LastCall() (Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return Call{}, false
	}
	return m.calls[len(m.calls)-1], true
}
