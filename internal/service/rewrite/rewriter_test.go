package rewrite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/securag/securag/internal/model/chat"
	"github.com/securag/securag/internal/service/ai/aitest"
)

func newRewriter(t *testing.T, fake *aitest.ChatModel) *Rewriter {
	t.Helper()
	r, err := NewRewriter(context.Background(), fake, 2, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestRewriteEmptyHistoryIsNoop(t *testing.T) {
	fake := aitest.Reply("should not be used")
	r := newRewriter(t, fake)

	assert.Equal(t, "它的准确率怎么样？", r.Rewrite(context.Background(), "它的准确率怎么样？", nil))
	assert.Equal(t, 0, fake.CallCount())
}

func TestRewriteUsesLastTwoTurns(t *testing.T) {
	fake := aitest.Reply("RAG 的准确率怎么样？")
	r := newRewriter(t, fake)

	history := []chat.Turn{
		chat.UserTurn("old question"),
		chat.AssistantTurn("old answer"),
		chat.UserTurn("什么是 RAG？"),
		chat.AssistantTurn("RAG 是检索增强生成。"),
	}

	got := r.Rewrite(context.Background(), "它的准确率怎么样？", history)
	assert.Equal(t, "RAG 的准确率怎么样？", got)

	call, ok := fake.LastCall()
	require.True(t, ok)
	require.Len(t, call.Messages, 2)
	prompt := call.Messages[1].Content
	assert.Contains(t, prompt, "User: 什么是 RAG？")
	assert.Contains(t, prompt, "Assistant: RAG 是检索增强生成。")
	assert.Contains(t, prompt, "它的准确率怎么样？")
	assert.NotContains(t, prompt, "old question")
}

func TestRewriteFallsBackToOriginal(t *testing.T) {
	history := []chat.Turn{chat.UserTurn("hi"), chat.AssistantTurn("hello")}

	failing := newRewriter(t, aitest.Fail(errors.New("boom")))
	assert.Equal(t, "and then?", failing.Rewrite(context.Background(), "and then?", history))

	empty := newRewriter(t, aitest.Reply("<think>hmm</think>  "))
	assert.Equal(t, "and then?", empty.Rewrite(context.Background(), "and then?", history))
}

func TestClean(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "What is RAG accuracy?", want: "What is RAG accuracy?"},
		{raw: "\"What is RAG accuracy?\"", want: "What is RAG accuracy?"},
		{raw: "Rewritten query: What is RAG accuracy?", want: "What is RAG accuracy?"},
		{raw: "改写后的问题：“RAG 的准确率如何？”", want: "RAG 的准确率如何？"},
		{raw: "<think>resolve it</think>\n\nWhat is RAG accuracy?\nExplanation: ...", want: "What is RAG accuracy?"},
		{raw: "", want: ""},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, Clean(tc.raw), tc.raw)
	}
}
