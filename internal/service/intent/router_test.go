package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/securag/securag/internal/analysis/verdict"
	"github.com/securag/securag/internal/service/ai/aitest"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  verdict.Intent
	}{
		{name: "search", reply: "SEARCH", want: verdict.Search},
		{name: "chat", reply: "CHAT", want: verdict.Chat},
		{name: "lowercase", reply: "search.", want: verdict.Search},
		{name: "json", reply: `{"intent": "CHAT"}`, want: verdict.Chat},
		{name: "sentence mentioning search", reply: "This needs a SEARCH of the knowledge base", want: verdict.Search},
		{name: "unknown defaults to chat", reply: "hmm", want: verdict.Chat},
		{name: "think block", reply: "<think>user asks about SEARCH engines</think>CHAT", want: verdict.Chat},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router, err := NewRouter(context.Background(), aitest.Reply(tc.reply), zap.NewNop())
			require.NoError(t, err)
			assert.Equal(t, tc.want, router.Classify(context.Background(), "什么是 RAG？"))
		})
	}
}

func TestClassifyErrorRoutesToSearch(t *testing.T) {
	router, err := NewRouter(context.Background(), aitest.Fail(errors.New("connection refused")), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, verdict.Search, router.Classify(context.Background(), "hello"))
}

func TestClassifyUsesZeroTemperature(t *testing.T) {
	fake := aitest.Reply("CHAT")
	router, err := NewRouter(context.Background(), fake, zap.NewNop())
	require.NoError(t, err)

	router.Classify(context.Background(), "你好")

	call, ok := fake.LastCall()
	require.True(t, ok)
	require.NotNil(t, call.Options.Temperature)
	assert.Equal(t, float32(0), *call.Options.Temperature)
	require.Len(t, call.Messages, 2)
	assert.Equal(t, "你好", call.Messages[1].Content)
}
