package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securag/securag/internal/model/chat"
)

func TestResolveSessionID(t *testing.T) {
	strict := NewService(NewMemoryStore(MemoryOptions{}), Options{})

	id, err := strict.ResolveSessionID("  abc  ")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	_, err = strict.ResolveSessionID("")
	assert.ErrorIs(t, err, ErrSessionRequired)

	shared := NewService(NewMemoryStore(MemoryOptions{}), Options{AllowSharedDefault: true})
	id, err = shared.ResolveSessionID(" ")
	require.NoError(t, err)
	assert.Equal(t, chat.DefaultSessionID, id)
}

func TestServiceRecord(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(MemoryOptions{}), Options{})

	require.NoError(t, svc.Record(ctx, "s", "question", "answer"))

	history, err := svc.History(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []chat.Turn{chat.UserTurn("question"), chat.AssistantTurn("answer")}, history)

	require.NoError(t, svc.Reset(ctx, "s"))
	history, err = svc.History(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, history)
}
