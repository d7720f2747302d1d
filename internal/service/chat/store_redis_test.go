package chat

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securag/securag/internal/model/chat"
)

func newTestRedisStore(t *testing.T, maxTurns int) *RedisStore {
	t.Helper()

	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}

	client, err := NewRedisClient(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, time.Minute, maxTurns)
}

func TestRedisOptions(t *testing.T) {
	opt, err := redisOptions("redis://:secret@cache.internal:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opt.Addr)
	assert.Equal(t, "secret", opt.Password)
	assert.Equal(t, 2, opt.DB)

	opt, err = redisOptions("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opt.Addr)

	for _, bad := range []string{"redis://localhost:6379/notadb", "http://localhost:6379", "not a url"} {
		_, err := redisOptions(bad)
		assert.Error(t, err, bad)
	}

	_, err = NewRedisClient(context.Background(), "redis://localhost:6379/notadb")
	assert.ErrorContains(t, err, "parse redis url")
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := newTestRedisStore(t, 4)
	ctx := context.Background()
	id := "test-" + uuid.NewString()
	t.Cleanup(func() { _ = store.Reset(ctx, id) })

	for _, q := range []string{"q1", "q2", "q3"} {
		require.NoError(t, store.Append(ctx, id, chat.UserTurn(q), chat.AssistantTurn("a-"+q)))
	}

	history, err := store.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, chat.UserTurn("q2"), history[0])
	assert.Equal(t, chat.AssistantTurn("a-q3"), history[3])

	require.NoError(t, store.Reset(ctx, id))
	history, err = store.History(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history)
}
