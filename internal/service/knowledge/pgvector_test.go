package knowledge

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeEmbedder 以字母频次生成 3 维向量。
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		out[i] = []float32{
			float32(strings.Count(lower, "a")) + 0.01,
			float32(strings.Count(lower, "e")) + 0.01,
			float32(strings.Count(lower, "o")) + 0.01,
		}
	}
	return out, nil
}

func TestPGVectorStoreDimensionCheck(t *testing.T) {
	store := NewPGVectorStore(nil, fakeEmbedder{}, 768, zap.NewNop())
	_, err := store.Query(context.Background(), "query", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 768")
}

// shortEmbedder 总是少返回一个向量。
type shortEmbedder struct{}

func (shortEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out, _ := fakeEmbedder{}.Embed(context.Background(), texts)
	return out[:len(out)-1], nil
}

func TestPGVectorStoreRejectsVectorCountMismatch(t *testing.T) {
	store := NewPGVectorStore(nil, shortEmbedder{}, 3, zap.NewNop())

	_, err := store.Add(context.Background(), "alpha", "beta")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 1 vectors for 2 texts")

	_, err = store.Query(context.Background(), "query", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 0 vectors")
}

func TestPGVectorStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx := context.Background()
	db, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Exec("DELETE FROM knowledge_chunks") })

	store := NewPGVectorStore(db, fakeEmbedder{}, 3, zap.NewNop())

	ids, err := store.Add(ctx, "aaaa", "eeee", "aaaa")
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, ids[0], ids[2])

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	result, err := store.Query(ctx, "aa", 1)
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "aaaa", result.Chunks[0].Text)
}
