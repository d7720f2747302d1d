package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreQueryRanksByOverlap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ids, err := store.Add(ctx,
		"SecuRAG uses a semantic firewall to block prompt injection.",
		"The capital of France is Paris.",
		"安全防火墙会拦截恶意请求。",
	)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	result, err := store.Query(ctx, "what does the firewall block?", 3)
	require.NoError(t, err)
	require.Len(t, result.Chunks, 2)
	assert.Equal(t, ids[0], result.Chunks[0].ID)
	assert.Equal(t, ids[1], result.Chunks[1].ID)

	result, err = store.Query(ctx, "防火墙是什么", 1)
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "安全防火墙会拦截恶意请求。", result.Chunks[0].Text)
}

func TestMemoryStoreEmptyIsNotAnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	result, err := store.Query(ctx, "anything", 3)
	require.NoError(t, err)
	assert.True(t, result.Empty())

	_, err = store.Add(ctx, "golang channels")
	require.NoError(t, err)

	result, err = store.Query(ctx, "完全无关", 3)
	require.NoError(t, err)
	assert.True(t, result.Empty())
}

func TestMemoryStoreCollapsesIdenticalText(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, err := store.Add(ctx, "same chunk", "  ", "same chunk")
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, first[0], first[1])

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestChunkIDIsDeterministic(t *testing.T) {
	a := ChunkID("hello")
	assert.Equal(t, a, ChunkID("hello"))
	assert.NotEqual(t, a, ChunkID("hello!"))
	assert.Len(t, a, 36)
}

func TestSplitParagraphs(t *testing.T) {
	doc := "first line\nstill first\n\n\n  \nsecond\r\n\r\nthird  \n"
	assert.Equal(t, []string{"first line\nstill first", "second", "third"}, SplitParagraphs(doc))
	assert.Empty(t, SplitParagraphs("\n\n  \n"))
}
