package file

import (
	"context"
	"testing"

	"github.com/OFFIS-RIT/medrag/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	kv, err := NewKVStore[common.Chunk](dir, "text_chunks")
	require.NoError(t, err)

	require.NoError(t, kv.Upsert(ctx, map[string]common.Chunk{
		"chunk-a": {ID: "chunk-a", Content: "alpha", DocumentID: "doc-1"},
		"chunk-b": {ID: "chunk-b", Content: "beta", DocumentID: "doc-1", OrderIndex: 1},
	}))

	fresh, err := kv.FilterNew(ctx, []string{"chunk-c", "chunk-a", "chunk-c", "chunk-d"})
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk-c", "chunk-d"}, fresh)

	got, err := kv.GetMany(ctx, []string{"chunk-b", "chunk-x", "chunk-a"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "beta", got[0].Content)
	assert.Equal(t, "alpha", got[1].Content)

	require.NoError(t, kv.Flush(ctx))

	reloaded, err := NewKVStore[common.Chunk](dir, "text_chunks")
	require.NoError(t, err)
	n, err := reloaded.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	c, ok, err := reloaded.Get(ctx, "chunk-b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, c.OrderIndex)
	assert.Equal(t, "doc-1", c.DocumentID)
}
