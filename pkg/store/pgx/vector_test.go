package pgx

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/OFFIS-RIT/medrag/pkg/ai/aitest"
	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVectorStorageRequiresThreshold(t *testing.T) {
	_, err := NewVectorStorage(NewVectorStorageParams{Namespace: "entities", Embedder: &aitest.Embedder{}})
	if !errors.Is(err, store.ErrMissingThreshold) {
		t.Fatalf("expected ErrMissingThreshold, got %v", err)
	}
}

func TestVectorStorageIntegration(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	require.NoError(t, Migrate(url))
	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	emb := &aitest.Embedder{Dim: 3, Vectors: map[string][]float32{
		"query": {1, 0, 0},
		"same":  {1, 0, 0},
		"near":  {0.8, 0.6, 0},
		"far":   {0, 1, 0},
	}}
	th := 0.5
	ns := "test_" + gonanoid.Must(8)
	s, err := NewVectorStorage(NewVectorStorageParams{Conn: pool, Namespace: ns, Embedder: emb, Threshold: &th})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM medrag_vectors WHERE namespace = $1`, ns)
	})

	_, err = s.Upsert(ctx, []store.VectorRecord{
		{ID: common.EntityVectorID("ASPIRIN"), Content: "same"},
		{ID: "near", Content: "near"},
		{ID: common.RelationVectorID("ASPIRIN", "FEVER"), Content: "far", Metadata: map[string]string{"src_id": "ASPIRIN", "tgt_id": "FEVER"}},
	})
	require.NoError(t, err)

	matches, err := s.Query(ctx, "query", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, common.EntityVectorID("ASPIRIN"), matches[0].ID)

	require.NoError(t, s.DeleteByEntity(ctx, "ASPIRIN"))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
