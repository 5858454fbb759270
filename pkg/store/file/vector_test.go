package file

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OFFIS-RIT/medrag/pkg/ai/aitest"
	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threshold(t float64) *float64 { return &t }

func axisEmbedder() *aitest.Embedder {
	return &aitest.Embedder{Dim: 3, Vectors: map[string][]float32{
		"query": {1, 0, 0},
		"same":  {2, 0, 0},
		"near":  {0.8, 0.6, 0},
		"far":   {0, 1, 0},
	}}
}

func newTestVectorStore(t *testing.T, dir string, emb *aitest.Embedder, th float64) *VectorStore {
	t.Helper()
	s, err := NewVectorStore(NewVectorStoreParams{
		Dir:       dir,
		Namespace: store.NamespaceEntities,
		Embedder:  emb,
		BatchSize: 2,
		Threshold: threshold(th),
		Now:       func() time.Time { return time.Unix(1700000000, 0).UTC() },
	})
	require.NoError(t, err)
	return s
}

func TestNewVectorStoreThresholdValidation(t *testing.T) {
	_, err := NewVectorStore(NewVectorStoreParams{Dir: t.TempDir(), Namespace: "x", Embedder: axisEmbedder()})
	if !errors.Is(err, store.ErrMissingThreshold) {
		t.Fatalf("expected ErrMissingThreshold, got %v", err)
	}

	for _, th := range []float64{-0.1, 1.01} {
		_, err := NewVectorStore(NewVectorStoreParams{Dir: t.TempDir(), Namespace: "x", Embedder: axisEmbedder(), Threshold: threshold(th)})
		if err == nil {
			t.Fatalf("threshold %v: expected error", th)
		}
	}
}

func TestVectorQueryThreshold(t *testing.T) {
	ctx := context.Background()
	records := []store.VectorRecord{
		{ID: "a", Content: "same"},
		{ID: "b", Content: "near"},
		{ID: "c", Content: "far"},
	}

	tests := []struct {
		threshold float64
		want      []string
	}{
		{0, []string{"a", "b", "c"}},
		{0.5, []string{"a", "b"}},
		{0.81, []string{"a"}},
		{1, []string{"a"}},
	}
	for _, tt := range tests {
		s := newTestVectorStore(t, t.TempDir(), axisEmbedder(), tt.threshold)
		res, err := s.Upsert(ctx, records)
		require.NoError(t, err)
		require.Len(t, res.Inserted, 3)

		matches, err := s.Query(ctx, "query", 10)
		require.NoError(t, err)
		var got []string
		for _, m := range matches {
			assert.GreaterOrEqual(t, m.Score, tt.threshold)
			got = append(got, m.ID)
		}
		assert.Equal(t, tt.want, got, "threshold %v", tt.threshold)
	}
}

func TestVectorQueryTopK(t *testing.T) {
	ctx := context.Background()
	s := newTestVectorStore(t, t.TempDir(), axisEmbedder(), 0)
	_, err := s.Upsert(ctx, []store.VectorRecord{
		{ID: "a", Content: "same"},
		{ID: "b", Content: "near"},
		{ID: "c", Content: "far"},
	})
	require.NoError(t, err)

	matches, err := s.Query(ctx, "query", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.InDelta(t, 0.8, matches[1].Score, 1e-6)
}

func TestVectorUpsertKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestVectorStore(t, t.TempDir(), axisEmbedder(), 0)
	created := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Upsert(ctx, []store.VectorRecord{{ID: "a", Content: "same", CreatedAt: created}})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, []store.VectorRecord{{ID: "a", Content: "near"}})
	require.NoError(t, err)

	matches, err := s.Query(ctx, "query", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.True(t, matches[0].CreatedAt.Equal(created))
	assert.InDelta(t, 0.8, matches[0].Score, 1e-6)
}

func TestVectorRejectsMismatchedBatch(t *testing.T) {
	ctx := context.Background()
	emb := axisEmbedder()
	emb.Override = func(input []string) ([][]float32, error) {
		if input[0] == "far" {
			return nil, nil
		}
		out := make([][]float32, len(input))
		for i, text := range input {
			out[i] = emb.Vectors[text]
		}
		return out, nil
	}
	s, err := NewVectorStore(NewVectorStoreParams{
		Dir: t.TempDir(), Namespace: "chunks", Embedder: emb, BatchSize: 1, Threshold: threshold(0),
	})
	require.NoError(t, err)

	res, err := s.Upsert(ctx, []store.VectorRecord{
		{ID: "a", Content: "same"},
		{ID: "c", Content: "far"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Inserted)
	assert.Equal(t, []string{"c"}, res.Rejected)

	n, _ := s.Count(ctx)
	assert.Equal(t, 1, n)
}

func TestVectorDeleteByEntity(t *testing.T) {
	ctx := context.Background()
	s := newTestVectorStore(t, t.TempDir(), axisEmbedder(), 0)
	_, err := s.Upsert(ctx, []store.VectorRecord{
		{ID: common.EntityVectorID("ASPIRIN"), Content: "same", Metadata: map[string]string{store.MetaEntityName: "ASPIRIN"}},
		{ID: common.EntityVectorID("FEVER"), Content: "near", Metadata: map[string]string{store.MetaEntityName: "FEVER"}},
		{ID: common.RelationVectorID("ASPIRIN", "FEVER"), Content: "far", Metadata: map[string]string{store.MetaSourceID: "ASPIRIN", store.MetaTargetID: "FEVER"}},
		{ID: common.RelationVectorID("FEVER", "HEADACHE"), Content: "far", Metadata: map[string]string{store.MetaSourceID: "FEVER", store.MetaTargetID: "HEADACHE"}},
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteByEntity(ctx, "ASPIRIN"))

	matches, err := s.Query(ctx, "query", 10)
	require.NoError(t, err)
	var ids []string
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{common.EntityVectorID("FEVER"), common.RelationVectorID("FEVER", "HEADACHE")}, ids)
}

func TestVectorFlushAndReload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newTestVectorStore(t, dir, axisEmbedder(), 0.5)
	_, err := s.Upsert(ctx, []store.VectorRecord{
		{ID: "a", Content: "same", Metadata: map[string]string{store.MetaEntityName: "A"}},
		{ID: "b", Content: "near"},
	})
	require.NoError(t, err)
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Flush(ctx))

	raw, err := os.ReadFile(filepath.Join(dir, "vdb_entities.json"))
	require.NoError(t, err)
	version, err := DetectVectorSchema(raw)
	require.NoError(t, err)
	assert.Equal(t, VectorSchemaV2, version)

	reloaded := newTestVectorStore(t, dir, axisEmbedder(), 0.5)
	before, err := s.Query(ctx, "query", 10)
	require.NoError(t, err)
	after, err := reloaded.Query(ctx, "query", 10)
	require.NoError(t, err)
	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.InDelta(t, before[i].Score, after[i].Score, 1e-6)
		assert.Equal(t, before[i].Metadata, after[i].Metadata)
	}
}

func TestVectorLoadsLegacyFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	legacy := `{
		"embedding_dim": 3,
		"data": [
			{"__id__": "a", "__created_at__": 1700000000.5, "entity_name": "A"},
			{"__id__": "b", "__created_at__": 1700000001}
		],
		"matrix": [[1, 0, 0], [0.8, 0.6, 0]]
	}`
	path := filepath.Join(dir, "vdb_entities.json")
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	s := newTestVectorStore(t, dir, axisEmbedder(), 0)
	matches, err := s.Query(ctx, "query", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "A", matches[0].Metadata[store.MetaEntityName])
	assert.InDelta(t, 0.8, matches[1].Score, 1e-6)
	assert.Equal(t, int64(1700000000), matches[0].CreatedAt.Unix())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	version, err := DetectVectorSchema(raw)
	require.NoError(t, err)
	assert.Equal(t, VectorSchemaV2, version, "legacy file is rewritten in packed form")
}

func TestMigrateV1ToV2(t *testing.T) {
	flat := `{"embedding_dim":2,"data":[{"__id__":"x"},{"__id__":"y"}],"matrix":[1,2,3,4]}`
	nested := `{"embedding_dim":2,"data":[{"__id__":"x"},{"__id__":"y"}],"matrix":[[1,2],[3,4]]}`

	a, err := MigrateV1ToV2([]byte(flat))
	require.NoError(t, err)
	b, err := MigrateV1ToV2([]byte(nested))
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))

	var f vectorFileV2
	require.NoError(t, json.Unmarshal(a, &f))
	values, err := unpackMatrix(f.Matrix)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, values)

	buf, err := base64.StdEncoding.DecodeString(f.Matrix)
	require.NoError(t, err)
	assert.Len(t, buf, 16)
}

func TestMigrateRejectsBadShape(t *testing.T) {
	tests := map[string]string{
		"row mismatch": `{"embedding_dim":2,"data":[{"__id__":"x"}],"matrix":[1,2,3]}`,
		"non numeric":  `{"embedding_dim":1,"data":[{"__id__":"x"}],"matrix":["a"]}`,
		"zero dim":     `{"embedding_dim":0,"data":[{"__id__":"x"}],"matrix":[1]}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := MigrateV1ToV2([]byte(raw))
			if !errors.Is(err, store.ErrUnknownEncoding) {
				t.Fatalf("expected ErrUnknownEncoding, got %v", err)
			}
		})
	}
}

func TestDetectVectorSchema(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{"packed", `{"embedding_dim":2,"data":[],"matrix":""}`, VectorSchemaV2, false},
		{"legacy", `{"embedding_dim":2,"data":[],"matrix":[]}`, VectorSchemaV1, false},
		{"empty", `{"embedding_dim":2,"data":[]}`, VectorSchemaV2, false},
		{"rows without matrix", `{"embedding_dim":2,"data":[{"__id__":"x"}]}`, 0, true},
		{"object matrix", `{"embedding_dim":2,"data":[],"matrix":{}}`, 0, true},
		{"garbage", `not json`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectVectorSchema([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, store.ErrUnknownEncoding) {
					t.Fatalf("expected ErrUnknownEncoding, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got version %d, want %d", got, tt.want)
			}
		})
	}
}

func TestVectorEmbedDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestVectorStore(t, t.TempDir(), axisEmbedder(), 0)

	embedded, err := s.Embed(ctx, []store.VectorRecord{
		{ID: "a", Content: "same"},
		{ID: "b", Content: "near"},
	})
	require.NoError(t, err)
	require.Len(t, embedded.Rows, 2)
	assert.Empty(t, embedded.Rejected)

	n, _ := s.Count(ctx)
	assert.Zero(t, n)

	ids, err := s.Write(ctx, embedded.Rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	n, _ = s.Count(ctx)
	assert.Equal(t, 2, n)
}

func TestVectorWriteRejectsForeignDimension(t *testing.T) {
	ctx := context.Background()
	s := newTestVectorStore(t, t.TempDir(), axisEmbedder(), 0)

	_, err := s.Write(ctx, []store.EmbeddedRecord{
		{VectorRecord: store.VectorRecord{ID: "a"}, Vector: []float32{1, 0, 0}},
		{VectorRecord: store.VectorRecord{ID: "b"}, Vector: []float32{1, 0}},
	})
	require.ErrorIs(t, err, store.ErrEmbeddingMismatch)

	n, _ := s.Count(ctx)
	assert.Zero(t, n, "a failed write leaves the namespace untouched")
}
