package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/loader"
	"github.com/OFFIS-RIT/medrag/pkg/rag"
)

type fakeEngine struct {
	inserted []string
	queries  []common.QueryParam
	deleted  []string
	limit    int
}

func (f *fakeEngine) Insert(_ context.Context, text string) (rag.InsertReport, error) {
	f.inserted = append(f.inserted, text)
	return rag.InsertReport{DocumentID: "doc-" + text[:3], Chunks: 1, NewChunks: 1}, nil
}

func (f *fakeEngine) Query(_ context.Context, q string, p common.QueryParam) (string, error) {
	f.queries = append(f.queries, p)
	return "Aspirin lowers fever.", nil
}

func (f *fakeEngine) DeleteEntity(_ context.Context, name string) error {
	if name == "missing" {
		return rag.ErrEntityNotFound
	}
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeEngine) GetStatistics(context.Context) (rag.Statistics, error) {
	return rag.Statistics{
		Nodes:   3,
		Edges:   2,
		Vectors: map[string]int{"entities": 3, "relations": 1},
		Drift:   []rag.Drift{{Namespace: "relations", Vectors: 1, Expected: 2}},
	}, nil
}

func (f *fakeEngine) GetAllNodes(_ context.Context, limit int) ([]common.Entity, error) {
	f.limit = limit
	return []common.Entity{{Name: "ASPIRIN", Type: "DRUG", SourceChunkIDs: []string{"chunk-1"}}}, nil
}

func (f *fakeEngine) GetAllEdges(_ context.Context, limit int) ([]common.Relation, error) {
	f.limit = limit
	return []common.Relation{{Source: "ASPIRIN", Target: "FEVER", Strength: 8}}, nil
}

type mapLoader map[string]string

func (m mapLoader) GetFileText(_ context.Context, src loader.Source) ([]byte, error) {
	v, ok := m[src.Path]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(v), nil
}

func run(t *testing.T, eng *fakeEngine, args ...string) (string, bool, error) {
	t.Helper()
	closed := false
	open := func(context.Context) (*Runtime, error) {
		return &Runtime{
			Engine: eng,
			Loaders: loader.Set{
				File: mapLoader{"a.txt": "Aspirin lowers fever."},
				Web:  mapLoader{"https://example.org/i": "Ibuprofen lowers fever."},
			},
			Close: func(context.Context) error { closed = true; return nil },
		}, nil
	}
	root := NewRootCmd(open)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), closed, err
}

func TestInsert(t *testing.T) {
	eng := &fakeEngine{}
	out, closed, err := run(t, eng, "insert", "a.txt", "--url", "https://example.org/i")
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, []string{"Aspirin lowers fever.", "Ibuprofen lowers fever."}, eng.inserted)
	assert.Contains(t, out, "a.txt: doc-Asp")
	assert.Contains(t, out, "https://example.org/i: doc-Ibu")
}

func TestInsertRequiresInput(t *testing.T) {
	_, closed, err := run(t, &fakeEngine{}, "insert")
	require.Error(t, err)
	assert.False(t, closed)
}

func TestInsertS3WithoutBucket(t *testing.T) {
	_, closed, err := run(t, &fakeEngine{}, "insert", "--s3-key", "docs/a.txt")
	require.ErrorIs(t, err, loader.ErrNoLoader)
	assert.True(t, closed)
}

func TestQuery(t *testing.T) {
	eng := &fakeEngine{}
	out, _, err := run(t, eng, "query", "What treats fever?", "--mode", "local", "--top-k", "5", "--only-context")
	require.NoError(t, err)
	assert.Equal(t, "Aspirin lowers fever.\n", out)

	require.Len(t, eng.queries, 1)
	assert.Equal(t, common.ModeLocal, eng.queries[0].Mode)
	assert.Equal(t, 5, eng.queries[0].TopK)
	assert.True(t, eng.queries[0].OnlyNeedContext)
}

func TestQueryJSON(t *testing.T) {
	out, _, err := run(t, &fakeEngine{}, "query", "q", "-o", "json")
	require.NoError(t, err)

	var resp map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "hybrid", resp["mode"])
}

func TestQueryRejectsUnknownMode(t *testing.T) {
	eng := &fakeEngine{}
	_, closed, err := run(t, eng, "query", "q", "--mode", "semantic")
	require.Error(t, err)
	assert.False(t, closed)
	assert.Empty(t, eng.queries)
}

func TestDeleteEntity(t *testing.T) {
	eng := &fakeEngine{}
	out, _, err := run(t, eng, "delete-entity", "aspirin")
	require.NoError(t, err)
	assert.Equal(t, "Deleted ASPIRIN\n", out)

	_, _, err = run(t, eng, "delete-entity", "missing")
	require.ErrorIs(t, err, rag.ErrEntityNotFound)
}

func TestStats(t *testing.T) {
	out, _, err := run(t, &fakeEngine{}, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "nodes")
	assert.Contains(t, out, "drift/relations")
	assert.Contains(t, out, "1 vectors, 2 expected")
}

func TestNodesAndEdges(t *testing.T) {
	eng := &fakeEngine{}
	out, _, err := run(t, eng, "nodes", "--limit", "10")
	require.NoError(t, err)
	assert.Equal(t, 10, eng.limit)
	assert.Contains(t, out, "ASPIRIN")

	out, _, err = run(t, eng, "edges", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, 50, eng.limit)
	var edges []common.Relation
	require.NoError(t, json.Unmarshal([]byte(out), &edges))
	require.Len(t, edges, 1)
	assert.Equal(t, 8.0, edges[0].Strength)
}
