package query

import (
	"context"
	"testing"
	"time"

	"github.com/OFFIS-RIT/medrag/pkg/ai/aitest"
	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/graph"
	"github.com/OFFIS-RIT/medrag/pkg/store"
	"github.com/OFFIS-RIT/medrag/pkg/store/file"
	"github.com/OFFIS-RIT/medrag/pkg/tokenizer"

	"github.com/stretchr/testify/require"
)

var ingestedAt = time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)

// newTestRetriever seeds a small medical graph:
//
//	ASPIRIN - FEVER - IBUPROFEN
//	   |
//	HEADACHE
func newTestRetriever(t *testing.T) *Retriever {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	th := 0.0
	emb := &aitest.Embedder{Dim: 64}
	now := func() time.Time { return ingestedAt }

	g, err := file.NewGraphStore(dir, common.DefaultMergePolicy())
	require.NoError(t, err)
	newVectors := func(ns string) *file.VectorStore {
		s, err := file.NewVectorStore(file.NewVectorStoreParams{Dir: dir, Namespace: ns, Embedder: emb, Threshold: &th, Now: now})
		require.NoError(t, err)
		return s
	}
	ents, rels, chunks := newVectors(store.NamespaceEntities), newVectors(store.NamespaceRelations), newVectors(store.NamespaceChunks)
	kv, err := file.NewKVStore[common.Chunk](dir, store.NamespaceTextChunks)
	require.NoError(t, err)

	chunkList := []common.Chunk{
		{ID: "chunk-1", Content: "Aspirin lowers fever and relieves headache.", DocumentID: "doc-1", CreatedAt: ingestedAt},
		{ID: "chunk-2", Content: "Since 2021-06-01 ibuprofen is preferred for fever in children.", DocumentID: "doc-1", CreatedAt: ingestedAt},
		{ID: "chunk-3", Content: "Aspirin relieves tension headache.", DocumentID: "doc-2", CreatedAt: ingestedAt},
	}
	nodes := []common.Entity{
		{Name: "ASPIRIN", Type: "DRUG", Description: "Aspirin is an analgesic drug.", SourceChunkIDs: []string{"chunk-1", "chunk-3"}, CreatedAt: ingestedAt},
		{Name: "FEVER", Type: "CLINICAL MANIFESTATION", Description: "Fever is raised body temperature.", SourceChunkIDs: []string{"chunk-1", "chunk-2"}, CreatedAt: ingestedAt},
		{Name: "HEADACHE", Type: "CLINICAL MANIFESTATION", Description: "Headache is pain in the head.", SourceChunkIDs: []string{"chunk-1", "chunk-3"}, CreatedAt: ingestedAt},
		{Name: "IBUPROFEN", Type: "DRUG", Description: "Ibuprofen is an NSAID.", SourceChunkIDs: []string{"chunk-2"}, CreatedAt: ingestedAt},
	}
	edges := []common.Relation{
		{Source: "ASPIRIN", Target: "FEVER", Description: "Aspirin lowers fever.", Keywords: []string{"treatment"}, Strength: 8, SourceChunkIDs: []string{"chunk-1"}, CreatedAt: ingestedAt},
		{Source: "ASPIRIN", Target: "HEADACHE", Description: "Aspirin relieves headache.", Keywords: []string{"pain relief"}, Strength: 9, SourceChunkIDs: []string{"chunk-1", "chunk-3"}, CreatedAt: ingestedAt},
		{Source: "FEVER", Target: "IBUPROFEN", Description: "Ibuprofen is preferred for fever in children.", Keywords: []string{"treatment", "pediatrics"}, Strength: 7, SourceChunkIDs: []string{"chunk-2"}, CreatedAt: ingestedAt},
	}

	var entityRecords, relationRecords, chunkRecords []store.VectorRecord
	for _, n := range nodes {
		_, _, err := g.UpsertNode(ctx, n)
		require.NoError(t, err)
		entityRecords = append(entityRecords, graph.EntityRecord(n))
	}
	for _, e := range edges {
		_, _, err := g.UpsertEdge(ctx, e)
		require.NoError(t, err)
		relationRecords = append(relationRecords, graph.RelationRecord(e))
	}
	byID := map[string]common.Chunk{}
	for _, c := range chunkList {
		byID[c.ID] = c
		chunkRecords = append(chunkRecords, graph.ChunkRecord(c))
	}
	for s, recs := range map[*file.VectorStore][]store.VectorRecord{ents: entityRecords, rels: relationRecords, chunks: chunkRecords} {
		_, err := s.Upsert(ctx, recs)
		require.NoError(t, err)
	}
	require.NoError(t, kv.Upsert(ctx, byID))

	r, err := NewRetriever(NewRetrieverParams{
		Graph:     g,
		Entities:  ents,
		Relations: rels,
		Chunks:    chunks,
		ChunkKV:   kv,
		Tokenizer: tokenizer.NewWhitespace(),
	})
	require.NoError(t, err)
	return r
}
