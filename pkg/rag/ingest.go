package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/graph"
	"github.com/OFFIS-RIT/medrag/pkg/logger"
)

// InsertReport describes the outcome of ingesting one document.
type InsertReport struct {
	DocumentID string `json:"document_id"`
	// Skipped is set when the document was ingested before.
	Skipped bool `json:"skipped"`

	Chunks    int `json:"chunks"`
	NewChunks int `json:"new_chunks"`

	Entities     int `json:"entities"`
	Relations    int `json:"relations"`
	Placeholders int `json:"placeholders"`
	Summarized   int `json:"summarized"`

	// DegradedChunks could not be extracted, or their facts had embeddings
	// rejected. They are not stored, so inserting the same text again
	// retries them.
	DegradedChunks  []string `json:"degraded_chunks,omitempty"`
	RejectedVectors []string `json:"rejected_vectors,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Insert chunks text, extracts facts from the chunks not seen before and
// merges them into the stores. Model failures are reported in the
// InsertReport; an error is returned only for store failures and
// cancellation.
func (e *Engine) Insert(ctx context.Context, text string) (InsertReport, error) {
	start := time.Now()
	doc := graph.NewDocument(text, e.opts.Now)
	report := InsertReport{DocumentID: doc.ID}
	if doc.Content == "" {
		return report, ErrEmptyDocument
	}
	if err := e.writable(); err != nil {
		return report, err
	}

	fresh, err := e.fullDocs.FilterNew(ctx, []string{doc.ID})
	if err != nil {
		return report, fmt.Errorf("check document: %w", err)
	}
	if len(fresh) == 0 {
		report.Skipped = true
		logger.Info("[Ingest] Document already stored", "doc_id", doc.ID)
		return report, nil
	}

	all, chunks, err := e.newChunks(ctx, doc)
	if err != nil {
		return report, err
	}
	report.Chunks, report.NewChunks = len(all), len(chunks)
	logger.Info("[Ingest] Document chunked", "doc_id", doc.ID, "chunks", report.Chunks, "new", report.NewChunks)

	extractions, err := graph.ExtractChunks(ctx, e.extractor, chunks, e.opts.MaxConcurrentCalls)
	if err != nil {
		return report, err
	}
	var extracted []graph.Extraction
	var ready []common.Chunk
	for i, ext := range extractions {
		if ext.Degraded {
			report.DegradedChunks = append(report.DegradedChunks, ext.ChunkID)
			continue
		}
		extracted = append(extracted, ext)
		ready = append(ready, chunks[i])
	}

	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()

	batch, err := e.merger.Stage(ctx, extracted, ready)
	if err != nil {
		return report, fmt.Errorf("stage facts: %w", err)
	}
	// Nothing has been written yet, so a cancellation up to here leaves the
	// stores untouched.
	if err := ctx.Err(); err != nil {
		return report, err
	}

	applied, err := e.merger.Apply(ctx, batch)
	if err != nil {
		return report, fmt.Errorf("apply facts: %w", err)
	}
	stored := make(map[string]common.Chunk, len(batch.Chunks()))
	for _, c := range batch.Chunks() {
		stored[c.ID] = c
	}
	if err := e.textChunks.Upsert(ctx, stored); err != nil {
		return report, fmt.Errorf("store chunks: %w", err)
	}
	report.DegradedChunks = append(report.DegradedChunks, batch.DroppedChunks...)
	if len(report.DegradedChunks) == 0 {
		if err := e.fullDocs.Upsert(ctx, map[string]common.Document{doc.ID: doc}); err != nil {
			return report, fmt.Errorf("store document: %w", err)
		}
	}

	report.Entities = applied.Entities
	report.Relations = applied.Relations
	report.Placeholders = len(batch.Placeholders)
	report.Summarized = batch.Summarized
	report.RejectedVectors = applied.Rejected

	if err := e.flushLocked(ctx); err != nil {
		return report, err
	}
	report.Duration = time.Since(start)
	logger.Info("[Ingest] Document merged",
		"doc_id", doc.ID,
		"entities", report.Entities,
		"relations", report.Relations,
		"degraded", len(report.DegradedChunks),
		"rejected", len(report.RejectedVectors),
		"duration", report.Duration,
	)
	return report, nil
}

// newChunks chunks doc and returns all chunks and those not stored yet.
func (e *Engine) newChunks(ctx context.Context, doc common.Document) (all, fresh []common.Chunk, err error) {
	all = graph.ChunkDocument(e.tok, doc, e.opts.ChunkSize, e.opts.ChunkOverlap)
	ids := make([]string, len(all))
	for i, c := range all {
		ids[i] = c.ID
	}
	freshIDs, err := e.textChunks.FilterNew(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("check chunks: %w", err)
	}
	want := make(map[string]bool, len(freshIDs))
	for _, id := range freshIDs {
		want[id] = true
	}
	fresh = make([]common.Chunk, 0, len(freshIDs))
	for _, c := range all {
		if want[c.ID] {
			fresh = append(fresh, c)
			// identical windows within one document share an id
			delete(want, c.ID)
		}
	}
	return all, fresh, nil
}

// InsertBatch inserts texts one after another and stops at the first hard
// error. The reports of the documents handled so far are returned with it.
func (e *Engine) InsertBatch(ctx context.Context, texts []string) ([]InsertReport, error) {
	reports := make([]InsertReport, 0, len(texts))
	for i, text := range texts {
		report, err := e.Insert(ctx, text)
		if err != nil {
			return reports, fmt.Errorf("document %d: %w", i, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}
