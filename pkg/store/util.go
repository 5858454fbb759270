package store

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/medrag/pkg/ai"
	"github.com/OFFIS-RIT/medrag/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// ChunkRange calls fn for consecutive [start, end) windows of chunkSize.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// DedupeRecords keeps the last record of every id, in first-seen order.
func DedupeRecords(in []VectorRecord) []VectorRecord {
	index := make(map[string]int, len(in))
	out := make([]VectorRecord, 0, len(in))
	for _, r := range in {
		if r.ID == "" {
			continue
		}
		if i, ok := index[r.ID]; ok {
			out[i] = r
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}

// EmbeddedRecord is a record together with its validated embedding.
type EmbeddedRecord struct {
	VectorRecord
	Vector []float32
}

// EmbedBatches embeds records in batches of batchSize, running batches
// concurrently (the embedder bounds real parallelism). A batch whose result
// count differs from its input, or whose vectors have the wrong dimension,
// is rejected as a whole and logged; the other batches are still returned.
// Provider errors and cancellation abort the whole call so that nothing is
// applied.
func EmbedBatches(
	ctx context.Context,
	embedder ai.Embedder,
	namespace string,
	records []VectorRecord,
	batchSize int,
) ([]EmbeddedRecord, []string, error) {
	if len(records) == 0 {
		return nil, nil, nil
	}
	if batchSize <= 0 {
		batchSize = len(records)
	}

	type batch struct{ start, end int }
	var batches []batch
	_ = ChunkRange(len(records), batchSize, func(start, end int) error {
		batches = append(batches, batch{start, end})
		return nil
	})

	vectors := make([][][]float32, len(batches))
	eg, ectx := errgroup.WithContext(ctx)
	for i, b := range batches {
		eg.Go(func() error {
			inputs := make([]string, 0, b.end-b.start)
			for _, r := range records[b.start:b.end] {
				inputs = append(inputs, r.Content)
			}
			out, err := embedder.Embed(ectx, inputs)
			if err != nil {
				return fmt.Errorf("embed %s batch %d: %w", namespace, i, err)
			}
			vectors[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	dim := embedder.Dimension()
	var accepted []EmbeddedRecord
	var rejected []string
	for i, b := range batches {
		part := records[b.start:b.end]
		if err := validateBatch(vectors[i], len(part), dim); err != nil {
			logger.Error("[Vector] Rejected embedding batch",
				"namespace", namespace,
				"batch", i,
				"records", len(part),
				"err", err,
			)
			for _, r := range part {
				rejected = append(rejected, r.ID)
			}
			continue
		}
		for j, r := range part {
			accepted = append(accepted, EmbeddedRecord{VectorRecord: r, Vector: vectors[i][j]})
		}
	}
	return accepted, rejected, nil
}

func validateBatch(vectors [][]float32, want, dim int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: got %d want %d", ErrEmbeddingMismatch, len(vectors), want)
	}
	for i, v := range vectors {
		if dim > 0 && len(v) != dim {
			return fmt.Errorf("%w: vector %d has dimension %d want %d", ErrEmbeddingMismatch, i, len(v), dim)
		}
	}
	return nil
}
