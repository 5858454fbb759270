package graph

import (
	"context"

	"github.com/OFFIS-RIT/medrag/pkg/common"

	"golang.org/x/sync/errgroup"
)

// ExtractChunks extracts every chunk with at most parallel calls in flight
// and returns the extractions in chunk order. Only cancellation of ctx is
// reported as an error; failing chunks come back Degraded.
func ExtractChunks(ctx context.Context, extractor *Extractor, chunks []common.Chunk, parallel int) ([]Extraction, error) {
	out := make([]Extraction, len(chunks))

	g, gCtx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, chunk := range chunks {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			out[i] = extractor.Extract(gCtx, chunk)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
