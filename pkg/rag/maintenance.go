package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/logger"
	"github.com/OFFIS-RIT/medrag/pkg/query"
	"github.com/OFFIS-RIT/medrag/pkg/store"
)

// Query answers question. The error is only set for an invalid mode or a
// cancelled context, every other failure yields ai.FailResponse.
func (e *Engine) Query(ctx context.Context, question string, p common.QueryParam) (string, error) {
	return query.NewClient(e.retriever, e.completer).Query(ctx, question, p)
}

// QueryWithTrace is Query that also reports the keywords, mode and facts
// the answer was built from.
func (e *Engine) QueryWithTrace(ctx context.Context, question string, p common.QueryParam) (string, query.QueryTraceSnapshot, error) {
	trace := query.NewQueryTrace()
	answer, err := query.NewClient(e.retriever, e.completer, query.WithTracer(trace)).Query(ctx, question, p)
	return answer, trace.Snapshot(), err
}

// DeleteEntity removes an entity, its incident relations and all their
// vector rows. name is normalized like an extracted entity name.
func (e *Engine) DeleteEntity(ctx context.Context, name string) error {
	name = common.NormalizeName(name)
	if err := e.writable(); err != nil {
		return err
	}

	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()

	if _, ok, err := e.graph.GetNode(ctx, name); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %q", ErrEntityNotFound, name)
	}

	removed, err := e.graph.DeleteNodeCascade(ctx, name)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	if err := e.entities.DeleteByEntity(ctx, name); err != nil {
		return fmt.Errorf("delete entity vectors: %w", err)
	}
	if err := e.relations.DeleteByEntity(ctx, name); err != nil {
		return fmt.Errorf("delete relation vectors: %w", err)
	}
	logger.Info("[Engine] Entity deleted", "entity", name, "relations", len(removed))
	return e.flushLocked(ctx)
}

// Drift is a vector namespace whose row count differs from the count of
// the facts it indexes.
type Drift struct {
	Namespace string `json:"namespace"`
	Vectors   int    `json:"vectors"`
	Expected  int    `json:"expected"`
}

// Statistics are the sizes of all stores.
type Statistics struct {
	Documents int            `json:"documents"`
	Chunks    int            `json:"chunks"`
	Nodes     int            `json:"nodes"`
	Edges     int            `json:"edges"`
	Vectors   map[string]int `json:"vectors"`
	Drift     []Drift        `json:"drift,omitempty"`
}

func (e *Engine) GetStatistics(ctx context.Context) (Statistics, error) {
	stats := Statistics{Vectors: map[string]int{}}
	counts, err := e.graph.Counts(ctx)
	if err != nil {
		return stats, err
	}
	stats.Nodes, stats.Edges = counts.Nodes, counts.Edges
	if stats.Documents, err = e.fullDocs.Count(ctx); err != nil {
		return stats, err
	}
	if stats.Chunks, err = e.textChunks.Count(ctx); err != nil {
		return stats, err
	}

	expected := []struct {
		vectors store.VectorStorage
		want    int
	}{
		{e.entities, stats.Nodes},
		{e.relations, stats.Edges},
		{e.chunks, stats.Chunks},
	}
	for _, x := range expected {
		n, err := x.vectors.Count(ctx)
		if err != nil {
			return stats, fmt.Errorf("count %s vectors: %w", x.vectors.Namespace(), err)
		}
		stats.Vectors[x.vectors.Namespace()] = n
		if n != x.want {
			stats.Drift = append(stats.Drift, Drift{Namespace: x.vectors.Namespace(), Vectors: n, Expected: x.want})
		}
	}
	return stats, nil
}

// GetAllNodes returns up to limit entities sorted by name, all of them for
// a non positive limit.
func (e *Engine) GetAllNodes(ctx context.Context, limit int) ([]common.Entity, error) {
	return e.graph.Nodes(ctx, limit)
}

// GetAllEdges returns up to limit relations sorted by key.
func (e *Engine) GetAllEdges(ctx context.Context, limit int) ([]common.Relation, error) {
	return e.graph.Edges(ctx, limit)
}

// Flush persists every store and checks that the vector namespaces match
// the graph and chunk store. Drift is logged, not returned as an error.
func (e *Engine) Flush(ctx context.Context) error {
	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()
	return e.flushLocked(ctx)
}

func (e *Engine) flushLocked(ctx context.Context) error {
	err := errors.Join(
		e.graph.Flush(ctx),
		e.entities.Flush(ctx),
		e.relations.Flush(ctx),
		e.chunks.Flush(ctx),
		e.fullDocs.Flush(ctx),
		e.textChunks.Flush(ctx),
	)
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	stats, err := e.GetStatistics(ctx)
	if err != nil {
		return err
	}
	for _, d := range stats.Drift {
		logger.Warn("[Engine] Vector store drifted from graph",
			"namespace", d.Namespace,
			"vectors", d.Vectors,
			"expected", d.Expected,
		)
	}
	return nil
}
