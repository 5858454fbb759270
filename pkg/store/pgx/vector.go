package pgx

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/OFFIS-RIT/medrag/pkg/ai"
	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/logger"
	"github.com/OFFIS-RIT/medrag/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// VectorStorage is one namespace of the medrag_vectors table.
type VectorStorage struct {
	conn      pgxIConn
	namespace string
	embedder  ai.Embedder
	batchSize int
	threshold float64
	now       common.Clock
}

type NewVectorStorageParams struct {
	Conn      pgxIConn
	Namespace string
	Embedder  ai.Embedder
	BatchSize int
	Threshold *float64
	Now       common.Clock
}

// NewVectorStorage expects the schema to be migrated, see Migrate.
func NewVectorStorage(params NewVectorStorageParams) (*VectorStorage, error) {
	if params.Threshold == nil {
		return nil, fmt.Errorf("vector storage %q: %w", params.Namespace, store.ErrMissingThreshold)
	}
	if t := *params.Threshold; t < 0 || t > 1 || math.IsNaN(t) {
		return nil, fmt.Errorf("vector storage %q: threshold %v outside [0,1]", params.Namespace, t)
	}
	if params.Conn == nil || params.Embedder == nil {
		return nil, fmt.Errorf("vector storage %q: connection and embedder are required", params.Namespace)
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 32
	}
	if params.Now == nil {
		params.Now = common.SystemClock
	}
	return &VectorStorage{
		conn:      params.Conn,
		namespace: params.Namespace,
		embedder:  params.Embedder,
		batchSize: params.BatchSize,
		threshold: *params.Threshold,
		now:       params.Now,
	}, nil
}

func (s *VectorStorage) Namespace() string { return s.namespace }

// Upsert embeds records and writes every accepted row in one transaction.
func (s *VectorStorage) Upsert(ctx context.Context, records []store.VectorRecord) (store.UpsertResult, error) {
	embedded, err := s.Embed(ctx, records)
	if err != nil {
		return store.UpsertResult{}, err
	}
	inserted, err := s.Write(ctx, embedded.Rows)
	if err != nil {
		return store.UpsertResult{}, err
	}
	return store.UpsertResult{Inserted: inserted, Rejected: embedded.Rejected}, nil
}

func (s *VectorStorage) Embed(ctx context.Context, records []store.VectorRecord) (store.Embedded, error) {
	records = store.DedupeRecords(records)
	if len(records) == 0 {
		return store.Embedded{}, nil
	}
	rows, rejected, err := store.EmbedBatches(ctx, s.embedder, s.namespace, records, s.batchSize)
	if err != nil {
		return store.Embedded{}, err
	}
	return store.Embedded{Rows: rows, Rejected: rejected}, nil
}

// Write stores rows in one transaction.
func (s *VectorStorage) Write(ctx context.Context, rows []store.EmbeddedRecord) ([]string, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := s.now()
	batch := &pgxv5.Batch{}
	inserted := make([]string, 0, len(rows))
	for _, rec := range rows {
		var createdAt *time.Time
		if !rec.CreatedAt.IsZero() {
			createdAt = &rec.CreatedAt
		}
		meta := rec.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		batch.Queue(upsertVectorSQL, s.namespace, rec.ID, rec.Content, meta, createdAt, now, pgvector.NewVector(rec.Vector))
		inserted = append(inserted, rec.ID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("upsert %s vectors: %w", s.namespace, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Debug("[Vector] Wrote rows", "namespace", s.namespace, "rows", len(inserted))
	return inserted, nil
}

func (s *VectorStorage) Query(ctx context.Context, text string, topK int) ([]store.VectorMatch, error) {
	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d query vectors", store.ErrEmbeddingMismatch, len(vectors))
	}
	limit := any(nil)
	if topK > 0 {
		limit = topK
	}

	rows, err := s.conn.Query(ctx, queryVectorSQL, s.namespace, pgvector.NewVector(vectors[0]), s.threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s vectors: %w", s.namespace, err)
	}
	defer rows.Close()

	var matches []store.VectorMatch
	for rows.Next() {
		var m store.VectorMatch
		if err := rows.Scan(&m.ID, &m.Metadata, &m.CreatedAt, &m.Score); err != nil {
			return nil, err
		}
		m.Score = min(max(m.Score, -1), 1)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *VectorStorage) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.conn.Exec(ctx, `DELETE FROM medrag_vectors WHERE namespace = $1 AND id = ANY($2)`, s.namespace, ids)
	return err
}

func (s *VectorStorage) DeleteByEntity(ctx context.Context, name string) error {
	tag, err := s.conn.Exec(ctx, deleteByEntitySQL, s.namespace, common.EntityVectorID(name), name)
	if err != nil {
		return err
	}
	logger.Debug("[Vector] Deleted rows", "namespace", s.namespace, "removed", tag.RowsAffected())
	return nil
}

func (s *VectorStorage) Count(ctx context.Context) (int, error) {
	var n int
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM medrag_vectors WHERE namespace = $1`, s.namespace).Scan(&n)
	return n, err
}

// Flush is a no-op, every write is committed immediately.
func (s *VectorStorage) Flush(context.Context) error { return nil }

const upsertVectorSQL = `
INSERT INTO medrag_vectors (namespace, id, content, metadata, created_at, embedding)
VALUES ($1, $2, $3, $4, COALESCE($5::timestamptz, $6::timestamptz), $7)
ON CONFLICT (namespace, id) DO UPDATE
SET content    = EXCLUDED.content,
    metadata   = EXCLUDED.metadata,
    embedding  = EXCLUDED.embedding,
    created_at = COALESCE($5::timestamptz, medrag_vectors.created_at);
`

const queryVectorSQL = `
SELECT id, metadata, created_at, 1 - (embedding <=> $2) AS score
FROM medrag_vectors
WHERE namespace = $1
  AND 1 - (embedding <=> $2) >= $3
ORDER BY embedding <=> $2, id
LIMIT $4;
`

const deleteByEntitySQL = `
DELETE FROM medrag_vectors
WHERE namespace = $1
  AND (id = $2 OR metadata->>'src_id' = $3 OR metadata->>'tgt_id' = $3);
`
