package file

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/medrag/pkg/ai"
	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/logger"
	"github.com/OFFIS-RIT/medrag/pkg/store"

	"github.com/viterin/vek/vek32"
)

// Reserved row keys of the vector file format.
const (
	rowIDKey        = "__id__"
	rowCreatedAtKey = "__created_at__"
)

type vectorRow struct {
	id        string
	createdAt time.Time
	meta      map[string]string
	vector    []float32
}

// VectorStore is a single namespace of the embedding index persisted as
// vdb_<namespace>.json. Vectors are L2 normalized on insert so that a dot
// product is the cosine similarity.
type VectorStore struct {
	path      string
	namespace string
	embedder  ai.Embedder
	batchSize int
	threshold float64
	now       common.Clock

	mu    sync.RWMutex
	dim   int
	rows  []vectorRow
	index map[string]int
	// gen counts mutations, flushed is the gen of the last written file
	gen     uint64
	flushed uint64

	flushMu sync.Mutex
}

// NewVectorStoreParams configures a VectorStore. Threshold is required.
type NewVectorStoreParams struct {
	Dir       string
	Namespace string
	Embedder  ai.Embedder
	BatchSize int
	Threshold *float64
	Now       common.Clock
}

// NewVectorStore validates params and loads the namespace file. Files in the
// legacy plain array encoding are migrated and written back before use.
func NewVectorStore(params NewVectorStoreParams) (*VectorStore, error) {
	if params.Threshold == nil {
		return nil, fmt.Errorf("vector store %q: %w", params.Namespace, store.ErrMissingThreshold)
	}
	if t := *params.Threshold; t < 0 || t > 1 || math.IsNaN(t) {
		return nil, fmt.Errorf("vector store %q: threshold %v outside [0,1]", params.Namespace, t)
	}
	if params.Embedder == nil {
		return nil, fmt.Errorf("vector store %q: embedder is nil", params.Namespace)
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 32
	}
	if params.Now == nil {
		params.Now = common.SystemClock
	}

	s := &VectorStore{
		path:      filepath.Join(params.Dir, "vdb_"+params.Namespace+".json"),
		namespace: params.Namespace,
		embedder:  params.Embedder,
		batchSize: params.BatchSize,
		threshold: *params.Threshold,
		now:       params.Now,
		dim:       params.Embedder.Dimension(),
		index:     map[string]int{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *VectorStore) Namespace() string { return s.namespace }

func (s *VectorStore) load() error {
	raw, err := readFileIfExists(s.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	if raw == nil {
		return nil
	}

	version, err := DetectVectorSchema(raw)
	if err != nil {
		return fmt.Errorf("load %s: %w", s.path, err)
	}
	if version == VectorSchemaV1 {
		raw, err = MigrateV1ToV2(raw)
		if err != nil {
			return fmt.Errorf("migrate %s: %w", s.path, err)
		}
		if err := writeFileAtomic(s.path, raw); err != nil {
			return fmt.Errorf("write migrated %s: %w", s.path, err)
		}
		logger.Info("[Vector] Migrated legacy matrix encoding", "namespace", s.namespace, "path", s.path)
	}

	var f vectorFileV2
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	values, err := unpackMatrix(f.Matrix)
	if err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	if err := checkShape(len(values), len(f.Data), f.EmbeddingDim); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	if len(f.Data) > 0 && s.dim > 0 && f.EmbeddingDim != s.dim {
		return fmt.Errorf("load %s: %w: file dimension %d, embedder dimension %d",
			s.path, store.ErrUnknownEncoding, f.EmbeddingDim, s.dim)
	}
	if s.dim == 0 {
		s.dim = f.EmbeddingDim
	}

	for i, rawRow := range f.Data {
		row, err := decodeRow(rawRow)
		if err != nil {
			return fmt.Errorf("decode %s row %d: %w", s.path, i, err)
		}
		row.vector = values[i*f.EmbeddingDim : (i+1)*f.EmbeddingDim]
		s.index[row.id] = len(s.rows)
		s.rows = append(s.rows, row)
	}
	logger.Debug("[Vector] Loaded namespace", "namespace", s.namespace, "rows", len(s.rows))
	return nil
}

func decodeRow(raw json.RawMessage) (vectorRow, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return vectorRow{}, err
	}
	id, _ := fields[rowIDKey].(string)
	if id == "" {
		return vectorRow{}, fmt.Errorf("row without %s", rowIDKey)
	}
	row := vectorRow{id: id, meta: map[string]string{}}
	if ts, ok := fields[rowCreatedAtKey].(float64); ok {
		sec, frac := math.Modf(ts)
		row.createdAt = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	for k, v := range fields {
		if k == rowIDKey || k == rowCreatedAtKey {
			continue
		}
		if str, ok := v.(string); ok {
			row.meta[k] = str
		} else if v != nil {
			row.meta[k] = fmt.Sprint(v)
		}
	}
	return row, nil
}

func encodeRow(row vectorRow) (json.RawMessage, error) {
	fields := make(map[string]any, len(row.meta)+2)
	for k, v := range row.meta {
		fields[k] = v
	}
	fields[rowIDKey] = row.id
	fields[rowCreatedAtKey] = float64(row.createdAt.UnixNano()) / 1e9
	return json.Marshal(fields)
}

// Upsert embeds and stores records. Records of rejected batches are
// reported in the result and leave the store untouched; an error means
// nothing was applied.
func (s *VectorStore) Upsert(ctx context.Context, records []store.VectorRecord) (store.UpsertResult, error) {
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

func (s *VectorStore) Embed(ctx context.Context, records []store.VectorRecord) (store.Embedded, error) {
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

// Write replaces or appends rows in memory. It does not fail for rows
// returned by Embed; rows of a foreign dimension are an error and nothing
// is written.
func (s *VectorStore) Write(_ context.Context, rows []store.EmbeddedRecord) ([]string, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dim
	if dim == 0 {
		dim = len(rows[0].Vector)
	}
	for _, rec := range rows {
		if len(rec.Vector) != dim {
			return nil, fmt.Errorf("write %s row %s: %w: dimension %d want %d",
				s.namespace, rec.ID, store.ErrEmbeddingMismatch, len(rec.Vector), dim)
		}
	}
	s.dim = dim

	inserted := make([]string, 0, len(rows))
	for _, rec := range rows {
		row := vectorRow{
			id:        rec.ID,
			createdAt: rec.CreatedAt,
			meta:      rec.Metadata,
			vector:    normalize(rec.Vector),
		}
		if row.meta == nil {
			row.meta = map[string]string{}
		}
		if i, ok := s.index[rec.ID]; ok {
			if row.createdAt.IsZero() {
				row.createdAt = s.rows[i].createdAt
			}
			s.rows[i] = row
		} else {
			if row.createdAt.IsZero() {
				row.createdAt = s.now()
			}
			s.index[rec.ID] = len(s.rows)
			s.rows = append(s.rows, row)
		}
		inserted = append(inserted, rec.ID)
	}
	s.gen++
	logger.Debug("[Vector] Wrote rows", "namespace", s.namespace, "rows", len(inserted))
	return inserted, nil
}

// Query embeds text and returns the best topK rows scoring at least the
// configured threshold.
func (s *VectorStore) Query(ctx context.Context, text string, topK int) ([]store.VectorMatch, error) {
	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d query vectors", store.ErrEmbeddingMismatch, len(vectors))
	}
	return s.search(normalize(vectors[0]), topK), nil
}

func (s *VectorStore) search(query []float32, topK int) []store.VectorMatch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []store.VectorMatch
	for _, row := range s.rows {
		if len(row.vector) != len(query) {
			continue
		}
		score := similarity(query, row.vector)
		if score < s.threshold {
			continue
		}
		matches = append(matches, store.VectorMatch{
			ID:        row.id,
			Score:     score,
			Metadata:  row.meta,
			CreatedAt: row.createdAt,
		})
	}
	slices.SortStableFunc(matches, func(a, b store.VectorMatch) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return strings.Compare(a.ID, b.ID)
		}
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

func (s *VectorStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeWhere(func(row vectorRow) bool { return slices.Contains(ids, row.id) })
	return nil
}

func (s *VectorStore) DeleteByEntity(_ context.Context, name string) error {
	entityID := common.EntityVectorID(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeWhere(func(row vectorRow) bool {
		return row.id == entityID || row.meta[store.MetaSourceID] == name || row.meta[store.MetaTargetID] == name
	})
	return nil
}

func (s *VectorStore) removeWhere(drop func(vectorRow) bool) {
	kept := s.rows[:0]
	removed := 0
	for _, row := range s.rows {
		if drop(row) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	if removed == 0 {
		return
	}
	clear(s.rows[len(kept):])
	s.rows = kept
	s.index = make(map[string]int, len(kept))
	for i, row := range kept {
		s.index[row.id] = i
	}
	s.gen++
	logger.Debug("[Vector] Deleted rows", "namespace", s.namespace, "removed", removed)
}

func (s *VectorStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows), nil
}

// Flush writes the namespace file. Concurrent flushes are serialized and
// a flush without changes is a no-op.
func (s *VectorStore) Flush(context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.RLock()
	if s.gen == s.flushed {
		s.mu.RUnlock()
		return nil
	}
	gen := s.gen
	data, err := s.encodeLocked()
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return err
	}

	s.mu.Lock()
	s.flushed = gen
	s.mu.Unlock()
	logger.Debug("[Vector] Flushed namespace", "namespace", s.namespace, "path", s.path)
	return nil
}

func (s *VectorStore) encodeLocked() ([]byte, error) {
	f := vectorFileV2{EmbeddingDim: s.dim, Data: make([]json.RawMessage, 0, len(s.rows))}
	values := make([]float32, 0, len(s.rows)*s.dim)
	for _, row := range s.rows {
		raw, err := encodeRow(row)
		if err != nil {
			return nil, fmt.Errorf("encode row %s: %w", row.id, err)
		}
		f.Data = append(f.Data, raw)
		values = append(values, row.vector...)
	}
	f.Matrix = packMatrix(values)
	return json.Marshal(f)
}

func normalize(v []float32) []float32 {
	out := slices.Clone(v)
	if len(out) == 0 {
		return out
	}
	n := vek32.Norm(out)
	if n == 0 || math.IsNaN(float64(n)) {
		return out
	}
	vek32.DivNumber_Inplace(out, n)
	return out
}

func similarity(a, b []float32) float64 {
	score := float64(vek32.Dot(a, b))
	if math.IsNaN(score) {
		return 0
	}
	return min(max(score, -1), 1)
}
