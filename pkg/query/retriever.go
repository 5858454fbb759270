package query

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/logger"
	"github.com/OFFIS-RIT/medrag/pkg/store"
	"github.com/OFFIS-RIT/medrag/pkg/tokenizer"
)

// Retrieval defaults for zero QueryParam fields.
const (
	DefaultTopK      = 60
	DefaultMaxTokens = 4000
)

// EntityRow is an entity in a retrieved context.
type EntityRow struct {
	Name           string
	Type           string
	Description    string
	Degree         int
	Score          float64
	SourceChunkIDs []string
	CreatedAt      time.Time
	EventTime      time.Time
	TimeSource     TimeSource
}

// RelationRow is a relation in a retrieved context.
type RelationRow struct {
	Source         string
	Target         string
	Description    string
	Keywords       []string
	Strength       float64
	Degree         int
	Score          float64
	SourceChunkIDs []string
	CreatedAt      time.Time
	EventTime      time.Time
	TimeSource     TimeSource
}

func (r RelationRow) Key() string { return common.RelationKey(r.Source, r.Target) }

// ChunkRow is a source text in a retrieved context.
type ChunkRow struct {
	ID         string
	Content    string
	Score      float64
	CreatedAt  time.Time
	EventTime  time.Time
	TimeSource TimeSource
}

// ContextSet is everything retrieved for one question.
type ContextSet struct {
	Entities  []EntityRow
	Relations []RelationRow
	Chunks    []ChunkRow
}

func (c ContextSet) Empty() bool {
	return len(c.Entities) == 0 && len(c.Relations) == 0 && len(c.Chunks) == 0
}

// Retriever reads the graph, vector and chunk stores.
type Retriever struct {
	graph     store.GraphStorage
	entities  store.VectorStorage
	relations store.VectorStorage
	chunks    store.VectorStorage
	chunkKV   store.KVStorage[common.Chunk]
	tok       tokenizer.Tokenizer
}

type NewRetrieverParams struct {
	Graph     store.GraphStorage
	Entities  store.VectorStorage
	Relations store.VectorStorage
	Chunks    store.VectorStorage
	ChunkKV   store.KVStorage[common.Chunk]
	Tokenizer tokenizer.Tokenizer
}

func NewRetriever(params NewRetrieverParams) (*Retriever, error) {
	if params.Graph == nil || params.Entities == nil || params.Relations == nil ||
		params.Chunks == nil || params.ChunkKV == nil || params.Tokenizer == nil {
		return nil, errors.New("retriever: all stores and a tokenizer are required")
	}
	return &Retriever{
		graph:     params.Graph,
		entities:  params.Entities,
		relations: params.Relations,
		chunks:    params.Chunks,
		chunkKV:   params.ChunkKV,
		tok:       params.Tokenizer,
	}, nil
}

// WithDefaults fills zero budgets of p.
func WithDefaults(p common.QueryParam) common.QueryParam {
	if p.Mode == "" {
		p.Mode = common.ModeHybrid
	}
	if p.TopK <= 0 {
		p.TopK = DefaultTopK
	}
	if p.MaxTokenForTextUnit <= 0 {
		p.MaxTokenForTextUnit = DefaultMaxTokens
	}
	if p.MaxTokenForLocalContext <= 0 {
		p.MaxTokenForLocalContext = DefaultMaxTokens
	}
	if p.MaxTokenForGlobalContext <= 0 {
		p.MaxTokenForGlobalContext = DefaultMaxTokens
	}
	return p
}

// ResolveMode applies the keyword arms: local and hybrid without low level
// keywords fall back to global, global and hybrid without high level
// keywords fall back to local. ok is false when no keywords remain.
func ResolveMode(mode common.QueryMode, kw common.Keywords) (common.QueryMode, bool) {
	if kw.Empty() {
		return mode, false
	}
	noLow, noHigh := len(kw.LowLevel) == 0, len(kw.HighLevel) == 0
	switch mode {
	case common.ModeLocal:
		if noLow {
			return common.ModeGlobal, true
		}
	case common.ModeGlobal:
		if noHigh {
			return common.ModeLocal, true
		}
	case common.ModeHybrid:
		if noLow {
			return common.ModeGlobal, true
		}
		if noHigh {
			return common.ModeLocal, true
		}
	}
	return mode, true
}

// Naive returns the chunks most similar to question.
func (r *Retriever) Naive(ctx context.Context, question string, p common.QueryParam) (ContextSet, error) {
	p = WithDefaults(p)
	matches, err := r.chunks.Query(ctx, question, p.TopK)
	if err != nil {
		return ContextSet{}, fmt.Errorf("query chunks: %w", err)
	}
	ids := make([]string, 0, len(matches))
	scores := map[string]float64{}
	for _, m := range matches {
		ids = append(ids, m.ID)
		scores[m.ID] = m.Score
	}
	rows, err := r.chunkRows(ctx, ids, scores, p.MaxTokenForTextUnit)
	if err != nil {
		return ContextSet{}, err
	}
	return ContextSet{Chunks: rows}, nil
}

// Local expands the entities matching the low level keywords.
func (r *Retriever) Local(ctx context.Context, kw common.Keywords, p common.QueryParam) (ContextSet, error) {
	p = WithDefaults(p)
	matches, err := r.entities.Query(ctx, strings.Join(kw.LowLevel, ", "), p.TopK)
	if err != nil {
		return ContextSet{}, fmt.Errorf("query entities: %w", err)
	}

	var entities []EntityRow
	seen := map[string]bool{}
	for _, m := range matches {
		name := m.Metadata[store.MetaEntityName]
		if name == "" || seen[name] {
			continue
		}
		row, ok, err := r.entityRow(ctx, name, m.Score)
		if err != nil {
			return ContextSet{}, err
		}
		if ok {
			seen[name] = true
			entities = append(entities, row)
		}
	}
	slices.SortStableFunc(entities, func(a, b EntityRow) int { return cmp.Compare(b.Degree, a.Degree) })
	entities = tokenizer.Truncate(r.tok, entities, p.MaxTokenForLocalContext, func(e EntityRow) string { return e.Description })

	// incident edges of the matched entities
	var relations []RelationRow
	seenRel := map[string]bool{}
	for _, e := range entities {
		edges, err := r.graph.NodeEdges(ctx, e.Name)
		if err != nil {
			return ContextSet{}, err
		}
		for _, edge := range edges {
			if seenRel[edge.Key()] {
				continue
			}
			seenRel[edge.Key()] = true
			row, err := r.relationRow(ctx, edge, e.Score)
			if err != nil {
				return ContextSet{}, err
			}
			relations = append(relations, row)
		}
	}
	sortRelations(relations)
	relations = tokenizer.Truncate(r.tok, relations, p.MaxTokenForLocalContext, func(r RelationRow) string { return r.Description })

	chunkIDs, scores, err := r.entityChunkOrder(ctx, entities)
	if err != nil {
		return ContextSet{}, err
	}
	chunks, err := r.chunkRows(ctx, chunkIDs, scores, p.MaxTokenForTextUnit)
	if err != nil {
		return ContextSet{}, err
	}
	return ContextSet{Entities: entities, Relations: relations, Chunks: chunks}, nil
}

// Global expands the relations matching the high level keywords.
func (r *Retriever) Global(ctx context.Context, kw common.Keywords, p common.QueryParam) (ContextSet, error) {
	p = WithDefaults(p)
	matches, err := r.relations.Query(ctx, strings.Join(kw.HighLevel, ", "), p.TopK)
	if err != nil {
		return ContextSet{}, fmt.Errorf("query relations: %w", err)
	}

	var relations []RelationRow
	seen := map[string]bool{}
	for _, m := range matches {
		src, tgt := m.Metadata[store.MetaSourceID], m.Metadata[store.MetaTargetID]
		if src == "" || tgt == "" {
			continue
		}
		edge, ok, err := r.graph.GetEdge(ctx, src, tgt)
		if err != nil {
			return ContextSet{}, err
		}
		if !ok || seen[edge.Key()] {
			continue
		}
		seen[edge.Key()] = true
		row, err := r.relationRow(ctx, edge, m.Score)
		if err != nil {
			return ContextSet{}, err
		}
		relations = append(relations, row)
	}
	sortRelations(relations)
	relations = tokenizer.Truncate(r.tok, relations, p.MaxTokenForGlobalContext, func(r RelationRow) string { return r.Description })

	var entities []EntityRow
	seenEnt := map[string]bool{}
	for _, rel := range relations {
		for _, name := range []string{rel.Source, rel.Target} {
			if seenEnt[name] {
				continue
			}
			seenEnt[name] = true
			row, ok, err := r.entityRow(ctx, name, rel.Score)
			if err != nil {
				return ContextSet{}, err
			}
			if ok {
				entities = append(entities, row)
			}
		}
	}
	entities = tokenizer.Truncate(r.tok, entities, p.MaxTokenForLocalContext, func(e EntityRow) string { return e.Description })

	var chunkIDs []string
	scores := map[string]float64{}
	for _, rel := range relations {
		for _, id := range rel.SourceChunkIDs {
			if _, ok := scores[id]; ok {
				continue
			}
			scores[id] = rel.Score
			chunkIDs = append(chunkIDs, id)
		}
	}
	chunks, err := r.chunkRows(ctx, chunkIDs, scores, p.MaxTokenForTextUnit)
	if err != nil {
		return ContextSet{}, err
	}
	return ContextSet{Entities: entities, Relations: relations, Chunks: chunks}, nil
}

// Hybrid runs local and global and interleaves their rows per category.
func (r *Retriever) Hybrid(ctx context.Context, kw common.Keywords, p common.QueryParam) (ContextSet, error) {
	p = WithDefaults(p)
	local, err := r.Local(ctx, kw, p)
	if err != nil {
		return ContextSet{}, err
	}
	global, err := r.Global(ctx, kw, p)
	if err != nil {
		return ContextSet{}, err
	}
	return ContextSet{
		Entities:  interleave(local.Entities, global.Entities, p.TopK, func(e EntityRow) (string, float64) { return e.Name, e.Score }),
		Relations: interleave(local.Relations, global.Relations, p.TopK, func(r RelationRow) (string, float64) { return r.Key(), r.Score }),
		Chunks:    interleave(local.Chunks, global.Chunks, p.TopK, func(c ChunkRow) (string, float64) { return c.ID, c.Score }),
	}, nil
}

// Retrieve dispatches on mode. Naive uses question, the graph modes use kw.
func (r *Retriever) Retrieve(ctx context.Context, mode common.QueryMode, question string, kw common.Keywords, p common.QueryParam) (ContextSet, error) {
	switch mode {
	case common.ModeNaive:
		return r.Naive(ctx, question, p)
	case common.ModeLocal:
		return r.Local(ctx, kw, p)
	case common.ModeGlobal:
		return r.Global(ctx, kw, p)
	case common.ModeHybrid:
		return r.Hybrid(ctx, kw, p)
	default:
		return ContextSet{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
}

// interleave takes the i-th row of a and b in turn, the better scored of
// the pair first, skipping ids already taken.
func interleave[T any](a, b []T, limit int, key func(T) (string, float64)) []T {
	out := make([]T, 0, len(a)+len(b))
	seen := map[string]bool{}
	add := func(v T) {
		id, _ := key(v)
		if seen[id] {
			return
		}
		seen[id] = true
		out = append(out, v)
	}
	for i := range max(len(a), len(b)) {
		switch {
		case i >= len(a):
			add(b[i])
		case i >= len(b):
			add(a[i])
		default:
			_, sa := key(a[i])
			_, sb := key(b[i])
			if sb > sa {
				add(b[i])
				add(a[i])
			} else {
				add(a[i])
				add(b[i])
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortRelations(rows []RelationRow) {
	slices.SortStableFunc(rows, func(a, b RelationRow) int {
		if c := cmp.Compare(b.Degree, a.Degree); c != 0 {
			return c
		}
		return cmp.Compare(b.Strength, a.Strength)
	})
}

func (r *Retriever) entityRow(ctx context.Context, name string, score float64) (EntityRow, bool, error) {
	node, ok, err := r.graph.GetNode(ctx, name)
	if err != nil || !ok {
		return EntityRow{}, false, err
	}
	degree, err := r.graph.NodeDegree(ctx, name)
	if err != nil {
		return EntityRow{}, false, err
	}
	event, source := Authoritative(node.Description, node.CreatedAt)
	return EntityRow{
		Name:           node.Name,
		Type:           node.Type,
		Description:    node.Description,
		Degree:         degree,
		Score:          score,
		SourceChunkIDs: node.SourceChunkIDs,
		CreatedAt:      node.CreatedAt,
		EventTime:      event,
		TimeSource:     source,
	}, true, nil
}

func (r *Retriever) relationRow(ctx context.Context, edge common.Relation, score float64) (RelationRow, error) {
	degree, err := r.graph.EdgeDegree(ctx, edge.Source, edge.Target)
	if err != nil {
		return RelationRow{}, err
	}
	event, source := Authoritative(edge.Description, edge.CreatedAt)
	return RelationRow{
		Source:         edge.Source,
		Target:         edge.Target,
		Description:    edge.Description,
		Keywords:       edge.Keywords,
		Strength:       edge.Strength,
		Degree:         degree,
		Score:          score,
		SourceChunkIDs: edge.SourceChunkIDs,
		CreatedAt:      edge.CreatedAt,
		EventTime:      event,
		TimeSource:     source,
	}, nil
}

// entityChunkOrder orders the source chunks of entities by the entity that
// first referenced them, then by how many one-hop neighbors of that entity
// share the chunk.
func (r *Retriever) entityChunkOrder(ctx context.Context, entities []EntityRow) ([]string, map[string]float64, error) {
	type candidate struct {
		id       string
		order    int
		relation int
	}
	var cands []candidate
	scores := map[string]float64{}

	for i, e := range entities {
		neighbors, _, err := r.graph.GetNeighbors(ctx, e.Name)
		if err != nil {
			return nil, nil, err
		}
		neighborChunks := map[string]int{}
		for _, n := range neighbors {
			node, ok, err := r.graph.GetNode(ctx, n)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				continue
			}
			for _, id := range node.SourceChunkIDs {
				neighborChunks[id]++
			}
		}
		for _, id := range e.SourceChunkIDs {
			if _, ok := scores[id]; ok {
				continue
			}
			scores[id] = e.Score
			cands = append(cands, candidate{id: id, order: i, relation: neighborChunks[id]})
		}
	}

	slices.SortStableFunc(cands, func(a, b candidate) int {
		if c := cmp.Compare(a.order, b.order); c != 0 {
			return c
		}
		return cmp.Compare(b.relation, a.relation)
	})
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.id
	}
	return ids, scores, nil
}

func (r *Retriever) chunkRows(ctx context.Context, ids []string, scores map[string]float64, budget int) ([]ChunkRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	stored, err := r.chunkKV.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	if missing := len(ids) - len(stored); missing > 0 {
		logger.Debug("[Query] Source chunks missing from KV store", "missing", missing)
	}
	rows := make([]ChunkRow, 0, len(stored))
	for _, c := range stored {
		event, source := Authoritative(c.Content, c.CreatedAt)
		rows = append(rows, ChunkRow{
			ID:         c.ID,
			Content:    c.Content,
			Score:      scores[c.ID],
			CreatedAt:  c.CreatedAt,
			EventTime:  event,
			TimeSource: source,
		})
	}
	return tokenizer.Truncate(r.tok, rows, budget, func(c ChunkRow) string { return c.Content }), nil
}
