package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/logger"
	"github.com/OFFIS-RIT/medrag/pkg/store"

	"golang.org/x/sync/errgroup"
)

// DefaultSummaryThreshold is the number of distinct source chunks above
// which a description is summarized.
const DefaultSummaryThreshold = 6

// Merger turns extractions into graph and vector writes.
type Merger struct {
	graph      store.GraphStorage
	entities   store.VectorStorage
	relations  store.VectorStorage
	chunks     store.VectorStorage
	summarizer *Summarizer
	policy     common.MergePolicy
	threshold  int
}

type NewMergerParams struct {
	Graph            store.GraphStorage
	Entities         store.VectorStorage
	Relations        store.VectorStorage
	Chunks           store.VectorStorage
	Summarizer       *Summarizer
	Policy           common.MergePolicy
	SummaryThreshold int
}

func NewMerger(params NewMergerParams) (*Merger, error) {
	if err := params.Policy.Validate(); err != nil {
		return nil, err
	}
	if params.Graph == nil || params.Entities == nil || params.Relations == nil || params.Chunks == nil {
		return nil, errors.New("merger: graph and vector stores are required")
	}
	threshold := params.SummaryThreshold
	if threshold <= 0 {
		threshold = DefaultSummaryThreshold
	}
	return &Merger{
		graph:      params.Graph,
		entities:   params.Entities,
		relations:  params.Relations,
		chunks:     params.Chunks,
		summarizer: params.Summarizer,
		policy:     params.Policy,
		threshold:  threshold,
	}, nil
}

type stagedEntity struct {
	incoming common.Entity
	merged   common.Entity
	summary  string
	dropped  bool
}

type stagedRelation struct {
	incoming common.Relation
	merged   common.Relation
	summary  string
	dropped  bool
}

// Batch is the staged result of merging one document. Every vector row is
// embedded and validated, nothing has been written yet.
type Batch struct {
	entities  []stagedEntity
	relations []stagedRelation
	chunks    []common.Chunk

	EntityRecords   []store.VectorRecord
	RelationRecords []store.VectorRecord
	Placeholders    []string
	Summarized      int

	entityRows   []store.EmbeddedRecord
	relationRows []store.EmbeddedRecord
	chunkRows    []store.EmbeddedRecord

	// Rejected holds the ids of vector rows whose embedding batch failed
	// validation. DroppedChunks are the chunks whose facts were not fully
	// applied because of them; they are not stored so a later insert
	// extracts them again.
	Rejected      []string
	DroppedChunks []string
}

// Entities returns the final values of the entities that will be written.
func (b *Batch) Entities() []common.Entity {
	out := make([]common.Entity, 0, len(b.entities))
	for _, e := range b.entities {
		if !e.dropped {
			out = append(out, e.merged)
		}
	}
	return out
}

// Relations returns the final values of the relations that will be written.
func (b *Batch) Relations() []common.Relation {
	out := make([]common.Relation, 0, len(b.relations))
	for _, r := range b.relations {
		if !r.dropped {
			out = append(out, r.merged)
		}
	}
	return out
}

// Chunks returns the chunks that will be stored with the batch.
func (b *Batch) Chunks() []common.Chunk {
	return b.chunks
}

// ApplyResult reports what Apply wrote.
type ApplyResult struct {
	Entities  int
	Relations int
	Rejected  []string
}

// Stage groups the candidates of extractions, merges them against the
// current graph, summarizes long descriptions and embeds the vector rows of
// every new or changed fact and of chunks. Facts whose rows were rejected
// are left out of the batch together with everything depending on them.
// Stage writes nothing, so an error or a cancellation leaves every store as
// it was. Callers must hold the ingest lock from Stage until Apply returns.
func (m *Merger) Stage(ctx context.Context, extractions []Extraction, chunks []common.Chunk) (*Batch, error) {
	entityOrder, entityCands := groupEntities(extractions, m.policy)
	relationOrder, relationCands := groupRelations(extractions, m.policy)

	batch := &Batch{}

	// endpoints that exist neither in the batch nor in the graph
	for _, key := range relationOrder {
		r := relationCands[key]
		for _, name := range []string{r.Source, r.Target} {
			if _, ok := entityCands[name]; ok {
				continue
			}
			_, exists, err := m.graph.GetNode(ctx, name)
			if err != nil {
				return nil, err
			}
			if exists {
				continue
			}
			entityCands[name] = common.Entity{
				Name:           name,
				Type:           common.UnknownEntityType,
				SourceChunkIDs: slices.Clone(r.SourceChunkIDs),
				CreatedAt:      r.CreatedAt,
			}
			entityOrder = append(entityOrder, name)
			batch.Placeholders = append(batch.Placeholders, name)
		}
	}

	prevEntities := map[string]string{}
	for _, name := range entityOrder {
		cand := entityCands[name]
		existing, ok, err := m.graph.GetNode(ctx, name)
		if err != nil {
			return nil, err
		}
		var cur *common.Entity
		if ok {
			cur = &existing
			prevEntities[name] = existing.Description
		}
		merged, changed := common.MergeEntity(cur, cand, m.policy)
		if !changed {
			continue
		}
		batch.entities = append(batch.entities, stagedEntity{incoming: cand, merged: merged})
	}

	prevRelations := map[string]string{}
	for _, key := range relationOrder {
		cand := relationCands[key]
		existing, ok, err := m.graph.GetEdge(ctx, cand.Source, cand.Target)
		if err != nil {
			return nil, err
		}
		var cur *common.Relation
		if ok {
			cur = &existing
			prevRelations[key] = existing.Description
		}
		merged, changed := common.MergeRelation(cur, cand, m.policy)
		if !changed {
			continue
		}
		batch.relations = append(batch.relations, stagedRelation{incoming: cand, merged: merged})
	}

	if err := m.summarize(ctx, batch, prevEntities, prevRelations); err != nil {
		return nil, err
	}

	for _, e := range batch.entities {
		prev, existed := prevEntities[e.merged.Name]
		if existed && prev == e.merged.Description {
			continue
		}
		batch.EntityRecords = append(batch.EntityRecords, EntityRecord(e.merged))
	}
	for _, r := range batch.relations {
		prev, existed := prevRelations[r.merged.Key()]
		if existed && prev == r.merged.Description {
			continue
		}
		batch.RelationRecords = append(batch.RelationRecords, RelationRecord(r.merged))
	}

	if err := m.embed(ctx, batch, chunks); err != nil {
		return nil, err
	}
	if err := m.prune(ctx, batch, chunks); err != nil {
		return nil, err
	}
	return batch, nil
}

// embed computes the rows of all three namespaces. Any provider error or
// cancellation fails the whole batch.
func (m *Merger) embed(ctx context.Context, batch *Batch, chunks []common.Chunk) error {
	chunkRecords := make([]store.VectorRecord, 0, len(chunks))
	for _, c := range chunks {
		chunkRecords = append(chunkRecords, ChunkRecord(c))
	}

	var entities, relations, chunkRows store.Embedded
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if entities, err = m.entities.Embed(gCtx, batch.EntityRecords); err != nil {
			return fmt.Errorf("embed entities: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if relations, err = m.relations.Embed(gCtx, batch.RelationRecords); err != nil {
			return fmt.Errorf("embed relations: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if chunkRows, err = m.chunks.Embed(gCtx, chunkRecords); err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	batch.entityRows = entities.Rows
	batch.relationRows = relations.Rows
	batch.chunkRows = chunkRows.Rows
	batch.Rejected = slices.Concat(entities.Rejected, relations.Rejected, chunkRows.Rejected)
	return nil
}

// prune drops the facts whose rows were rejected. A relation whose new
// endpoint was dropped goes as well. The chunks behind anything dropped are
// held back; the facts already merged from them are idempotent on the next
// attempt, because a recorded source chunk never changes a fact again.
func (m *Merger) prune(ctx context.Context, batch *Batch, chunks []common.Chunk) error {
	if len(batch.Rejected) == 0 {
		batch.chunks = chunks
		return nil
	}
	rejected := make(map[string]bool, len(batch.Rejected))
	for _, id := range batch.Rejected {
		rejected[id] = true
	}
	held := map[string]bool{}
	for _, c := range chunks {
		if rejected[c.ID] {
			held[c.ID] = true
		}
	}

	droppedEntities := map[string]bool{}
	for i := range batch.entities {
		e := &batch.entities[i]
		if !rejected[common.EntityVectorID(e.merged.Name)] {
			continue
		}
		e.dropped = true
		droppedEntities[e.merged.Name] = true
		for _, id := range e.incoming.SourceChunkIDs {
			held[id] = true
		}
	}
	for i := range batch.relations {
		r := &batch.relations[i]
		drop := rejected[common.RelationVectorID(r.merged.Source, r.merged.Target)]
		for _, name := range []string{r.merged.Source, r.merged.Target} {
			if drop || !droppedEntities[name] {
				continue
			}
			_, exists, err := m.graph.GetNode(ctx, name)
			if err != nil {
				return err
			}
			drop = !exists
		}
		if !drop {
			continue
		}
		r.dropped = true
		for _, id := range r.incoming.SourceChunkIDs {
			held[id] = true
		}
	}

	keep := map[string]bool{}
	for _, e := range batch.entities {
		if !e.dropped {
			keep[common.EntityVectorID(e.merged.Name)] = true
		}
	}
	for _, r := range batch.relations {
		if !r.dropped {
			keep[common.RelationVectorID(r.merged.Source, r.merged.Target)] = true
		}
	}
	for _, c := range chunks {
		if held[c.ID] {
			batch.DroppedChunks = append(batch.DroppedChunks, c.ID)
			continue
		}
		keep[c.ID] = true
		batch.chunks = append(batch.chunks, c)
	}
	filter := func(rows []store.EmbeddedRecord) []store.EmbeddedRecord {
		return slices.DeleteFunc(rows, func(r store.EmbeddedRecord) bool { return !keep[r.ID] })
	}
	batch.entityRows = filter(batch.entityRows)
	batch.relationRows = filter(batch.relationRows)
	batch.chunkRows = filter(batch.chunkRows)

	logger.Warn("[Merge] Dropped facts with rejected embeddings",
		"rejected", len(batch.Rejected),
		"entities", len(droppedEntities),
		"held_chunks", len(batch.DroppedChunks),
	)
	return nil
}

func (m *Merger) needsSummary(sources int, description, previous string, existed bool) bool {
	if m.summarizer == nil || sources <= m.threshold {
		return false
	}
	if existed && description == previous {
		return false
	}
	return len(common.SplitFragments(description)) > 1
}

// summarize replaces staged descriptions in place. A failed summary keeps
// the joined fragments, only cancellation aborts.
func (m *Merger) summarize(ctx context.Context, batch *Batch, prevEntities, prevRelations map[string]string) error {
	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)

	for i := range batch.entities {
		e := &batch.entities[i].merged
		prev, existed := prevEntities[e.Name]
		if !m.needsSummary(len(e.SourceChunkIDs), e.Description, prev, existed) {
			continue
		}
		g.Go(func() error {
			summary, err := m.summarizer.Summarize(gCtx, e.Name, common.SplitFragments(e.Description))
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				logger.Warn("[Merge] Keeping unsummarized description", "entity", e.Name, "err", err)
				return nil
			}
			mu.Lock()
			batch.entities[i].summary = summary
			e.Description = summary
			batch.Summarized++
			mu.Unlock()
			return nil
		})
	}
	for i := range batch.relations {
		r := &batch.relations[i].merged
		prev, existed := prevRelations[r.Key()]
		if !m.needsSummary(len(r.SourceChunkIDs), r.Description, prev, existed) {
			continue
		}
		g.Go(func() error {
			summary, err := m.summarizer.Summarize(gCtx, r.Source+", "+r.Target, common.SplitFragments(r.Description))
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				logger.Warn("[Merge] Keeping unsummarized description", "relation", r.Key(), "err", err)
				return nil
			}
			mu.Lock()
			batch.relations[i].summary = summary
			r.Description = summary
			batch.Summarized++
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// Apply writes a staged batch: vector rows first, then graph nodes and
// edges, then summaries through the replace mode.
func (m *Merger) Apply(ctx context.Context, batch *Batch) (ApplyResult, error) {
	result := ApplyResult{Rejected: batch.Rejected}

	if _, err := m.entities.Write(ctx, batch.entityRows); err != nil {
		return result, fmt.Errorf("write entity vectors: %w", err)
	}
	if _, err := m.relations.Write(ctx, batch.relationRows); err != nil {
		return result, fmt.Errorf("write relation vectors: %w", err)
	}
	if _, err := m.chunks.Write(ctx, batch.chunkRows); err != nil {
		return result, fmt.Errorf("write chunk vectors: %w", err)
	}

	for _, e := range batch.entities {
		if e.dropped {
			continue
		}
		if _, _, err := m.graph.UpsertNode(ctx, e.incoming); err != nil {
			return result, err
		}
		if e.summary != "" {
			if err := m.graph.ReplaceNodeDescription(ctx, e.merged.Name, e.summary); err != nil {
				return result, err
			}
		}
		result.Entities++
	}
	for _, r := range batch.relations {
		if r.dropped {
			continue
		}
		if _, _, err := m.graph.UpsertEdge(ctx, r.incoming); err != nil {
			return result, err
		}
		if r.summary != "" {
			if err := m.graph.ReplaceEdgeDescription(ctx, r.merged.Source, r.merged.Target, r.summary); err != nil {
				return result, err
			}
		}
		result.Relations++
	}

	logger.Debug("[Merge] Applied batch",
		"entities", result.Entities,
		"relations", result.Relations,
		"chunks", len(batch.chunks),
		"placeholders", len(batch.Placeholders),
		"summarized", batch.Summarized,
		"rejected", len(result.Rejected),
	)
	return result, nil
}

// EntityRecord is the vector row of an entity.
func EntityRecord(e common.Entity) store.VectorRecord {
	return store.VectorRecord{
		ID:        common.EntityVectorID(e.Name),
		Content:   strings.TrimSpace(e.Name + " " + e.Description),
		Metadata:  map[string]string{store.MetaEntityName: e.Name},
		CreatedAt: e.CreatedAt,
	}
}

// RelationRecord is the vector row of a relation.
func RelationRecord(r common.Relation) store.VectorRecord {
	r = r.Canonical()
	content := strings.Join([]string{strings.Join(r.Keywords, ", "), r.Source, r.Target, r.Description}, " ")
	return store.VectorRecord{
		ID:        common.RelationVectorID(r.Source, r.Target),
		Content:   strings.TrimSpace(content),
		Metadata:  map[string]string{store.MetaSourceID: r.Source, store.MetaTargetID: r.Target},
		CreatedAt: r.CreatedAt,
	}
}

// ChunkRecord is the vector row of a chunk.
func ChunkRecord(c common.Chunk) store.VectorRecord {
	return store.VectorRecord{
		ID:        c.ID,
		Content:   c.Content,
		Metadata:  map[string]string{store.MetaDocumentID: c.DocumentID},
		CreatedAt: c.CreatedAt,
	}
}

func groupEntities(extractions []Extraction, policy common.MergePolicy) ([]string, map[string]common.Entity) {
	var order []string
	cands := map[string]common.Entity{}
	for _, ext := range extractions {
		for _, e := range ext.Entities {
			cur, ok := cands[e.Name]
			if !ok {
				merged, _ := common.MergeEntity(nil, e, policy)
				cands[e.Name] = merged
				order = append(order, e.Name)
				continue
			}
			merged, _ := common.MergeEntity(&cur, e, policy)
			cands[e.Name] = merged
		}
	}
	return order, cands
}

func groupRelations(extractions []Extraction, policy common.MergePolicy) ([]string, map[string]common.Relation) {
	var order []string
	cands := map[string]common.Relation{}
	for _, ext := range extractions {
		for _, r := range ext.Relations {
			r = r.Canonical()
			if r.Source == "" || r.Target == "" || r.Source == r.Target {
				continue
			}
			key := r.Key()
			cur, ok := cands[key]
			if !ok {
				merged, _ := common.MergeRelation(nil, r, policy)
				cands[key] = merged
				order = append(order, key)
				continue
			}
			merged, _ := common.MergeRelation(&cur, r, policy)
			cands[key] = merged
		}
	}
	return order, cands
}
