package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/logger"
	"github.com/OFFIS-RIT/medrag/pkg/store"
)

// GraphFileName is the graph export inside the working directory.
const GraphFileName = "graph_chunk_entity_relation.json"

// GraphStore keeps the knowledge graph in memory and persists it as one
// JSON document.
type GraphStore struct {
	path   string
	policy common.MergePolicy

	mu    sync.RWMutex
	nodes map[string]common.Entity
	edges map[string]common.Relation
	adj   map[string]map[string]struct{}
	gen   uint64
	saved uint64

	flushMu sync.Mutex
}

type graphDocument struct {
	Nodes []common.Entity   `json:"nodes"`
	Edges []common.Relation `json:"edges"`
}

// NewGraphStore loads dir/graph_chunk_entity_relation.json if present.
func NewGraphStore(dir string, policy common.MergePolicy) (*GraphStore, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	g := &GraphStore{path: filepath.Join(dir, GraphFileName), policy: policy}
	g.reset()

	raw, err := readFileIfExists(g.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", g.path, err)
	}
	if raw != nil {
		if err := g.Load(strings.NewReader(string(raw))); err != nil {
			return nil, fmt.Errorf("load %s: %w", g.path, err)
		}
		g.saved = g.gen
	}
	return g, nil
}

func (g *GraphStore) reset() {
	g.nodes = map[string]common.Entity{}
	g.edges = map[string]common.Relation{}
	g.adj = map[string]map[string]struct{}{}
}

func (g *GraphStore) UpsertNode(_ context.Context, entity common.Entity) (common.Entity, bool, error) {
	if entity.Name == "" {
		return common.Entity{}, false, fmt.Errorf("upsert node: empty name")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var existing *common.Entity
	if cur, ok := g.nodes[entity.Name]; ok {
		existing = &cur
	}
	merged, changed := common.MergeEntity(existing, entity, g.policy)
	if changed {
		g.nodes[merged.Name] = merged
		if g.adj[merged.Name] == nil {
			g.adj[merged.Name] = map[string]struct{}{}
		}
		g.gen++
	}
	return merged, changed, nil
}

// UpsertEdge merges relation into the graph. Both endpoints must exist.
func (g *GraphStore) UpsertEdge(_ context.Context, relation common.Relation) (common.Relation, bool, error) {
	relation = relation.Canonical()
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, name := range []string{relation.Source, relation.Target} {
		if _, ok := g.nodes[name]; !ok {
			return common.Relation{}, false, fmt.Errorf("upsert edge %s: endpoint %q does not exist", relation.Key(), name)
		}
	}

	key := relation.Key()
	var existing *common.Relation
	if cur, ok := g.edges[key]; ok {
		existing = &cur
	}
	merged, changed := common.MergeRelation(existing, relation, g.policy)
	if changed {
		g.edges[key] = merged
		g.adj[merged.Source][merged.Target] = struct{}{}
		g.adj[merged.Target][merged.Source] = struct{}{}
		g.gen++
	}
	return merged, changed, nil
}

func (g *GraphStore) ReplaceNodeDescription(_ context.Context, name, description string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[name]
	if !ok {
		return fmt.Errorf("replace description: node %q does not exist", name)
	}
	node.Description = description
	g.nodes[name] = node
	g.gen++
	return nil
}

func (g *GraphStore) ReplaceEdgeDescription(_ context.Context, source, target, description string) error {
	key := common.RelationKey(source, target)
	g.mu.Lock()
	defer g.mu.Unlock()
	edge, ok := g.edges[key]
	if !ok {
		return fmt.Errorf("replace description: edge %s does not exist", key)
	}
	edge.Description = description
	g.edges[key] = edge
	g.gen++
	return nil
}

func (g *GraphStore) GetNode(_ context.Context, name string) (common.Entity, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[name]
	return node, ok, nil
}

func (g *GraphStore) GetEdge(_ context.Context, source, target string) (common.Relation, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edge, ok := g.edges[common.RelationKey(source, target)]
	return edge, ok, nil
}

func (g *GraphStore) GetNeighbors(_ context.Context, name string) ([]string, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	neighbors, ok := g.adj[name]
	if !ok {
		return nil, false, nil
	}
	return sortedKeys(neighbors), true, nil
}

// NodeEdges returns the edges incident to name ordered by the neighbor name.
func (g *GraphStore) NodeEdges(_ context.Context, name string) ([]common.Relation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	neighbors := sortedKeys(g.adj[name])
	out := make([]common.Relation, 0, len(neighbors))
	for _, n := range neighbors {
		out = append(out, g.edges[common.RelationKey(name, n)])
	}
	return out, nil
}

func (g *GraphStore) NodeDegree(_ context.Context, name string) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.adj[name]), nil
}

// EdgeDegree is the sum of the endpoint degrees.
func (g *GraphStore) EdgeDegree(_ context.Context, source, target string) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.adj[source]) + len(g.adj[target]), nil
}

// DeleteNodeCascade removes name and every incident edge, returning the
// removed edges. Deleting a missing node is not an error.
func (g *GraphStore) DeleteNodeCascade(_ context.Context, name string) ([]common.Relation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[name]; !ok {
		return nil, nil
	}

	var removed []common.Relation
	for _, n := range sortedKeys(g.adj[name]) {
		key := common.RelationKey(name, n)
		removed = append(removed, g.edges[key])
		delete(g.edges, key)
		delete(g.adj[n], name)
	}
	delete(g.adj, name)
	delete(g.nodes, name)
	g.gen++
	logger.Debug("[Graph] Deleted node", "name", name, "edges", len(removed))
	return removed, nil
}

// Nodes returns up to limit nodes ordered by name, limit <= 0 returns all.
func (g *GraphStore) Nodes(_ context.Context, limit int) ([]common.Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := sortedKeys(g.nodes)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	out := make([]common.Entity, 0, len(names))
	for _, n := range names {
		out = append(out, g.nodes[n])
	}
	return out, nil
}

// Edges returns up to limit edges ordered by key, limit <= 0 returns all.
func (g *GraphStore) Edges(_ context.Context, limit int) ([]common.Relation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	keys := sortedKeys(g.edges)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]common.Relation, 0, len(keys))
	for _, k := range keys {
		out = append(out, g.edges[k])
	}
	return out, nil
}

func (g *GraphStore) Counts(context.Context) (store.Counts, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return store.Counts{Nodes: len(g.nodes), Edges: len(g.edges)}, nil
}

// Export writes the stable serialized form: nodes and edges sorted by key.
func (g *GraphStore) Export(w io.Writer) error {
	g.mu.RLock()
	doc := g.documentLocked()
	g.mu.RUnlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func (g *GraphStore) documentLocked() graphDocument {
	doc := graphDocument{
		Nodes: make([]common.Entity, 0, len(g.nodes)),
		Edges: make([]common.Relation, 0, len(g.edges)),
	}
	for _, n := range sortedKeys(g.nodes) {
		doc.Nodes = append(doc.Nodes, g.nodes[n])
	}
	for _, k := range sortedKeys(g.edges) {
		doc.Edges = append(doc.Edges, g.edges[k])
	}
	return doc
}

// Load replaces the graph with an exported document.
func (g *GraphStore) Load(r io.Reader) error {
	var doc graphDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("decode graph: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.reset()
	for _, n := range doc.Nodes {
		g.nodes[n.Name] = n
		g.adj[n.Name] = map[string]struct{}{}
	}
	for _, e := range doc.Edges {
		e = e.Canonical()
		if _, ok := g.nodes[e.Source]; !ok {
			return fmt.Errorf("edge %s references missing node %q", e.Key(), e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return fmt.Errorf("edge %s references missing node %q", e.Key(), e.Target)
		}
		g.edges[e.Key()] = e
		g.adj[e.Source][e.Target] = struct{}{}
		g.adj[e.Target][e.Source] = struct{}{}
	}
	g.gen++
	return nil
}

// Flush writes the graph file if it changed since the last flush.
func (g *GraphStore) Flush(context.Context) error {
	g.flushMu.Lock()
	defer g.flushMu.Unlock()

	g.mu.RLock()
	if g.gen == g.saved {
		g.mu.RUnlock()
		return nil
	}
	gen := g.gen
	doc := g.documentLocked()
	g.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	if err := writeFileAtomic(g.path, data); err != nil {
		return err
	}

	g.mu.Lock()
	g.saved = gen
	g.mu.Unlock()
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
