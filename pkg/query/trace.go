package query

import (
	"slices"
	"sync"

	"github.com/OFFIS-RIT/medrag/pkg/common"
)

type TraceEventKind string

const (
	TraceEventKeywords         TraceEventKind = "keywords"
	TraceEventMode             TraceEventKind = "mode"
	TraceEventQueriedEntities  TraceEventKind = "queried_entities"
	TraceEventQueriedRelations TraceEventKind = "queried_relations"
	TraceEventUsedChunks       TraceEventKind = "used_chunks"
)

// TraceEvent is an extensible event envelope for query tracing.
type TraceEvent struct {
	Kind TraceEventKind

	Keywords common.Keywords
	Mode     common.QueryMode
	IDs      []string
}

// Tracer is a sink for query tracing events.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fans trace events out to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t != nil {
			t.Record(event)
		}
	}
}

func record(t Tracer, event TraceEvent) {
	if t != nil {
		t.Record(event)
	}
}

// QueryTrace collects what a query run looked at. It is safe for
// concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	keywords  common.Keywords
	mode      common.QueryMode
	entities  map[string]struct{}
	relations map[string]struct{}
	chunks    map[string]struct{}
}

type QueryTraceSnapshot struct {
	Keywords  common.Keywords
	Mode      common.QueryMode
	Entities  []string
	Relations []string
	Chunks    []string
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		entities:  map[string]struct{}{},
		relations: map[string]struct{}{},
		chunks:    map[string]struct{}{},
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var into map[string]struct{}
	switch event.Kind {
	case TraceEventKeywords:
		t.keywords = event.Keywords
		return
	case TraceEventMode:
		t.mode = event.Mode
		return
	case TraceEventQueriedEntities:
		into = t.entities
	case TraceEventQueriedRelations:
		into = t.relations
	case TraceEventUsedChunks:
		into = t.chunks
	default:
		return
	}
	for _, id := range event.IDs {
		if id != "" {
			into[id] = struct{}{}
		}
	}
}

// Snapshot returns the collected ids sorted.
func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return QueryTraceSnapshot{
		Keywords:  t.keywords,
		Mode:      t.mode,
		Entities:  sortedSet(t.entities),
		Relations: sortedSet(t.relations),
		Chunks:    sortedSet(t.chunks),
	}
}

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
