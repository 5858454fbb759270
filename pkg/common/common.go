package common

import (
	"slices"
	"strings"
	"time"

	"github.com/OFFIS-RIT/medrag/internal/util"
)

// GraphFieldSep joins description fragments of one entity or relation
// before they are summarized.
const GraphFieldSep = "<SEP>"

// Prefixes of the stable md5 based ids.
const (
	DocumentIDPrefix = "doc-"
	ChunkIDPrefix    = "chunk-"
	EntityIDPrefix   = "ent-"
	RelationIDPrefix = "rel-"
)

// UnknownEntityType is assigned to endpoint placeholders that were only
// referenced by a relation.
const UnknownEntityType = "UNKNOWN"

// Document is a full ingested text as stored in the full_docs KV namespace.
type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Chunk is a token bounded slice of a document and the unit of extraction.
// Chunks are never mutated after they are created.
type Chunk struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Tokens     int       `json:"tokens"`
	DocumentID string    `json:"full_doc_id"`
	OrderIndex int       `json:"chunk_order_index"`
	CreatedAt  time.Time `json:"created_at"`
}

// Entity is a graph node keyed by its normalized name.
//
// Description holds one or more fragments joined by GraphFieldSep until a
// summarization replaces them with a single paragraph. SourceChunkIDs only
// ever grows and is kept sorted.
type Entity struct {
	Name           string    `json:"name"`
	Type           string    `json:"entity_type"`
	Description    string    `json:"description"`
	SourceChunkIDs []string  `json:"source_chunk_ids"`
	CreatedAt      time.Time `json:"created_at"`
}

// Relation is an undirected graph edge. Source and Target are stored in
// lexical order, see CanonicalPair.
type Relation struct {
	Source         string    `json:"source"`
	Target         string    `json:"target"`
	Description    string    `json:"description"`
	Keywords       []string  `json:"keywords"`
	Strength       float64   `json:"weight"`
	SourceChunkIDs []string  `json:"source_chunk_ids"`
	CreatedAt      time.Time `json:"created_at"`
}

// Key returns the storage key of the relation.
func (r Relation) Key() string {
	return RelationKey(r.Source, r.Target)
}

// Canonical returns r with Source and Target in lexical order.
func (r Relation) Canonical() Relation {
	r.Source, r.Target = CanonicalPair(r.Source, r.Target)
	return r
}

// Keywords are the two keyword tiers derived from a user query.
type Keywords struct {
	HighLevel []string `json:"high_level_keywords"`
	LowLevel  []string `json:"low_level_keywords"`
}

// Empty reports whether both tiers are empty.
func (k Keywords) Empty() bool {
	return len(k.HighLevel) == 0 && len(k.LowLevel) == 0
}

// CanonicalPair orders two entity names so that (a, b) and (b, a) map to
// the same edge.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// RelationKey is the unordered pair key "a|b".
func RelationKey(a, b string) string {
	a, b = CanonicalPair(a, b)
	return a + "|" + b
}

// NormalizeName turns an extracted entity name into its id: surrounding
// quotes are stripped, whitespace is collapsed and the name is upper cased.
func NormalizeName(name string) string {
	name = CleanField(name)
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}

// CleanField trims whitespace and wrapping quotes of a raw record field.
func CleanField(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 1 {
		trimmed := strings.Trim(s, "\"'`“”")
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return s
}

// SplitFragments splits a joined description into its non empty parts.
func SplitFragments(description string) []string {
	if description == "" {
		return nil
	}
	parts := strings.Split(description, GraphFieldSep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinFragments is the inverse of SplitFragments.
func JoinFragments(fragments []string) string {
	return strings.Join(fragments, GraphFieldSep)
}

// UnionSorted merges b into a, keeping the result sorted and unique.
func UnionSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	slices.Sort(out)
	return slices.Compact(out)
}

// Clock returns the current time. Engines take a Clock so that ingestion
// timestamps can be controlled, e.g. when back-filling dated archives.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// EntityVectorID is the row id of an entity in the entities namespace.
func EntityVectorID(name string) string {
	return util.HashID(name, EntityIDPrefix)
}

// RelationVectorID is the row id of a relation in the relations namespace.
func RelationVectorID(source, target string) string {
	source, target = CanonicalPair(source, target)
	return util.HashID(source+target, RelationIDPrefix)
}
