package store

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/OFFIS-RIT/medrag/pkg/common"
)

// Vector namespaces.
const (
	NamespaceEntities  = "entities"
	NamespaceRelations = "relations"
	NamespaceChunks    = "chunks"
)

// KV namespaces.
const (
	NamespaceFullDocs   = "full_docs"
	NamespaceTextChunks = "text_chunks"
)

// Vector metadata keys. Relation rows carry their endpoints so that
// deleting an entity can find them.
const (
	MetaEntityName = "entity_name"
	MetaSourceID   = "src_id"
	MetaTargetID   = "tgt_id"
	MetaDocumentID = "full_doc_id"
)

var (
	// ErrEmbeddingMismatch is reported for an embedding batch whose result
	// count differs from its input count.
	ErrEmbeddingMismatch = errors.New("embedding count mismatch")
	// ErrUnknownEncoding is returned when a persisted vector file uses an
	// encoding that cannot be migrated.
	ErrUnknownEncoding = errors.New("unknown vector file encoding")
	// ErrMissingThreshold is returned by vector store constructors without a
	// cosine similarity threshold.
	ErrMissingThreshold = errors.New("cosine similarity threshold is required")
)

// Counts are the sizes of a graph.
type Counts struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// GraphStorage stores entities as nodes and relations as undirected edges.
// Upserts merge into existing values, ReplaceNodeDescription and
// ReplaceEdgeDescription are the only operations that overwrite.
type GraphStorage interface {
	UpsertNode(ctx context.Context, entity common.Entity) (common.Entity, bool, error)
	UpsertEdge(ctx context.Context, relation common.Relation) (common.Relation, bool, error)
	ReplaceNodeDescription(ctx context.Context, name, description string) error
	ReplaceEdgeDescription(ctx context.Context, source, target, description string) error

	GetNode(ctx context.Context, name string) (common.Entity, bool, error)
	GetEdge(ctx context.Context, source, target string) (common.Relation, bool, error)
	// GetNeighbors returns false when the node does not exist.
	GetNeighbors(ctx context.Context, name string) ([]string, bool, error)
	NodeEdges(ctx context.Context, name string) ([]common.Relation, error)
	NodeDegree(ctx context.Context, name string) (int, error)
	EdgeDegree(ctx context.Context, source, target string) (int, error)

	DeleteNodeCascade(ctx context.Context, name string) ([]common.Relation, error)

	Nodes(ctx context.Context, limit int) ([]common.Entity, error)
	Edges(ctx context.Context, limit int) ([]common.Relation, error)
	Counts(ctx context.Context) (Counts, error)

	Export(w io.Writer) error
	Load(r io.Reader) error
	Flush(ctx context.Context) error
}

// VectorRecord is one row to embed and store.
type VectorRecord struct {
	ID        string
	Content   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// VectorMatch is a query hit.
type VectorMatch struct {
	ID        string
	Score     float64
	Metadata  map[string]string
	CreatedAt time.Time
}

// UpsertResult reports which records of an upsert were stored.
type UpsertResult struct {
	Inserted []string
	Rejected []string
}

// Embedded is the outcome of embedding a set of records. Rows are ready to
// be written, Rejected lists the ids of batches that failed validation.
type Embedded struct {
	Rows     []EmbeddedRecord
	Rejected []string
}

// VectorStorage is one namespace of the embedding index.
//
// Upsert is Embed followed by Write. Callers that must validate several
// namespaces before touching any of them call the two phases themselves.
type VectorStorage interface {
	Namespace() string
	Upsert(ctx context.Context, records []VectorRecord) (UpsertResult, error)
	// Embed computes and validates the rows of records without storing
	// anything. An error means no row is usable.
	Embed(ctx context.Context, records []VectorRecord) (Embedded, error)
	// Write stores rows produced by Embed and returns their ids.
	Write(ctx context.Context, rows []EmbeddedRecord) ([]string, error)
	// Query returns at most topK matches with a score at or above the
	// configured threshold, best first.
	Query(ctx context.Context, text string, topK int) ([]VectorMatch, error)
	Delete(ctx context.Context, ids []string) error
	// DeleteByEntity removes the entity row of name and every row whose
	// src_id or tgt_id metadata equals name.
	DeleteByEntity(ctx context.Context, name string) error
	Count(ctx context.Context) (int, error)
	Flush(ctx context.Context) error
}

// KVStorage is a JSON document store keyed by id.
type KVStorage[T any] interface {
	Get(ctx context.Context, id string) (T, bool, error)
	GetMany(ctx context.Context, ids []string) ([]T, error)
	// FilterNew returns the ids that are not stored yet, in input order.
	FilterNew(ctx context.Context, ids []string) ([]string, error)
	Upsert(ctx context.Context, values map[string]T) error
	Count(ctx context.Context) (int, error)
	Flush(ctx context.Context) error
}
