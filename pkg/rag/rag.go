// Package rag wires chunking, extraction, merging, storage and retrieval
// into an Engine, the single object callers use to ingest documents and ask
// questions.
package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/OFFIS-RIT/medrag/internal/util"
	"github.com/OFFIS-RIT/medrag/pkg/ai"
	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/graph"
	"github.com/OFFIS-RIT/medrag/pkg/leaselock"
	"github.com/OFFIS-RIT/medrag/pkg/logger"
	"github.com/OFFIS-RIT/medrag/pkg/query"
	"github.com/OFFIS-RIT/medrag/pkg/store"
	"github.com/OFFIS-RIT/medrag/pkg/store/file"
	pgstore "github.com/OFFIS-RIT/medrag/pkg/store/pgx"
	"github.com/OFFIS-RIT/medrag/pkg/tokenizer"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrInvalidMode is returned by Query for an unknown retrieval mode.
	ErrInvalidMode = query.ErrInvalidMode
	// ErrEntityNotFound is returned by DeleteEntity for an unknown name.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrEmptyDocument is returned by Insert for blank text.
	ErrEmptyDocument = errors.New("document is empty")
)

// Vector backends.
const (
	BackendFile     = "file"
	BackendPgvector = "pgvector"
)

// Defaults for zero Options fields.
const (
	DefaultChunkSize          = 1200
	DefaultChunkOverlap       = 100
	DefaultMaxGleaning        = 1
	DefaultSummaryMaxTokens   = 500
	DefaultEmbeddingBatchSize = 32
	DefaultMaxConcurrentCalls = 4
)

// Options configures an Engine. CosineThreshold is required. Zero
// MaxGleaning and ChunkOverlap are kept as they are, other zero fields fall
// back to their defaults.
type Options struct {
	WorkingDir string

	ChunkSize    int
	ChunkOverlap int

	MaxGleaning int
	EntityTypes []string
	Language    string

	SummaryThreshold int
	SummaryMaxTokens int
	Policy           common.MergePolicy

	EmbeddingBatchSize int
	CosineThreshold    *float64

	MaxConcurrentCalls int
	Retry              util.RetryPolicy

	VectorBackend string
	DatabaseURL   string

	// Now stamps created_at of new documents. Ingesting dated archives
	// with a fixed clock keeps their original time.
	Now common.Clock
}

func (o Options) withDefaults() Options {
	if o.WorkingDir == "" {
		o.WorkingDir = "."
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = min(DefaultChunkOverlap, o.ChunkSize/2)
	}
	if o.MaxGleaning < 0 {
		o.MaxGleaning = DefaultMaxGleaning
	}
	if len(o.EntityTypes) == 0 {
		o.EntityTypes = ai.DefaultEntityTypes
	}
	if o.Language == "" {
		o.Language = ai.DefaultLanguage
	}
	if o.SummaryThreshold <= 0 {
		o.SummaryThreshold = graph.DefaultSummaryThreshold
	}
	if o.SummaryMaxTokens <= 0 {
		o.SummaryMaxTokens = DefaultSummaryMaxTokens
	}
	if o.Policy == (common.MergePolicy{}) {
		o.Policy = common.DefaultMergePolicy()
	}
	if o.EmbeddingBatchSize <= 0 {
		o.EmbeddingBatchSize = DefaultEmbeddingBatchSize
	}
	if o.MaxConcurrentCalls <= 0 {
		o.MaxConcurrentCalls = DefaultMaxConcurrentCalls
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = ai.DefaultRetryPolicy()
	}
	if o.VectorBackend == "" {
		o.VectorBackend = BackendFile
	}
	if o.Now == nil {
		o.Now = common.SystemClock
	}
	return o
}

// Engine is the ingestion and query service. All methods are safe for
// concurrent use; ingestion and deletes are serialized, queries are not.
type Engine struct {
	opts Options

	completer ai.Completer
	tok       tokenizer.Tokenizer

	graph      *file.GraphStore
	entities   store.VectorStorage
	relations  store.VectorStorage
	chunks     store.VectorStorage
	fullDocs   store.KVStorage[common.Document]
	textChunks store.KVStorage[common.Chunk]

	extractor *graph.Extractor
	merger    *graph.Merger
	retriever *query.Retriever

	ingestMu sync.Mutex

	pool  *pgxpool.Pool
	lease *leaselock.Lease
}

type NewEngineParams struct {
	Completer ai.Completer
	Embedder  ai.Embedder
	// Tokenizer defaults to tiktoken with tokenizer.DefaultEncoding.
	Tokenizer tokenizer.Tokenizer
	Options   Options
}

// New opens or creates the stores in Options.WorkingDir. With the pgvector
// backend it also migrates the schema and takes the writer lease, failing
// with leaselock.ErrBusy when another process holds it.
func New(ctx context.Context, params NewEngineParams) (*Engine, error) {
	if params.Completer == nil || params.Embedder == nil {
		return nil, errors.New("engine: completer and embedder are required")
	}
	opts := params.Options.withDefaults()
	if opts.CosineThreshold == nil {
		return nil, store.ErrMissingThreshold
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.WorkingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create working dir: %w", err)
	}

	tok := params.Tokenizer
	if tok == nil {
		tt, err := tokenizer.NewTiktoken(tokenizer.DefaultEncoding)
		if err != nil {
			return nil, err
		}
		tok = tt
	}

	limiter := ai.NewLimiter(opts.MaxConcurrentCalls)
	completer := ai.NewLimitedCompleter(ai.NewRetryingCompleter(params.Completer, opts.Retry), limiter)
	embedder := ai.NewLimitedEmbedder(ai.NewRetryingEmbedder(params.Embedder, opts.Retry), limiter)

	e := &Engine{opts: opts, completer: completer, tok: tok}
	if err := e.openStores(ctx, embedder); err != nil {
		e.closeBackend(ctx)
		return nil, err
	}

	e.extractor = graph.NewExtractor(graph.NewExtractorParams{
		Completer:   completer,
		EntityTypes: opts.EntityTypes,
		Language:    opts.Language,
		MaxGleaning: opts.MaxGleaning,
	})
	merger, err := graph.NewMerger(graph.NewMergerParams{
		Graph:            e.graph,
		Entities:         e.entities,
		Relations:        e.relations,
		Chunks:           e.chunks,
		Summarizer:       graph.NewSummarizer(completer, tok, opts.Language, opts.SummaryMaxTokens),
		Policy:           opts.Policy,
		SummaryThreshold: opts.SummaryThreshold,
	})
	if err != nil {
		e.closeBackend(ctx)
		return nil, err
	}
	e.merger = merger
	retriever, err := query.NewRetriever(query.NewRetrieverParams{
		Graph:     e.graph,
		Entities:  e.entities,
		Relations: e.relations,
		Chunks:    e.chunks,
		ChunkKV:   e.textChunks,
		Tokenizer: tok,
	})
	if err != nil {
		e.closeBackend(ctx)
		return nil, err
	}
	e.retriever = retriever

	logger.Info("[Engine] Ready",
		"working_dir", opts.WorkingDir,
		"vector_backend", opts.VectorBackend,
		"threshold", *opts.CosineThreshold,
	)
	return e, nil
}

func (e *Engine) openStores(ctx context.Context, embedder ai.Embedder) error {
	dir := e.opts.WorkingDir
	var err error
	if e.graph, err = file.NewGraphStore(dir, e.opts.Policy); err != nil {
		return err
	}
	if e.fullDocs, err = file.NewKVStore[common.Document](dir, store.NamespaceFullDocs); err != nil {
		return err
	}
	if e.textChunks, err = file.NewKVStore[common.Chunk](dir, store.NamespaceTextChunks); err != nil {
		return err
	}

	var open func(namespace string) (store.VectorStorage, error)
	switch e.opts.VectorBackend {
	case BackendFile:
		open = func(namespace string) (store.VectorStorage, error) {
			return file.NewVectorStore(file.NewVectorStoreParams{
				Dir:       dir,
				Namespace: namespace,
				Embedder:  embedder,
				BatchSize: e.opts.EmbeddingBatchSize,
				Threshold: e.opts.CosineThreshold,
				Now:       e.opts.Now,
			})
		}
	case BackendPgvector:
		if err := e.openPgvector(ctx); err != nil {
			return err
		}
		open = func(namespace string) (store.VectorStorage, error) {
			return pgstore.NewVectorStorage(pgstore.NewVectorStorageParams{
				Conn:      e.pool,
				Namespace: namespace,
				Embedder:  embedder,
				BatchSize: e.opts.EmbeddingBatchSize,
				Threshold: e.opts.CosineThreshold,
				Now:       e.opts.Now,
			})
		}
	default:
		return fmt.Errorf("unknown vector backend %q", e.opts.VectorBackend)
	}

	if e.entities, err = open(store.NamespaceEntities); err != nil {
		return err
	}
	if e.relations, err = open(store.NamespaceRelations); err != nil {
		return err
	}
	if e.chunks, err = open(store.NamespaceChunks); err != nil {
		return err
	}
	return nil
}

func (e *Engine) openPgvector(ctx context.Context) error {
	if e.opts.DatabaseURL == "" {
		return errors.New("pgvector backend needs a database url")
	}
	if err := pgstore.Migrate(e.opts.DatabaseURL); err != nil {
		return err
	}
	pool, err := pgstore.Connect(ctx, e.opts.DatabaseURL)
	if err != nil {
		return err
	}
	e.pool = pool

	lease, err := leaselock.New(pool).Acquire(ctx, leaselock.WriterKey(e.opts.WorkingDir), leaselock.Options{TokenPrefix: "engine-"})
	if err != nil {
		return fmt.Errorf("acquire writer lease: %w", err)
	}
	e.lease = lease
	return nil
}

// writable fails once the writer lease has been lost.
func (e *Engine) writable() error {
	if e.lease == nil {
		return nil
	}
	if err := e.lease.Context.Err(); err != nil {
		return context.Cause(e.lease.Context)
	}
	return nil
}

// Close flushes every store and releases the backend.
func (e *Engine) Close(ctx context.Context) error {
	err := e.Flush(ctx)
	e.closeBackend(ctx)
	return err
}

func (e *Engine) closeBackend(ctx context.Context) {
	if e.lease != nil {
		if err := e.lease.Release(ctx); err != nil {
			logger.Warn("[Engine] Releasing writer lease failed", "err", err)
		}
		e.lease = nil
	}
	if e.pool != nil {
		e.pool.Close()
		e.pool = nil
	}
}
