// Package bootstrap turns a loaded Config into the engine and its
// collaborators. The binaries share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/medrag/internal/config"
	"github.com/OFFIS-RIT/medrag/internal/storage"
	"github.com/OFFIS-RIT/medrag/pkg/ai"
	oai "github.com/OFFIS-RIT/medrag/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/medrag/pkg/ai/openai"
	"github.com/OFFIS-RIT/medrag/pkg/loader"
	ioloader "github.com/OFFIS-RIT/medrag/pkg/loader/io"
	s3loader "github.com/OFFIS-RIT/medrag/pkg/loader/s3"
	"github.com/OFFIS-RIT/medrag/pkg/loader/web"
	"github.com/OFFIS-RIT/medrag/pkg/logger"
	"github.com/OFFIS-RIT/medrag/pkg/logger/console"
	"github.com/OFFIS-RIT/medrag/pkg/rag"
	"github.com/OFFIS-RIT/medrag/pkg/tokenizer"
)

// Model is a chat and embedding client.
type Model interface {
	ai.Completer
	ai.Embedder
	Metrics() ai.ModelMetrics
}

// InitLogger installs the console logger.
func InitLogger(cfg *config.Config, prefix string) {
	logger.Init(console.New(console.Params{Debug: cfg.Debug, Prefix: prefix}))
}

// NewModel creates the client selected by AI_ADAPTER.
func NewModel(cfg config.AIConfig) (Model, error) {
	switch cfg.Adapter {
	case "ollama":
		client, err := oai.NewClient(oai.NewClientParams{
			ChatModel:      cfg.ChatModel,
			EmbeddingModel: cfg.EmbeddingModel,
			Dimension:      cfg.Dimension,
			MaxTokenSize:   cfg.MaxTokenSize,
			Temperature:    cfg.Temperature,
			Timeout:        cfg.Timeout,
			BaseURL:        cfg.ChatURL,
			APIKey:         cfg.ChatKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return client, nil
	case "openai", "":
		return gai.NewClient(gai.NewClientParams{
			ChatModel:      cfg.ChatModel,
			EmbeddingModel: cfg.EmbeddingModel,
			Dimension:      cfg.Dimension,
			MaxTokenSize:   cfg.MaxTokenSize,
			Temperature:    cfg.Temperature,
			Timeout:        cfg.Timeout,
			ChatURL:        cfg.ChatURL,
			ChatKey:        cfg.ChatKey,
			EmbeddingURL:   cfg.EmbeddingURL,
			EmbeddingKey:   cfg.EmbeddingKey,
		}), nil
	default:
		return nil, fmt.Errorf("unknown AI adapter %q", cfg.Adapter)
	}
}

// NewEngine builds the model client and opens the engine.
func NewEngine(ctx context.Context, cfg *config.Config) (*rag.Engine, Model, error) {
	model, err := NewModel(cfg.AI)
	if err != nil {
		return nil, nil, err
	}
	tok, err := tokenizer.NewTiktoken(cfg.AI.Encoding)
	if err != nil {
		return nil, nil, err
	}
	engine, err := rag.New(ctx, rag.NewEngineParams{
		Completer: model,
		Embedder:  model,
		Tokenizer: tok,
		Options:   cfg.RAG(),
	})
	if err != nil {
		return nil, nil, err
	}
	return engine, model, nil
}

// NewLoaders returns the loader set for files, URLs and, when a bucket is
// configured, S3 objects. The storage client is nil without a bucket.
func NewLoaders(ctx context.Context, cfg config.StorageConfig) (loader.Set, *storage.Client, error) {
	files := ioloader.NewLoader()
	set := loader.Set{
		File: files,
		Web:  web.NewLoader(),
	}

	client, err := storage.NewS3Client(ctx, cfg)
	if errors.Is(err, storage.ErrDisabled) {
		return set, nil, nil
	}
	if err != nil {
		return set, nil, err
	}
	set.S3 = s3loader.NewLoader(client.Bucket, client.API)
	return set, client, nil
}

// LogMetrics writes the accumulated model usage.
func LogMetrics(m Model) {
	metrics := m.Metrics()
	logger.Info(
		"AI Metrics",
		"input_tokens", metrics.InputTokens,
		"output_tokens", metrics.OutputTokens,
		"total_tokens", metrics.TotalTokens,
		"duration_ms", metrics.DurationMs,
	)
}
