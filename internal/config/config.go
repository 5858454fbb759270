// Package config builds the process configuration from the environment,
// optionally overlaid by a YAML file named in MEDRAG_CONFIG.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/OFFIS-RIT/medrag/internal/util"
	"github.com/OFFIS-RIT/medrag/pkg/ai"
	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/rag"
	"github.com/OFFIS-RIT/medrag/pkg/store"
	"github.com/OFFIS-RIT/medrag/pkg/tokenizer"

	"github.com/go-playground/validator"
	"gopkg.in/yaml.v3"
)

// ErrMissingThreshold is returned when COSINE_THRESHOLD is not set. There
// is no default: the right value depends on the embedding model.
var ErrMissingThreshold = store.ErrMissingThreshold

type Config struct {
	Debug      bool   `yaml:"debug"`
	WorkingDir string `yaml:"working_dir" validate:"required"`

	AI      AIConfig      `yaml:"ai"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Vector  VectorConfig  `yaml:"vector"`
	Server  ServerConfig  `yaml:"server"`
	Queue   QueueConfig   `yaml:"queue"`
	Storage StorageConfig `yaml:"storage"`
}

type AIConfig struct {
	Adapter        string        `yaml:"adapter" validate:"oneof=openai ollama"`
	ChatModel      string        `yaml:"chat_model" validate:"required"`
	EmbeddingModel string        `yaml:"embedding_model" validate:"required"`
	ChatURL        string        `yaml:"chat_url"`
	ChatKey        string        `yaml:"chat_key"`
	EmbeddingURL   string        `yaml:"embedding_url"`
	EmbeddingKey   string        `yaml:"embedding_key"`
	Dimension      int           `yaml:"embedding_dim" validate:"gte=1"`
	MaxTokenSize   int           `yaml:"embedding_max_tokens" validate:"gte=1"`
	Temperature    float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	Timeout        time.Duration `yaml:"timeout"`
	Encoding       string        `yaml:"tokenizer_encoding" validate:"required"`

	MaxConcurrentCalls int           `yaml:"max_concurrent_calls" validate:"gte=1"`
	RetryAttempts      int           `yaml:"retry_attempts" validate:"gte=1,lte=10"`
	RetryMinWait       time.Duration `yaml:"retry_min_wait"`
	RetryMaxWait       time.Duration `yaml:"retry_max_wait"`
}

type IngestConfig struct {
	ChunkSize        int      `yaml:"chunk_size" validate:"gte=1"`
	ChunkOverlap     int      `yaml:"chunk_overlap" validate:"gte=0"`
	MaxGleaning      int      `yaml:"max_gleaning" validate:"gte=0,lte=10"`
	EntityTypes      []string `yaml:"entity_types" validate:"required"`
	Language         string   `yaml:"language" validate:"required"`
	SummaryThreshold int      `yaml:"summary_threshold" validate:"gte=1"`
	SummaryMaxTokens int      `yaml:"summary_max_tokens" validate:"gte=1"`
	TypeResolution   string   `yaml:"type_resolution" validate:"oneof=first latest"`
	StrengthCombine  string   `yaml:"strength_combine" validate:"oneof=max mean sum"`
}

type VectorConfig struct {
	Backend         string   `yaml:"backend" validate:"oneof=file pgvector"`
	DatabaseURL     string   `yaml:"database_url"`
	CosineThreshold *float64 `yaml:"cosine_threshold"`
	BatchSize       int      `yaml:"batch_size" validate:"gte=1"`
}

type ServerConfig struct {
	Port        string   `yaml:"port" validate:"required"`
	CORSOrigins []string `yaml:"cors_origins"`
	BodyLimit   string   `yaml:"body_limit"`
}

type QueueConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
}

// URL returns the AMQP url, empty when no host is configured.
func (q QueueConfig) URL() string {
	if q.Host == "" {
		return ""
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", q.User, q.Password, q.Host, q.Port)
}

type StorageConfig struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
}

// Enabled reports whether an S3 bucket is configured.
func (s StorageConfig) Enabled() bool { return s.Bucket != "" }

// Load reads the environment, applies the YAML overlay and validates the
// result.
func Load() (*Config, error) {
	cfg := FromEnv()
	if path := util.GetEnv("MEDRAG_CONFIG"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables and defaults only.
func FromEnv() *Config {
	return &Config{
		Debug:      util.GetEnvBool("DEBUG", false),
		WorkingDir: util.GetEnvString("WORKING_DIR", "./medrag_data"),
		AI: AIConfig{
			Adapter:        util.GetEnvString("AI_ADAPTER", "openai"),
			ChatModel:      util.GetEnvString("AI_CHAT_MODEL", "gpt-4o-mini"),
			EmbeddingModel: util.GetEnvString("AI_EMBED_MODEL", "text-embedding-3-small"),
			ChatURL:        util.GetEnv("AI_CHAT_URL"),
			ChatKey:        util.GetEnv("AI_CHAT_KEY"),
			EmbeddingURL:   util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey:   util.GetEnv("AI_EMBED_KEY"),
			Dimension:      util.GetEnvNumeric("AI_EMBED_DIM", 1536),
			MaxTokenSize:   util.GetEnvNumeric("AI_EMBED_MAX_TOKENS", 8192),
			Temperature:    util.GetEnvFloat("AI_TEMPERATURE", 0),
			Timeout:        util.GetEnvDuration("AI_TIMEOUT", 2*time.Minute),
			Encoding:       util.GetEnvString("TOKENIZER_ENCODING", tokenizer.DefaultEncoding),

			MaxConcurrentCalls: util.GetEnvNumeric("MAX_CONCURRENT_CALLS", rag.DefaultMaxConcurrentCalls),
			RetryAttempts:      util.GetEnvNumeric("RETRY_ATTEMPTS", 3),
			RetryMinWait:       util.GetEnvDuration("RETRY_MIN_WAIT", 4*time.Second),
			RetryMaxWait:       util.GetEnvDuration("RETRY_MAX_WAIT", 10*time.Second),
		},
		Ingest: IngestConfig{
			ChunkSize:        util.GetEnvNumeric("CHUNK_SIZE", rag.DefaultChunkSize),
			ChunkOverlap:     util.GetEnvNumeric("CHUNK_OVERLAP", rag.DefaultChunkOverlap),
			MaxGleaning:      util.GetEnvNumeric("MAX_GLEANING", rag.DefaultMaxGleaning),
			EntityTypes:      util.GetEnvList("ENTITY_TYPES", ai.DefaultEntityTypes),
			Language:         util.GetEnvString("LANGUAGE", ai.DefaultLanguage),
			SummaryThreshold: util.GetEnvNumeric("SUMMARY_THRESHOLD", 6),
			SummaryMaxTokens: util.GetEnvNumeric("SUMMARY_MAX_TOKENS", rag.DefaultSummaryMaxTokens),
			TypeResolution:   util.GetEnvString("TYPE_RESOLUTION", string(common.TypeFirst)),
			StrengthCombine:  util.GetEnvString("STRENGTH_COMBINE", string(common.StrengthMax)),
		},
		Vector: VectorConfig{
			Backend:         util.GetEnvString("VECTOR_BACKEND", rag.BackendFile),
			DatabaseURL:     util.GetEnv("DATABASE_URL"),
			CosineThreshold: util.GetEnvOptionalFloat("COSINE_THRESHOLD"),
			BatchSize:       util.GetEnvNumeric("EMBEDDING_BATCH_SIZE", rag.DefaultEmbeddingBatchSize),
		},
		Server: ServerConfig{
			Port:        util.GetEnvString("PORT", "8080"),
			CORSOrigins: util.GetEnvList("CORS_ORIGINS", nil),
			BodyLimit:   util.GetEnvString("BODY_LIMIT", "32M"),
		},
		Queue: QueueConfig{
			User:     util.GetEnv("RABBITMQ_USER"),
			Password: util.GetEnv("RABBITMQ_PASSWORD"),
			Host:     util.GetEnv("RABBITMQ_HOST"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
		},
		Storage: StorageConfig{
			Region:    util.GetEnv("AWS_REGION"),
			Endpoint:  util.GetEnv("AWS_ENDPOINT"),
			AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey: util.GetEnv("AWS_SECRET_KEY"),
			Bucket:    util.GetEnv("AWS_BUCKET"),
		},
	}
}

func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

// Validate checks the struct tags and the cross field rules.
func (c *Config) Validate() error {
	if c.Vector.CosineThreshold == nil {
		return ErrMissingThreshold
	}
	if t := *c.Vector.CosineThreshold; t < 0 || t > 1 {
		return fmt.Errorf("cosine threshold %v outside [0,1]", t)
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Vector.Backend == rag.BackendPgvector && c.Vector.DatabaseURL == "" {
		return fmt.Errorf("invalid config: vector backend %q needs DATABASE_URL", c.Vector.Backend)
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("invalid config: chunk overlap %d must be below chunk size %d", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	return nil
}

// RAG converts the configuration into engine options.
func (c *Config) RAG() rag.Options {
	policy := ai.DefaultRetryPolicy()
	policy.MaxAttempts = c.AI.RetryAttempts
	policy.MinWait = c.AI.RetryMinWait
	policy.MaxWait = c.AI.RetryMaxWait

	return rag.Options{
		WorkingDir:       c.WorkingDir,
		ChunkSize:        c.Ingest.ChunkSize,
		ChunkOverlap:     c.Ingest.ChunkOverlap,
		MaxGleaning:      c.Ingest.MaxGleaning,
		EntityTypes:      c.Ingest.EntityTypes,
		Language:         c.Ingest.Language,
		SummaryThreshold: c.Ingest.SummaryThreshold,
		SummaryMaxTokens: c.Ingest.SummaryMaxTokens,
		Policy: common.MergePolicy{
			Type:     common.TypeResolution(c.Ingest.TypeResolution),
			Strength: common.StrengthCombine(c.Ingest.StrengthCombine),
		},
		EmbeddingBatchSize: c.Vector.BatchSize,
		CosineThreshold:    c.Vector.CosineThreshold,
		MaxConcurrentCalls: c.AI.MaxConcurrentCalls,
		Retry:              policy,
		VectorBackend:      c.Vector.Backend,
		DatabaseURL:        c.Vector.DatabaseURL,
	}
}
