package openai

import (
	"errors"
	"time"

	"github.com/OFFIS-RIT/medrag/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Client implements ai.Completer and ai.Embedder on top of an OpenAI
// compatible API. Chat and embeddings may point at different endpoints.
//
// A Client should be created using NewClient.
type Client struct {
	chatModel      string
	embeddingModel string
	dimension      int
	maxTokenSize   int
	temperature    float64
	timeout        time.Duration

	usage ai.Usage

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewClientParams configures a Client.
//
// ChatURL and EmbeddingURL may be empty for api.openai.com. Dimension is
// the declared embedding size, vectors are truncated or zero padded to it.
type NewClientParams struct {
	ChatModel      string
	EmbeddingModel string
	Dimension      int
	MaxTokenSize   int
	Temperature    float64
	Timeout        time.Duration

	ChatURL      string
	ChatKey      string
	EmbeddingURL string
	EmbeddingKey string
}

// NewClient creates a Client.
//
// Example:
//
//	client := openai.NewClient(openai.NewClientParams{
//		ChatModel:      "gpt-4o-mini",
//		EmbeddingModel: "text-embedding-3-small",
//		Dimension:      1536,
//		ChatKey:        os.Getenv("OPENAI_API_KEY"),
//		EmbeddingKey:   os.Getenv("OPENAI_API_KEY"),
//	})
func NewClient(params NewClientParams) *Client {
	if params.Timeout <= 0 {
		params.Timeout = 5 * time.Minute
	}
	if params.MaxTokenSize <= 0 {
		params.MaxTokenSize = 8192
	}
	return &Client{
		chatModel:       params.ChatModel,
		embeddingModel:  params.EmbeddingModel,
		dimension:       params.Dimension,
		maxTokenSize:    params.MaxTokenSize,
		temperature:     params.Temperature,
		timeout:         params.Timeout,
		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newOpenaiClient(baseURL string, apiKey string) *openai.Client {
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries are owned by ai.RetryPolicy
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(options...)
	return &client
}

// classify maps API errors onto the ai error classes.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ai.StatusError{StatusCode: apiErr.StatusCode, Err: err}
	}
	return err
}

// Metrics returns the usage accumulated by this client.
func (c *Client) Metrics() ai.ModelMetrics { return c.usage.Snapshot() }
