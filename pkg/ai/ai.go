package ai

import (
	"context"
)

// ChatMessage is one turn of a conversation handed to a Completer.
//
// Role must be one of:
//   - "user"      → a user-provided message
//   - "assistant" → a message from the model
type ChatMessage struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// UserMessage and AssistantMessage build history entries.
func UserMessage(msg string) ChatMessage      { return ChatMessage{Role: "user", Message: msg} }
func AssistantMessage(msg string) ChatMessage { return ChatMessage{Role: "assistant", Message: msg} }

// JSONSchema requests structured output from providers that support it.
type JSONSchema struct {
	Name        string
	Description string
	Schema      any
}

// GenerateOptions holds configuration for completion requests.
type GenerateOptions struct {
	Model        string        // Model identifier, empty uses the client default
	SystemPrompt string        // System prompt placed before the history
	History      []ChatMessage // Prior turns placed before the prompt
	Temperature  *float64      // Sampling temperature, nil uses the provider default
	Format       *JSONSchema   // Structured output request
}

// GenerateOption is a functional option for configuring completion requests.
type GenerateOption func(*GenerateOptions)

// ApplyOptions folds opts into a GenerateOptions value.
func ApplyOptions(opts ...GenerateOption) GenerateOptions {
	var o GenerateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithModel overrides the model of a single request.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompt sets the system prompt of the request.
func WithSystemPrompt(prompt string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompt = prompt
	}
}

// WithHistory sets the prior conversation turns.
func WithHistory(history ...ChatMessage) GenerateOption {
	return func(o *GenerateOptions) {
		o.History = history
	}
}

// WithTemperature sets the sampling temperature. Lower values make outputs
// more focused and deterministic.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = &temp
	}
}

// WithJSONSchema asks the provider to answer with an object matching the
// schema of value, see GenerateSchema.
func WithJSONSchema(name, description string, value any) GenerateOption {
	return func(o *GenerateOptions) {
		o.Format = &JSONSchema{Name: name, Description: description, Schema: GenerateSchema(value)}
	}
}

// Completer is the text completion capability.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)
}

// Embedder is the embedding capability. Embed returns one vector of
// Dimension() values per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, input []string) ([][]float32, error)
	Dimension() int
	MaxTokenSize() int
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	return f(ctx, prompt, opts...)
}

// ModelMetrics contains usage counters of a provider client.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}
