package ollama

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/medrag/pkg/ai"

	"github.com/ollama/ollama/api"
)

// Complete sends prompt with the optional system prompt and history and
// returns the assistant text.
func (c *Client) Complete(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	options := ai.ApplyOptions(opts...)
	model := options.Model
	if model == "" {
		model = c.chatModel
	}
	temperature := c.temperature
	if options.Temperature != nil {
		temperature = *options.Temperature
	}

	msgs := make([]api.Message, 0, len(options.History)+2)
	if options.SystemPrompt != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: options.SystemPrompt})
	}
	for _, m := range options.History {
		msgs = append(msgs, api.Message{Role: m.Role, Content: m.Message})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{"temperature": temperature},
	}
	if options.Format != nil {
		raw, err := json.Marshal(options.Format.Schema)
		if err != nil {
			return "", fmt.Errorf("marshal response schema: %w", err)
		}
		req.Format = raw
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var final api.ChatResponse
	if err := c.Client.Chat(rCtx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return "", classify(err)
	}

	c.usage.Add(ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	})

	return final.Message.Content, nil
}
