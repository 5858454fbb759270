package ollama

import (
	"context"

	"github.com/OFFIS-RIT/medrag/pkg/ai"

	"github.com/ollama/ollama/api"
)

func (c *Client) Dimension() int    { return c.dimension }
func (c *Client) MaxTokenSize() int { return c.maxTokenSize }

// Embed embeds all inputs with a single request.
func (c *Client) Embed(ctx context.Context, input []string) ([][]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.Client.Embed(rCtx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: input,
	})
	if err != nil {
		return nil, classify(err)
	}

	c.usage.Add(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	out := make([][]float32, len(res.Embeddings))
	for i, vec := range res.Embeddings {
		out[i] = fitDimension(vec, c.dimension)
	}
	return out, nil
}

func fitDimension(values []float32, dim int) []float32 {
	if dim <= 0 || len(values) == dim {
		return values
	}
	vec := make([]float32, dim)
	copy(vec, values)
	return vec
}
