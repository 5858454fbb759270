package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/medrag/pkg/ai"

	"github.com/openai/openai-go/v3"
)

func (c *Client) Dimension() int    { return c.dimension }
func (c *Client) MaxTokenSize() int { return c.maxTokenSize }

// Embed returns one vector per input in input order. Blank inputs map to
// zero vectors without a request.
func (c *Client) Embed(ctx context.Context, input []string) ([][]float32, error) {
	out := make([][]float32, len(input))
	idxMap := make([]int, 0, len(input))
	nonEmpty := make([]string, 0, len(input))
	for i, in := range input {
		if strings.TrimSpace(in) == "" {
			out[i] = make([]float32, c.dimension)
			continue
		}
		idxMap = append(idxMap, i)
		nonEmpty = append(nonEmpty, in)
	}
	if len(nonEmpty) == 0 {
		return out, nil
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: nonEmpty},
		Model: c.embeddingModel,
	}

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(rCtx, body)
	if err != nil {
		return nil, classify(err)
	}
	c.usage.Add(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	// a short answer is passed through so the vector store can reject the batch
	for _, embedding := range response.Data {
		dataIdx := int(embedding.Index)
		if dataIdx < 0 || dataIdx >= len(nonEmpty) {
			return nil, fmt.Errorf("embedding index out of range: %d", embedding.Index)
		}
		out[idxMap[dataIdx]] = fitDimension(embedding.Embedding, c.dimension)
	}

	result := make([][]float32, 0, len(out))
	for _, vec := range out {
		if vec != nil {
			result = append(result, vec)
		}
	}
	return result, nil
}

func fitDimension(values []float64, dim int) []float32 {
	if dim <= 0 {
		dim = len(values)
	}
	vec := make([]float32, dim)
	for i := 0; i < dim && i < len(values); i++ {
		vec[i] = float32(values[i])
	}
	return vec
}
