package openai

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/medrag/pkg/ai"
	"github.com/OFFIS-RIT/medrag/pkg/logger"

	"github.com/openai/openai-go/v3"
)

// Complete sends prompt, preceded by the optional system prompt and history,
// to the chat model and returns the generated text.
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

	msgs := []openai.ChatCompletionMessageParamUnion{}
	if options.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(options.SystemPrompt))
	}
	for _, m := range options.History {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Message))
		default:
			msgs = append(msgs, openai.UserMessage(m.Message))
		}
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    msgs,
		Temperature: openai.Float(temperature),
	}
	if options.Format != nil {
		body.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        options.Format.Name,
					Description: openai.String(options.Format.Description),
					Schema:      options.Format.Schema,
					Strict:      openai.Bool(true),
				},
			},
		}
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(rCtx, body)
	if err != nil {
		return "", classify(err)
	}
	c.usage.Add(ai.ModelMetrics{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   time.Since(start).Milliseconds(),
	})

	if len(response.Choices) == 0 {
		return "", ai.Transient(errors.New("chat completion returned no choices"))
	}
	logger.Debug("[AI] Chat completion", "model", model, "prompt_tokens", response.Usage.PromptTokens)
	return response.Choices[0].Message.Content, nil
}
