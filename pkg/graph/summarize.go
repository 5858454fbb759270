package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/medrag/pkg/ai"
	"github.com/OFFIS-RIT/medrag/pkg/tokenizer"
)

// Summarizer condenses the description fragments of a fact into one
// paragraph.
type Summarizer struct {
	completer ai.Completer
	tok       tokenizer.Tokenizer
	language  string
	maxTokens int
}

func NewSummarizer(completer ai.Completer, tok tokenizer.Tokenizer, language string, maxTokens int) *Summarizer {
	if language == "" {
		language = ai.DefaultLanguage
	}
	return &Summarizer{completer: completer, tok: tok, language: language, maxTokens: maxTokens}
}

// Summarize sends the fragments, capped at the token budget, to the model.
// name is the entity name or the "SRC, TGT" pair of a relation.
func (s *Summarizer) Summarize(ctx context.Context, name string, fragments []string) (string, error) {
	kept := tokenizer.Truncate(s.tok, fragments, s.maxTokens, func(f string) string { return f })
	if len(kept) == 0 && len(fragments) > 0 {
		kept = fragments[:1]
	}

	var list strings.Builder
	for _, f := range kept {
		list.WriteString("\n- ")
		list.WriteString(f)
	}
	prompt := fmt.Sprintf(ai.SummarizeDescriptionsPrompt, s.language, name, list.String())

	summary, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", name, err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("summarize %s: empty summary", name)
	}
	return summary, nil
}
