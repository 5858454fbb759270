package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/medrag/pkg/ai"
	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/logger"
)

// ExtractKeywords asks the model for the high and low level keywords of
// question. Model output that cannot be decoded, and completion failures,
// come back Unparsed.
func ExtractKeywords(ctx context.Context, completer ai.Completer, question string) ai.ParseResult[common.Keywords] {
	prompt := fmt.Sprintf(ai.KeywordsExtractionPrompt, ai.KeywordsExtractionExamples, question)
	raw, err := completer.Complete(ctx, prompt,
		ai.WithJSONSchema("keywords", "High and low level keywords of a query", common.Keywords{}),
	)
	if err != nil {
		logger.Warn("[Query] Keyword extraction failed", "err", err)
		return ai.Unparsed[common.Keywords]("")
	}

	res := ai.ParseJSON[common.Keywords](raw)
	kw, ok := res.Get()
	if !ok {
		logger.Warn("[Query] Keyword output not parseable", "raw", raw)
		return res
	}
	return ai.Parsed(common.Keywords{
		HighLevel: cleanKeywords(kw.HighLevel),
		LowLevel:  cleanKeywords(kw.LowLevel),
	})
}

func cleanKeywords(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, k := range in {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
