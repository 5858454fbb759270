package query

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/medrag/pkg/ai"
	"github.com/OFFIS-RIT/medrag/pkg/ai/aitest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		err      error
		wantOK   bool
		wantHigh []string
		wantLow  []string
	}{
		{
			name:     "plain json",
			output:   `{"high_level_keywords": ["Diabetes treatment"], "low_level_keywords": ["Metformin", "HbA1c"]}`,
			wantOK:   true,
			wantHigh: []string{"Diabetes treatment"},
			wantLow:  []string{"Metformin", "HbA1c"},
		},
		{
			name:     "embedded block with trailing comma",
			output:   "Sure!\n```json\n{\"high_level_keywords\": [\"Pain relief\",], \"low_level_keywords\": [\"Aspirin\"]}\n```",
			wantOK:   true,
			wantHigh: []string{"Pain relief"},
			wantLow:  []string{"Aspirin"},
		},
		{
			name:     "duplicates and blanks removed",
			output:   `{"high_level_keywords": [" Fever ", "Fever", ""], "low_level_keywords": []}`,
			wantOK:   true,
			wantHigh: []string{"Fever"},
		},
		{name: "prose", output: "I cannot help with that.", wantOK: false},
		{name: "completion error", err: errors.New("boom"), wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &aitest.Completer{Respond: func(string, ai.GenerateOptions) (string, error) {
				return tt.output, tt.err
			}}
			kw, ok := ExtractKeywords(context.Background(), c, "What treats fever?").Get()
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantHigh, kw.HighLevel)
			assert.Equal(t, tt.wantLow, kw.LowLevel)
		})
	}
}

func TestExtractKeywordsRequestsSchema(t *testing.T) {
	c := &aitest.Completer{Respond: func(string, ai.GenerateOptions) (string, error) {
		return `{"high_level_keywords": [], "low_level_keywords": []}`, nil
	}}
	ExtractKeywords(context.Background(), c, "What treats fever?")

	calls := c.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "Query: What treats fever?")
	require.NotNil(t, calls[0].Options.Format)
	assert.Equal(t, "keywords", calls[0].Options.Format.Name)
}
