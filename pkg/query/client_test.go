package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/medrag/pkg/ai"
	"github.com/OFFIS-RIT/medrag/pkg/ai/aitest"
	"github.com/OFFIS-RIT/medrag/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const medicalKeywordsJSON = `{"high_level_keywords": ["fever treatment"], "low_level_keywords": ["aspirin", "headache"]}`

func isKeywordPrompt(prompt string) bool {
	return strings.Contains(prompt, "high_level_keywords")
}

func newTestClient(t *testing.T, keywords string, answer func() (string, error), opts ...ClientOption) (*Client, *aitest.Completer) {
	t.Helper()
	c := &aitest.Completer{Respond: func(prompt string, _ ai.GenerateOptions) (string, error) {
		if isKeywordPrompt(prompt) {
			return keywords, nil
		}
		return answer()
	}}
	return NewClient(newTestRetriever(t), c, opts...), c
}

func fixedAnswer(s string) func() (string, error) {
	return func() (string, error) { return s, nil }
}

func TestQueryInvalidMode(t *testing.T) {
	client, c := newTestClient(t, medicalKeywordsJSON, fixedAnswer("answer"))
	_, err := client.Query(context.Background(), "q", common.QueryParam{Mode: "mix"})
	require.ErrorIs(t, err, ErrInvalidMode)
	assert.Empty(t, c.Calls())
}

func TestQueryFailResponses(t *testing.T) {
	tests := []struct {
		name     string
		keywords string
		answer   func() (string, error)
	}{
		{"unparseable keywords", "no json here", fixedAnswer("answer")},
		{"empty keywords", `{"high_level_keywords": [], "low_level_keywords": []}`, fixedAnswer("answer")},
		{"generation error", medicalKeywordsJSON, func() (string, error) { return "", errors.New("provider down") }},
		{"blank answer", medicalKeywordsJSON, fixedAnswer("  \n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, tt.keywords, tt.answer)
			got, err := client.Query(context.Background(), "What treats a headache?", common.QueryParam{})
			require.NoError(t, err)
			assert.Equal(t, ai.FailResponse, got)
		})
	}
}

func TestQueryOnlyNeedContext(t *testing.T) {
	client, c := newTestClient(t, medicalKeywordsJSON, fixedAnswer("answer"))
	got, err := client.Query(context.Background(), "What treats a headache?", common.QueryParam{OnlyNeedContext: true})
	require.NoError(t, err)

	assert.Contains(t, got, "-----Entities-----")
	assert.Contains(t, got, "-----Relationships-----")
	assert.Contains(t, got, "-----Sources-----")
	assert.Contains(t, got, "ASPIRIN")
	require.Len(t, c.Calls(), 1, "only the keyword call is made")
}

func TestQueryOnlyNeedPromptDirective(t *testing.T) {
	tests := []struct {
		question string
		want     string
	}{
		{"What treats a headache?", ai.CurrentStateDirective},
		{"What was previously recommended for fever?", ai.HistoricalDirective},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			client, _ := newTestClient(t, medicalKeywordsJSON, fixedAnswer("answer"))
			got, err := client.Query(context.Background(), tt.question, common.QueryParam{OnlyNeedPrompt: true, ResponseType: "Bullet Points"})
			require.NoError(t, err)
			assert.Contains(t, got, tt.want)
			assert.Contains(t, got, "Bullet Points")
			assert.Contains(t, got, "-----Entities-----")
		})
	}
}

func TestQueryAnswersWithHistory(t *testing.T) {
	client, c := newTestClient(t, medicalKeywordsJSON, fixedAnswer(" Aspirin relieves headache. "))
	history := []common.ChatTurn{
		{Role: "user", Content: "Tell me about aspirin."},
		{Role: "assistant", Content: "Aspirin is an analgesic."},
	}
	got, err := client.Query(context.Background(), "What treats a headache?", common.QueryParam{History: history})
	require.NoError(t, err)
	assert.Equal(t, "Aspirin relieves headache.", got)

	calls := c.Calls()
	require.Len(t, calls, 2)
	last := calls[1]
	assert.Equal(t, "What treats a headache?", last.Prompt)
	assert.Equal(t, []ai.ChatMessage{ai.UserMessage("Tell me about aspirin."), ai.AssistantMessage("Aspirin is an analgesic.")}, last.Options.History)
	assert.Contains(t, last.Options.SystemPrompt, ai.DefaultResponseType)
}

func TestQueryNaiveSkipsKeywords(t *testing.T) {
	client, c := newTestClient(t, medicalKeywordsJSON, fixedAnswer("answer"))
	got, err := client.Query(context.Background(), "ibuprofen children", common.QueryParam{Mode: common.ModeNaive, OnlyNeedContext: true})
	require.NoError(t, err)

	assert.Contains(t, got, "-----Sources-----")
	assert.NotContains(t, got, "-----Entities-----")
	assert.Empty(t, c.Calls())
}

func TestQueryTrace(t *testing.T) {
	trace := NewQueryTrace()
	client, _ := newTestClient(t, medicalKeywordsJSON, fixedAnswer("answer"), WithTracer(trace))
	_, err := client.Query(context.Background(), "What treats a headache?", common.QueryParam{Mode: common.ModeLocal})
	require.NoError(t, err)

	snap := trace.Snapshot()
	assert.Equal(t, common.ModeLocal, snap.Mode)
	assert.Equal(t, []string{"aspirin", "headache"}, snap.Keywords.LowLevel)
	assert.Contains(t, snap.Entities, "ASPIRIN")
	assert.NotEmpty(t, snap.Relations)
	assert.NotEmpty(t, snap.Chunks)
}

func TestQueryCancelled(t *testing.T) {
	client, _ := newTestClient(t, medicalKeywordsJSON, fixedAnswer("answer"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Query(ctx, "What treats a headache?", common.QueryParam{})
	require.ErrorIs(t, err, context.Canceled)
}
