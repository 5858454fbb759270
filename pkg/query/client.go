// Package query answers questions from the knowledge graph and vector
// index. Questions are reduced to keywords, matched against entities and
// relations, and answered from CSV context tables that carry the
// authoritative time of every fact.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/medrag/pkg/ai"
	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/logger"
)

var ErrInvalidMode = errors.New("invalid query mode")

// Client runs the full query pipeline.
type Client struct {
	retriever *Retriever
	completer ai.Completer
	tracer    Tracer
}

type ClientOption func(*Client)

func WithTracer(t Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = t
	}
}

func NewClient(retriever *Retriever, completer ai.Completer, opts ...ClientOption) *Client {
	c := &Client{retriever: retriever, completer: completer}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Query answers question. It only fails for an invalid mode or a cancelled
// context; every other failure yields ai.FailResponse.
func (c *Client) Query(ctx context.Context, question string, p common.QueryParam) (string, error) {
	if _, err := common.ParseQueryMode(string(p.Mode)); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, p.Mode)
	}
	p = WithDefaults(p)

	mode := p.Mode
	var kw common.Keywords
	if mode != common.ModeNaive {
		res := ExtractKeywords(ctx, c.completer, question)
		parsed, ok := res.Get()
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !ok {
			return ai.FailResponse, nil
		}
		record(c.tracer, TraceEvent{Kind: TraceEventKeywords, Keywords: parsed})
		resolved, ok := ResolveMode(mode, parsed)
		if !ok {
			logger.Info("[Query] No keywords extracted", "question", question)
			return ai.FailResponse, nil
		}
		mode, kw = resolved, parsed
	}
	record(c.tracer, TraceEvent{Kind: TraceEventMode, Mode: mode})

	set, err := c.retriever.Retrieve(ctx, mode, question, kw, p)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		logger.Error("[Query] Retrieval failed", "mode", mode, "err", err)
		return ai.FailResponse, nil
	}
	c.traceSet(set)
	if set.Empty() {
		return ai.FailResponse, nil
	}

	var contextText, template string
	if mode == common.ModeNaive {
		contextText, template = RenderSources(set.Chunks), ai.NaiveRAGResponsePrompt
	} else {
		contextText, template = Render(set), ai.RAGResponsePrompt
	}
	if p.OnlyNeedContext {
		return contextText, nil
	}

	responseType := p.ResponseType
	if responseType == "" {
		responseType = ai.DefaultResponseType
	}
	systemPrompt := fmt.Sprintf(template, responseType, Directive(question), contextText)
	if p.OnlyNeedPrompt {
		return systemPrompt, nil
	}

	answer, err := c.completer.Complete(ctx, question,
		ai.WithSystemPrompt(systemPrompt),
		ai.WithHistory(history(p.History)...),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		logger.Error("[Query] Answer generation failed", "mode", mode, "err", err)
		return ai.FailResponse, nil
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return ai.FailResponse, nil
	}
	return answer, nil
}

func (c *Client) traceSet(set ContextSet) {
	if c.tracer == nil {
		return
	}
	ents := make([]string, 0, len(set.Entities))
	for _, e := range set.Entities {
		ents = append(ents, e.Name)
	}
	rels := make([]string, 0, len(set.Relations))
	for _, r := range set.Relations {
		rels = append(rels, r.Key())
	}
	chunks := make([]string, 0, len(set.Chunks))
	for _, ch := range set.Chunks {
		chunks = append(chunks, ch.ID)
	}
	record(c.tracer, TraceEvent{Kind: TraceEventQueriedEntities, IDs: ents})
	record(c.tracer, TraceEvent{Kind: TraceEventQueriedRelations, IDs: rels})
	record(c.tracer, TraceEvent{Kind: TraceEventUsedChunks, IDs: chunks})
}

func history(turns []common.ChatTurn) []ai.ChatMessage {
	out := make([]ai.ChatMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, ai.ChatMessage{Role: t.Role, Message: t.Content})
	}
	return out
}
