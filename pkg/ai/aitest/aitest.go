// Package aitest provides in-memory Completer and Embedder fakes.
package aitest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/medrag/pkg/ai"
)

// Call is one recorded completion request.
type Call struct {
	Prompt  string
	Options ai.GenerateOptions
}

// Completer answers with Respond and records every call.
type Completer struct {
	Respond func(prompt string, opts ai.GenerateOptions) (string, error)

	mu    sync.Mutex
	calls []Call
}

func (c *Completer) Complete(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	o := ai.ApplyOptions(opts...)
	c.mu.Lock()
	c.calls = append(c.calls, Call{Prompt: prompt, Options: o})
	c.mu.Unlock()
	if c.Respond == nil {
		return "", nil
	}
	return c.Respond(prompt, o)
}

// Calls returns a copy of the recorded calls.
func (c *Completer) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Embedder returns Vectors[text] when present and otherwise a hashed bag
// of words, so texts sharing words are similar.
type Embedder struct {
	Dim     int
	Vectors map[string][]float32
	// Override, when set, replaces the computed result of a whole call.
	Override func(input []string) ([][]float32, error)

	mu    sync.Mutex
	calls int
}

func (e *Embedder) Embed(ctx context.Context, input []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.Override != nil {
		return e.Override(input)
	}
	out := make([][]float32, len(input))
	for i, text := range input {
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *Embedder) vector(text string) []float32 {
	if v, ok := e.Vectors[text]; ok {
		return append([]float32(nil), v...)
	}
	v := make([]float32, e.Dimension())
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(word))
		v[h.Sum32()%uint32(len(v))]++
	}
	return v
}

func (e *Embedder) Dimension() int {
	if e.Dim <= 0 {
		return 16
	}
	return e.Dim
}

func (e *Embedder) MaxTokenSize() int { return 8192 }

// Calls is the number of Embed invocations.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
