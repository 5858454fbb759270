// Package tokenizer counts and slices text in model tokens.
package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE used when none is configured.
const DefaultEncoding = "o200k_base"

// Tokenizer encodes text to token ids and back.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Tiktoken is a Tokenizer backed by a tiktoken BPE.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding, e.g. "o200k_base" or "cl100k_base".
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *Tiktoken) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// Count returns the number of tokens in text.
func Count(t Tokenizer, text string) int {
	return len(t.Encode(text))
}

// Truncate keeps the leading items whose cumulative token count stays
// within maxTokens. A non positive budget keeps everything.
func Truncate[T any](t Tokenizer, items []T, maxTokens int, text func(T) string) []T {
	if maxTokens <= 0 {
		return items
	}
	total := 0
	for i, item := range items {
		total += Count(t, text(item))
		if total > maxTokens {
			return items[:i]
		}
	}
	return items
}

// Whitespace is a dependency free Tokenizer that treats every whitespace
// separated word as one token. It is used in tests and offline tooling.
type Whitespace struct {
	mu    sync.Mutex
	vocab map[string]int
	words []string
}

// NewWhitespace returns an empty Whitespace tokenizer.
func NewWhitespace() *Whitespace {
	return &Whitespace{vocab: map[string]int{}}
}

func (w *Whitespace) Encode(text string) []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	fields := strings.Fields(text)
	out := make([]int, len(fields))
	for i, f := range fields {
		id, ok := w.vocab[f]
		if !ok {
			id = len(w.words)
			w.vocab[f] = id
			w.words = append(w.words, f)
		}
		out[i] = id
	}
	return out
}

func (w *Whitespace) Decode(tokens []int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	parts := make([]string, 0, len(tokens))
	for _, id := range tokens {
		if id >= 0 && id < len(w.words) {
			parts = append(parts, w.words[id])
		}
	}
	return strings.Join(parts, " ")
}
