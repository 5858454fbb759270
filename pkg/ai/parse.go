package ai

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ParseResult is the outcome of decoding structured model output: either a
// Parsed value or the Unparsed raw text. Callers handle both arms.
type ParseResult[T any] struct {
	value T
	raw   string
	ok    bool
}

// Parsed wraps a successfully decoded value.
func Parsed[T any](v T) ParseResult[T] {
	return ParseResult[T]{value: v, ok: true}
}

// Unparsed keeps the raw model text that could not be decoded.
func Unparsed[T any](raw string) ParseResult[T] {
	return ParseResult[T]{raw: raw}
}

// Get returns the decoded value and true, or the zero value and false.
func (r ParseResult[T]) Get() (T, bool) {
	return r.value, r.ok
}

// Raw returns the undecoded text of an Unparsed result.
func (r ParseResult[T]) Raw() string {
	return r.raw
}

// IsParsed reports whether the result holds a value.
func (r ParseResult[T]) IsParsed() bool {
	return r.ok
}

var jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)

// ParseJSON decodes model output in two tiers: a direct decode of the whole
// text, then a flexible decode of the first embedded {...} block. Anything
// else is Unparsed.
func ParseJSON[T any](raw string) ParseResult[T] {
	var v T
	trimmed := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return Parsed(v)
	}

	block := jsonObjectPattern.FindString(trimmed)
	if block == "" {
		return Unparsed[T](raw)
	}
	var fallback T
	if err := UnmarshalFlexible(block, &fallback); err != nil {
		return Unparsed[T](raw)
	}
	return Parsed(fallback)
}
