package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

var schemaCache sync.Map // reflect.Type -> *jsonschema.Schema

// GenerateSchema reflects a closed JSON Schema for the type of value.
// Schemas are cached per type.
func GenerateSchema(value any) any {
	t := reflect.TypeOf(value)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if s, ok := schemaCache.Load(t); ok {
		return s
	}
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	s := reflector.ReflectFromType(t)
	schemaCache.Store(t, s)
	return s
}

// flexibleCandidates lists the rewrites of model output worth a plain
// decode before repair is attempted.
func flexibleCandidates(input string) []string {
	input = strings.TrimSpace(input)
	out := []string{input}

	if unfenced, ok := stripCodeFence(input); ok {
		out = append(out, unfenced)
		input = unfenced
	}

	var inner string
	if err := json.Unmarshal([]byte(input), &inner); err == nil {
		input = strings.TrimSpace(inner)
		out = append(out, input)
	}

	// "{\n{...}" is a frequent small-model artifact.
	if rest, ok := strings.CutPrefix(input, "{"); ok {
		if rest = strings.TrimSpace(rest); strings.HasPrefix(rest, "{") {
			out = append(out, rest)
		}
	}
	return out
}

func stripCodeFence(s string) (string, bool) {
	if !strings.HasPrefix(s, "```") {
		return s, false
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s), true
}

// UnmarshalFlexible decodes model generated JSON. Each candidate rewrite is
// decoded as is; the last one is then run through jsonrepair.
func UnmarshalFlexible(input string, out any) error {
	candidates := flexibleCandidates(input)
	for _, c := range candidates {
		if err := json.Unmarshal([]byte(c), out); err == nil {
			return nil
		}
	}

	last := candidates[len(candidates)-1]
	repaired, err := jsonrepair.JSONRepair(last)
	if err != nil {
		return fmt.Errorf("json repair failed: %w (input: %s)", err, last)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return errors.Join(fmt.Errorf("unmarshal failed after repair: repaired=%s", repaired), err)
	}
	return nil
}
