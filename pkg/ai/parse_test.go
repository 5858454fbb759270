package ai

import "testing"

type keywordPayload struct {
	High []string `json:"high_level_keywords"`
	Low  []string `json:"low_level_keywords"`
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		parsed   bool
		wantHigh int
	}{
		{"direct", `{"high_level_keywords":["drug safety"],"low_level_keywords":["aspirin"]}`, true, 1},
		{"embedded in prose", "Sure!\n```json\n{\"high_level_keywords\":[\"a\",\"b\"],\"low_level_keywords\":[]}\n```", true, 2},
		{"repairable block", "Output: {high_level_keywords: ['x'], low_level_keywords: ['y'],}", true, 1},
		{"no object", "I cannot help with that.", false, 0},
		{"empty", "", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseJSON[keywordPayload](tt.raw)
			v, ok := res.Get()
			if ok != tt.parsed {
				t.Fatalf("parsed = %v, want %v (raw %q)", ok, tt.parsed, res.Raw())
			}
			if len(v.High) != tt.wantHigh {
				t.Fatalf("high keywords = %v", v.High)
			}
			if !ok && res.Raw() != tt.raw {
				t.Fatalf("raw = %q, want %q", res.Raw(), tt.raw)
			}
		})
	}
}
