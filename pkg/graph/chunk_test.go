package graph

import (
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/tokenizer"
)

func fixedClock() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "w" + strings.Repeat("x", i%3) + string(rune('a'+i%26))
	}
	return strings.Join(parts, " ")
}

func TestChunkDocumentWindows(t *testing.T) {
	tests := []struct {
		name       string
		tokens     int
		size       int
		overlap    int
		wantChunks int
		wantTokens []int
	}{
		{"empty", 0, 10, 2, 0, nil},
		{"single window", 5, 10, 2, 1, []int{5}},
		{"exact multiple", 20, 10, 0, 2, []int{10, 10}},
		{"overlapping", 20, 10, 2, 3, []int{10, 10, 4}},
		{"overlap clamped", 20, 10, 10, 2, []int{10, 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := tokenizer.NewWhitespace()
			doc := NewDocument(words(tt.tokens), fixedClock)
			chunks := ChunkDocument(tok, doc, tt.size, tt.overlap)
			if len(chunks) != tt.wantChunks {
				t.Fatalf("got %d chunks, want %d", len(chunks), tt.wantChunks)
			}
			for i, c := range chunks {
				if c.Tokens != tt.wantTokens[i] {
					t.Fatalf("chunk %d has %d tokens, want %d", i, c.Tokens, tt.wantTokens[i])
				}
				if c.OrderIndex != i {
					t.Fatalf("chunk %d has order index %d", i, c.OrderIndex)
				}
				if c.DocumentID != doc.ID {
					t.Fatalf("chunk %d has document id %q", i, c.DocumentID)
				}
				if !strings.HasPrefix(c.ID, common.ChunkIDPrefix) {
					t.Fatalf("chunk id %q lacks prefix", c.ID)
				}
				if !c.CreatedAt.Equal(fixedClock()) {
					t.Fatalf("chunk %d created at %v", i, c.CreatedAt)
				}
			}
		})
	}
}

func TestChunkDocumentDeterministic(t *testing.T) {
	text := words(57)
	a := ChunkDocument(tokenizer.NewWhitespace(), NewDocument(text, fixedClock), 12, 3)
	b := ChunkDocument(tokenizer.NewWhitespace(), NewDocument("  "+text+"\n", fixedClock), 12, 3)
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Content != b[i].Content {
			t.Fatalf("chunk %d differs", i)
		}
	}
}

func TestChunkDocumentOverlapContent(t *testing.T) {
	tok := tokenizer.NewWhitespace()
	doc := NewDocument("a b c d e f g h", fixedClock)
	chunks := ChunkDocument(tok, doc, 4, 1)
	want := []string{"a b c d", "d e f g", "g h"}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(want))
	}
	for i, c := range chunks {
		if c.Content != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, c.Content, want[i])
		}
	}
}
