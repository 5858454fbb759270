package graph

import (
	"strings"

	"github.com/OFFIS-RIT/medrag/internal/util"
	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/tokenizer"
)

// NewDocument wraps raw text into a Document with its content hash id.
func NewDocument(text string, createdAt common.Clock) common.Document {
	trimmed := strings.TrimSpace(text)
	return common.Document{
		ID:        util.HashID(trimmed, common.DocumentIDPrefix),
		Content:   trimmed,
		CreatedAt: createdAt(),
	}
}

// ChunkDocument splits doc into windows of at most size tokens, each
// window starting size-overlap tokens after the previous one. The result
// only depends on the input, so re-chunking unchanged text yields the same
// chunk ids.
func ChunkDocument(tok tokenizer.Tokenizer, doc common.Document, size, overlap int) []common.Chunk {
	if size <= 0 {
		size = 1200
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	tokens := tok.Encode(doc.Content)
	step := size - overlap
	chunks := make([]common.Chunk, 0, len(tokens)/step+1)
	for start := 0; start < len(tokens); start += step {
		end := min(start+size, len(tokens))
		content := strings.TrimSpace(tok.Decode(tokens[start:end]))
		if content != "" {
			chunks = append(chunks, common.Chunk{
				ID:         util.HashID(doc.ID+content, common.ChunkIDPrefix),
				Content:    content,
				Tokens:     end - start,
				DocumentID: doc.ID,
				OrderIndex: len(chunks),
				CreatedAt:  doc.CreatedAt,
			})
		}
		if end == len(tokens) {
			break
		}
	}
	return chunks
}
