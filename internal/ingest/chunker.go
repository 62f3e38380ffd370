package ingest

import (
	"strings"

	"github.com/openkb/openkb/internal/kb"
)

// Chunk splits text into a sliding window of whitespace-delimited tokens.
// Each chunk holds at most cc.Size tokens, consecutive chunks share exactly
// cc.Overlap tokens, and together the chunks cover the whole input. The
// final chunk may be shorter than cc.Size.
//
// The configuration must satisfy kb.ValidateChunkConfig; callers are
// expected to have validated it at knowledge base creation.
func Chunk(text string, cc kb.ChunkConfig) []string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) <= cc.Size {
		return []string{strings.Join(tokens, " ")}
	}

	step := cc.Size - cc.Overlap
	var chunks []string
	for start := 0; ; start += step {
		end := start + cc.Size
		if end >= len(tokens) {
			chunks = append(chunks, strings.Join(tokens[start:], " "))
			break
		}
		chunks = append(chunks, strings.Join(tokens[start:end], " "))
	}
	return chunks
}
