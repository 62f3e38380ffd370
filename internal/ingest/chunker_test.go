package ingest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkb/openkb/internal/kb"
)

func tokens(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestChunkEmpty(t *testing.T) {
	assert.Nil(t, Chunk("", kb.ChunkConfig{Size: 10, Overlap: 2}))
	assert.Nil(t, Chunk("   \n\t  ", kb.ChunkConfig{Size: 10, Overlap: 2}))
}

func TestChunkShortInput(t *testing.T) {
	got := Chunk("alpha beta gamma", kb.ChunkConfig{Size: 10, Overlap: 2})
	require.Len(t, got, 1)
	assert.Equal(t, "alpha beta gamma", got[0])
}

func TestChunkExactWindow(t *testing.T) {
	got := Chunk(tokens(10), kb.ChunkConfig{Size: 10, Overlap: 3})
	require.Len(t, got, 1)
}

func TestChunkOverlap(t *testing.T) {
	got := Chunk(tokens(10), kb.ChunkConfig{Size: 4, Overlap: 2})

	require.Len(t, got, 4)
	assert.Equal(t, "w0 w1 w2 w3", got[0])
	assert.Equal(t, "w2 w3 w4 w5", got[1])
	assert.Equal(t, "w4 w5 w6 w7", got[2])
	assert.Equal(t, "w6 w7 w8 w9", got[3])
}

func TestChunkZeroOverlap(t *testing.T) {
	got := Chunk(tokens(9), kb.ChunkConfig{Size: 4, Overlap: 0})

	require.Len(t, got, 3)
	assert.Equal(t, "w0 w1 w2 w3", got[0])
	assert.Equal(t, "w4 w5 w6 w7", got[1])
	assert.Equal(t, "w8", got[2])
}

// TestChunkCoverageAndOverlap verifies, across a grid of configurations and
// input lengths, that chunking covers every token in order and that
// consecutive chunks share exactly the configured number of tokens.
func TestChunkCoverageAndOverlap(t *testing.T) {
	configs := []kb.ChunkConfig{
		{Size: 1, Overlap: 0},
		{Size: 2, Overlap: 1},
		{Size: 5, Overlap: 0},
		{Size: 5, Overlap: 2},
		{Size: 5, Overlap: 4},
		{Size: 64, Overlap: 16},
		{Size: 100, Overlap: 99},
	}
	lengths := []int{1, 2, 3, 5, 7, 16, 63, 64, 65, 128, 501}

	for _, cc := range configs {
		require.NoError(t, kb.ValidateChunkConfig(cc))
		for _, n := range lengths {
			name := fmt.Sprintf("size=%d,overlap=%d,tokens=%d", cc.Size, cc.Overlap, n)
			t.Run(name, func(t *testing.T) {
				chunks := Chunk(tokens(n), cc)
				require.NotEmpty(t, chunks)

				step := cc.Size - cc.Overlap
				pos := 0
				for i, c := range chunks {
					words := strings.Fields(c)
					assert.LessOrEqual(t, len(words), cc.Size)

					// Every chunk starts where the window places it,
					// so coverage is contiguous and in order.
					for j, w := range words {
						assert.Equal(t, fmt.Sprintf("w%d", pos+j), w)
					}

					if i < len(chunks)-1 {
						require.Equal(t, cc.Size, len(words))
						next := strings.Fields(chunks[i+1])
						shared := words[step:]
						assert.Equal(t, shared, next[:cc.Overlap],
							"consecutive chunks must share exactly the overlap")
					}
					pos += step
				}

				last := strings.Fields(chunks[len(chunks)-1])
				lastStart := (len(chunks) - 1) * step
				assert.Equal(t, fmt.Sprintf("w%d", n-1), last[len(last)-1],
					"final chunk must reach the last token")
				assert.Equal(t, n, lastStart+len(last), "chunks must cover all tokens")
			})
		}
	}
}
