package indexer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/sitesearch/internal/interfaces"
)

func TestChunkerShortContentSingleChunk(t *testing.T) {
	c := NewChunker(1024, 256)

	chunks := c.Split("a short document")
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short document", chunks[0])
}

func TestChunkerEmptyContent(t *testing.T) {
	c := NewChunker(1024, 256)

	assert.Empty(t, c.Split(""))
	assert.Empty(t, c.Split("   \n\t  "))
}

func TestChunkerWindowsCoverAllContent(t *testing.T) {
	c := NewChunker(100, 20)

	words := make([]string, 200)
	for i := range words {
		words[i] = "word"
	}
	content := strings.Join(words, " ")

	chunks := c.Split(content)
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 100)
		assert.NotEmpty(t, chunk)
	}

	// Last chunk must reach the end of the content
	last := chunks[len(chunks)-1]
	assert.True(t, strings.HasSuffix(content, last))
}

func TestChunkerEveryChunkIsContiguousContent(t *testing.T) {
	c := NewChunker(100, 20)

	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString("alpha beta gamma ")
	}
	content := strings.TrimSpace(b.String())

	chunks := c.Split(content)
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		assert.Contains(t, content, chunk)
	}
}

func TestChunkerInvalidOverlapFallsBack(t *testing.T) {
	c := NewChunker(100, 100)
	assert.Equal(t, 25, c.Overlap())

	c = NewChunker(100, -1)
	assert.Equal(t, 25, c.Overlap())
}

func TestFuseCandidatesKeepsBestScore(t *testing.T) {
	dense := []interfaces.ScoredChunk{
		{RefDocID: "s:h1", ChunkText: "alpha", Score: 0.9},
		{RefDocID: "s:h2", ChunkText: "beta", Score: 0.5},
	}
	sparse := []interfaces.ScoredChunk{
		{RefDocID: "s:h1", ChunkText: "alpha", Score: 0.7},
		{RefDocID: "s:h3", ChunkText: "gamma", Score: 0.8},
	}

	fused := fuseCandidates(dense, sparse)
	require.Len(t, fused, 3)

	assert.Equal(t, "alpha", fused[0].ChunkText)
	assert.InDelta(t, 0.9, fused[0].Score, 1e-9)
	assert.Equal(t, "gamma", fused[1].ChunkText)
	assert.Equal(t, "beta", fused[2].ChunkText)
}

func TestFuseCandidatesEmptyInputs(t *testing.T) {
	assert.Empty(t, fuseCandidates(nil, nil))

	one := []interfaces.ScoredChunk{{RefDocID: "s:h", ChunkText: "x", Score: 0.4}}
	fused := fuseCandidates(one, nil)
	require.Len(t, fused, 1)
	assert.Equal(t, "x", fused[0].ChunkText)
}
