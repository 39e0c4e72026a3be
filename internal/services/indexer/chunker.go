// -----------------------------------------------------------------------
// Chunker - fixed-size sliding window with overlap
// -----------------------------------------------------------------------

package indexer

import (
	"strings"
)

// Chunker splits cleaned text into overlapping windows sized in runes.
// Windows prefer to break on whitespace near the boundary so words stay
// intact.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker; overlap must be smaller than size
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1024
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 4
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split returns the chunk texts for content. Empty or whitespace-only
// content yields no chunks.
func (c *Chunker) Split(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	runes := []rune(content)
	if len(runes) <= c.size {
		return []string{content}
	}

	step := c.size - c.overlap
	var chunks []string

	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end >= len(runes) {
			chunk := strings.TrimSpace(string(runes[start:]))
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		// Pull the cut back to the nearest whitespace so the window does
		// not split a word, within a quarter-window search budget.
		cut := end
		for cut > start+c.size*3/4 && !isSpace(runes[cut-1]) {
			cut--
		}
		if cut == start+c.size*3/4 {
			cut = end
		}

		chunk := strings.TrimSpace(string(runes[start:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	return chunks
}

// Size reports the window size in runes
func (c *Chunker) Size() int { return c.size }

// Overlap reports the window overlap in runes
func (c *Chunker) Overlap() int { return c.overlap }

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
