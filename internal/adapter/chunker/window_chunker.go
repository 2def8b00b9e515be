package chunker

import (
	"fmt"

	"ragchat/internal/domain"
)

// WindowChunker slides a fixed-size character window across a document.
// Sizes are counted in runes so multi-byte text is never split mid-character.
type WindowChunker struct {
	size    int
	overlap int
}

func NewWindowChunker(size, overlap int) (*WindowChunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrConfiguration, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", domain.ErrConfiguration, size, overlap)
	}
	return &WindowChunker{size: size, overlap: overlap}, nil
}

func (c *WindowChunker) Size() int    { return c.size }
func (c *WindowChunker) Overlap() int { return c.overlap }

func (c *WindowChunker) Chunk(doc domain.Document) []domain.Chunk {
	runes := []rune(doc.Text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	step := c.size - c.overlap
	chunks := make([]domain.Chunk, 0, n/step+1)

	for start := 0; start < n; start += step {
		end := start + c.size
		if end > n {
			end = n
		}

		chunks = append(chunks, domain.Chunk{
			DocID:  doc.ID,
			Index:  len(chunks),
			Text:   string(runes[start:end]),
			Start:  start,
			Length: end - start,
		})

		// The window already reached the end; a further window would lie
		// entirely inside this one.
		if end == n {
			break
		}
	}

	return chunks
}

// ChunkAll chunks documents in order.
func (c *WindowChunker) ChunkAll(docs []domain.Document) []domain.Chunk {
	var chunks []domain.Chunk
	for _, doc := range docs {
		chunks = append(chunks, c.Chunk(doc)...)
	}
	return chunks
}
