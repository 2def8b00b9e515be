package port

import (
	"context"

	"ragchat/internal/domain"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName identifies the embedding function. Indexes built under a
	// different model name are rebuilt.
	ModelName() string
}

// VectorIndex is a read-only nearest-neighbour view over an index.
type VectorIndex interface {
	// Search returns the k best entries by inner product with query,
	// highest first, ties in insertion order.
	Search(query []float32, k int) []domain.ScoredChunk

	Len() int

	Meta() domain.IndexMeta
}
