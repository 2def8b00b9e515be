package port

import "ragchat/internal/domain"

// Chunker splits documents into windows. Size and Overlap are recorded in
// the index metadata so that a configuration change forces a rebuild.
type Chunker interface {
	ChunkAll(docs []domain.Document) []domain.Chunk
	Size() int
	Overlap() int
}
