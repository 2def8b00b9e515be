package store

import (
	"fmt"
	"math"
	"sort"

	"ragchat/internal/domain"
)

// VectorIndex is an immutable in-memory index over unit-length vectors.
// Uses brute-force search; the corpus sizes this serves fit comfortably.
// Safe for concurrent readers because nothing mutates it after creation.
type VectorIndex struct {
	meta      domain.IndexMeta
	documents []domain.Document
	entries   []domain.IndexEntry
}

// NewVectorIndex wraps a snapshot. Every vector must match the snapshot's
// dimension.
func NewVectorIndex(snap domain.IndexSnapshot) (*VectorIndex, error) {
	for i, e := range snap.Entries {
		if len(e.Vector) != snap.Meta.Dimension {
			return nil, fmt.Errorf("entry %d: vector dimension mismatch: expected %d, got %d",
				i, snap.Meta.Dimension, len(e.Vector))
		}
	}
	return &VectorIndex{
		meta:      snap.Meta,
		documents: snap.Documents,
		entries:   snap.Entries,
	}, nil
}

// Search returns the k entries with the highest inner product with query,
// best first. Equal scores keep insertion order.
func (v *VectorIndex) Search(query []float32, k int) []domain.ScoredChunk {
	if v == nil || len(v.entries) == 0 || k <= 0 || len(query) != v.meta.Dimension {
		return nil
	}

	type scored struct {
		pos   int
		score float64
	}
	scores := make([]scored, len(v.entries))
	for i, entry := range v.entries {
		scores[i] = scored{pos: i, score: Dot(query, entry.Vector)}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].score > scores[j].score
	})

	if k > len(scores) {
		k = len(scores)
	}
	results := make([]domain.ScoredChunk, k)
	for i := 0; i < k; i++ {
		results[i] = domain.ScoredChunk{
			Chunk: v.entries[scores[i].pos].Chunk,
			Score: scores[i].score,
		}
	}
	return results
}

func (v *VectorIndex) Len() int {
	if v == nil {
		return 0
	}
	return len(v.entries)
}

func (v *VectorIndex) Meta() domain.IndexMeta {
	if v == nil {
		return domain.IndexMeta{}
	}
	return v.meta
}

func (v *VectorIndex) Documents() []domain.Document {
	return v.documents
}

// Dot returns the inner product of a and b, 0 if their lengths differ.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Normalize returns a unit-length copy of vec. A zero vector stays zero.
func Normalize(vec []float32) []float32 {
	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	out := make([]float32, len(vec))
	if norm == 0 {
		return out
	}
	scale := 1 / math.Sqrt(norm)
	for i, x := range vec {
		out[i] = float32(float64(x) * scale)
	}
	return out
}
