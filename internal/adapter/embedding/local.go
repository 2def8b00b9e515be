package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"ragchat/internal/adapter/analyzer"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

// LocalModelName identifies vectors produced by LocalEmbedder.
const LocalModelName = "hashing-v1"

// LocalEmbedder maps text to fixed-size vectors with the hashing trick over
// word unigrams and bigrams. It needs no network and is deterministic, so
// the same text always yields the same unit vector.
type LocalEmbedder struct {
	tokenizer port.Tokenizer
	dimension int
}

func NewLocalEmbedder(dimension int) (*LocalEmbedder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", domain.ErrConfiguration)
	}
	return &LocalEmbedder{
		tokenizer: analyzer.NewTokenizer(),
		dimension: dimension,
	}, nil
}

func (e *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
		}
		vectors[i] = e.embed(text)
	}
	return vectors, nil
}

func (e *LocalEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dimension)
	tokens := e.tokenizer.Tokenize(text)

	for i, tok := range tokens {
		e.add(vec, tok, 1)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func (e *LocalEmbedder) add(vec []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	bucket := h % uint64(e.dimension)
	if h>>63 == 1 {
		weight = -weight
	}
	vec[bucket] += weight
}

func (e *LocalEmbedder) Dimension() int {
	return e.dimension
}

func (e *LocalEmbedder) ModelName() string {
	return LocalModelName
}
