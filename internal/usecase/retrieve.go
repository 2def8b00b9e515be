package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ragchat/internal/adapter/retry"
	"ragchat/internal/adapter/store"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

// Retriever finds the chunks most similar to a query.
type Retriever struct {
	embedder          port.Embedder
	retry             port.RetryPolicy
	metrics           *Metrics
	minScoreThreshold float64 // Filter results below this score (0 = disabled)
}

// NewRetriever creates a retriever. embedder must be the one the index
// was built with.
func NewRetriever(
	embedder port.Embedder,
	retryPolicy port.RetryPolicy,
	metrics *Metrics,
	minScoreThreshold float64,
) *Retriever {
	if retryPolicy == nil {
		retryPolicy = retry.None{}
	}
	return &Retriever{
		embedder:          embedder,
		retry:             retryPolicy,
		metrics:           metrics,
		minScoreThreshold: minScoreThreshold,
	}
}

// Retrieve returns up to k chunks ordered by descending similarity to query.
func (r *Retriever) Retrieve(ctx context.Context, index port.VectorIndex, query string, k int) ([]domain.ScoredChunk, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", domain.ErrValidation, k)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", domain.ErrValidation)
	}
	if index == nil || index.Len() == 0 {
		return nil, fmt.Errorf("%w: index has no entries", domain.ErrIndexUnavailable)
	}

	vec, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(vec) != index.Meta().Dimension {
		return nil, fmt.Errorf("%w: query dimension %d does not match index dimension %d",
			domain.ErrEmbedding, len(vec), index.Meta().Dimension)
	}

	results := index.Search(store.Normalize(vec), k)

	if r.minScoreThreshold > 0 {
		results = r.filterByThreshold(results)
	}

	return results, nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	start := time.Now()
	defer func() { r.metrics.observeCall("embedding", time.Since(start)) }()

	var vectors [][]float32
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		vectors, err = r.embedder.Embed(ctx, []string{query})
		return err
	})
	if err != nil {
		if !errors.Is(err, domain.ErrEmbedding) {
			err = fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
		}
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", domain.ErrEmbedding, len(vectors))
	}
	return vectors[0], nil
}

// filterByThreshold removes results below the minimum score threshold.
func (r *Retriever) filterByThreshold(results []domain.ScoredChunk) []domain.ScoredChunk {
	filtered := make([]domain.ScoredChunk, 0, len(results))
	for _, res := range results {
		if res.Score >= r.minScoreThreshold {
			filtered = append(filtered, res)
		}
	}
	return filtered
}
