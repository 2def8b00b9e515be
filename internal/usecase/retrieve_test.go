package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/adapter/store"
	"ragchat/internal/domain"
)

func buildIndex(t *testing.T, emb *countingEmbedder, docs []domain.Document) *store.VectorIndex {
	t.Helper()
	idx, err := newTestBuilder(t, 500, 50, emb, &memStorage{}).Build(context.Background(), docs)
	require.NoError(t, err)
	return idx
}

func TestRetrieveSingleDocumentScenario(t *testing.T) {
	emb := newCountingEmbedder(t)
	idx := buildIndex(t, emb, []domain.Document{
		{ID: "care.txt", Text: "Diabetes is managed with diet and medication."},
	})
	require.Equal(t, 1, idx.Len())

	r := NewRetriever(emb, nil, nil, 0)
	results, err := r.Retrieve(context.Background(), idx, "How is diabetes managed?", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "care.txt", results[0].Chunk.DocID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestRetrieveExactTextIsTopResult(t *testing.T) {
	emb := newCountingEmbedder(t)
	docs := diabetesCorpus()
	idx := buildIndex(t, emb, docs)

	r := NewRetriever(emb, nil, nil, 0)
	for _, doc := range docs {
		results, err := r.Retrieve(context.Background(), idx, doc.Text, 3)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, doc.ID, results[0].Chunk.DocID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-5)
		for _, other := range results[1:] {
			assert.LessOrEqual(t, other.Score, results[0].Score)
		}
	}
}

func TestRetrieveKBound(t *testing.T) {
	emb := newCountingEmbedder(t)
	idx := buildIndex(t, emb, diabetesCorpus())
	r := NewRetriever(emb, nil, nil, 0)

	for k := 1; k <= 5; k++ {
		results, err := r.Retrieve(context.Background(), idx, "insulin", k)
		require.NoError(t, err)
		assert.Len(t, results, min(k, idx.Len()), fmt.Sprintf("k=%d", k))
	}
}

func TestRetrieveValidation(t *testing.T) {
	emb := newCountingEmbedder(t)
	idx := buildIndex(t, emb, diabetesCorpus())
	r := NewRetriever(emb, nil, nil, 0)
	before := emb.calls.Load()

	_, err := r.Retrieve(context.Background(), idx, "insulin", 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = r.Retrieve(context.Background(), idx, "   ", 3)
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.Equal(t, before, emb.calls.Load(), "invalid requests must not call the embedder")
}

func TestRetrieveEmptyIndex(t *testing.T) {
	emb := newCountingEmbedder(t)
	r := NewRetriever(emb, nil, nil, 0)

	var missing *store.VectorIndex
	_, err := r.Retrieve(context.Background(), missing, "insulin", 3)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)

	empty, err := store.NewVectorIndex(domain.IndexSnapshot{Meta: domain.IndexMeta{Dimension: 64}})
	require.NoError(t, err)
	_, err = r.Retrieve(context.Background(), empty, "insulin", 3)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.Equal(t, int32(0), emb.calls.Load())
}

func TestRetrieveMinScore(t *testing.T) {
	emb := newCountingEmbedder(t)
	idx := buildIndex(t, emb, diabetesCorpus())

	r := NewRetriever(emb, nil, nil, 0.99)
	results, err := r.Retrieve(context.Background(), idx, "Diabetes is managed with diet and medication.", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "care.txt", results[0].Chunk.DocID)
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	emb := newCountingEmbedder(t)
	idx := buildIndex(t, emb, diabetesCorpus())
	emb.err = errors.New("upstream unavailable")

	r := NewRetriever(emb, nil, nil, 0)
	_, err := r.Retrieve(context.Background(), idx, "insulin", 3)
	assert.ErrorIs(t, err, domain.ErrEmbedding)
}
