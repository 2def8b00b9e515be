package usecase

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/adapter/chunker"
	"ragchat/internal/adapter/store"
	"ragchat/internal/domain"
)

func TestBuildSingleShortDocument(t *testing.T) {
	emb := newCountingEmbedder(t)
	storage := &memStorage{}
	b := newTestBuilder(t, 500, 50, emb, storage)

	idx, err := b.Build(context.Background(), []domain.Document{
		{ID: "care.txt", Text: "Diabetes is managed with diet and medication."},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, 1, storage.persists)
	require.Len(t, storage.snap.Entries, 1)

	vec := storage.snap.Entries[0].Vector
	assert.InDelta(t, 1.0, math.Sqrt(store.Dot(vec, vec)), 1e-5)
	assert.Equal(t, "hashing-v1", storage.snap.Meta.EmbeddingModel)
	assert.Equal(t, 500, storage.snap.Meta.ChunkSize)
	assert.Empty(t, storage.snap.Documents[0].Text, "snapshot keeps document identity only")
}

func TestBuildBatchesAndReportsProgress(t *testing.T) {
	emb := newCountingEmbedder(t)
	var progress [][2]int
	b := newTestBuilder(t, 10, 0, emb, &memStorage{},
		WithBatchSize(2),
		WithProgress(func(done, total int) { progress = append(progress, [2]int{done, total}) }),
	)

	// 50 characters at size 10 = 5 chunks.
	text := "aaaaaaaaa bbbbbbbbb ccccccccc ddddddddd eeeeeeeee "
	idx, err := b.Build(context.Background(), []domain.Document{{ID: "d", Text: text}})
	require.NoError(t, err)

	assert.Equal(t, 5, idx.Len())
	assert.Equal(t, int32(3), emb.calls.Load())
	assert.Equal(t, [][2]int{{2, 5}, {4, 5}, {5, 5}}, progress)
}

func TestBuildEmbeddingFailurePersistsNothing(t *testing.T) {
	emb := newCountingEmbedder(t)
	emb.err = errors.New("connection reset")
	storage := &memStorage{}
	b := newTestBuilder(t, 500, 50, emb, storage)

	_, err := b.Build(context.Background(), diabetesCorpus())
	assert.ErrorIs(t, err, domain.ErrEmbedding)
	assert.Equal(t, 0, storage.persists)
}

func TestBuildEmptyCorpus(t *testing.T) {
	storage := &memStorage{}
	b := newTestBuilder(t, 500, 50, newCountingEmbedder(t), storage)

	_, err := b.Build(context.Background(), []domain.Document{{ID: "empty.txt", Text: ""}})
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.Equal(t, 0, storage.persists)
}

func TestLoadMissingIndex(t *testing.T) {
	b := newTestBuilder(t, 500, 50, newCountingEmbedder(t), &memStorage{})

	_, err := b.Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrIndexNotFound)
}

func TestLoadOrBuildBuildsThenLoads(t *testing.T) {
	storage := &memStorage{}
	source := &staticSource{docs: diabetesCorpus()}

	first := newTestBuilder(t, 500, 50, newCountingEmbedder(t), storage)
	idx, res, err := first.LoadOrBuild(context.Background(), source)
	require.NoError(t, err)
	assert.True(t, res.Built)
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, int32(1), source.calls.Load())

	emb := newCountingEmbedder(t)
	second := newTestBuilder(t, 500, 50, emb, storage)
	idx, res, err = second.LoadOrBuild(context.Background(), source)
	require.NoError(t, err)
	assert.False(t, res.Built)
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, int32(0), emb.calls.Load(), "loading must not embed")
	assert.Equal(t, int32(1), source.calls.Load(), "loading must not read the corpus")
}

func TestLoadOrBuildRebuildsStaleIndex(t *testing.T) {
	storage := &memStorage{}
	source := &staticSource{docs: diabetesCorpus()}

	_, _, err := newTestBuilder(t, 500, 50, newCountingEmbedder(t), storage).LoadOrBuild(context.Background(), source)
	require.NoError(t, err)

	changed := newTestBuilder(t, 20, 5, newCountingEmbedder(t), storage)
	_, err = changed.Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrIndexStale)

	idx, res, err := changed.LoadOrBuild(context.Background(), source)
	require.NoError(t, err)
	assert.True(t, res.Built)
	assert.Contains(t, res.Reason, "configuration changed")
	assert.Equal(t, 20, idx.Meta().ChunkSize)
}

func TestBuildIsIdempotent(t *testing.T) {
	b := newTestBuilder(t, 30, 10, newCountingEmbedder(t), &memStorage{},
		WithIndexClock(func() time.Time { return time.Unix(0, 0) }))

	a, err := b.Build(context.Background(), diabetesCorpus())
	require.NoError(t, err)
	c, err := b.Build(context.Background(), diabetesCorpus())
	require.NoError(t, err)

	q := store.Normalize(make([]float32, 64))
	q[0] = 1
	assert.Equal(t, a.Meta(), c.Meta())
	assert.Equal(t, a.Search(q, 10), c.Search(q, 10))
}

func TestBuildPersistsThroughBolt(t *testing.T) {
	storage := store.NewBoltIndexStorage(filepath.Join(t.TempDir(), "index.db"))
	c, err := chunker.NewWindowChunker(500, 50)
	require.NoError(t, err)

	b := NewIndexBuilder(c, newCountingEmbedder(t), storage)
	built, err := b.Build(context.Background(), diabetesCorpus())
	require.NoError(t, err)

	loaded, err := b.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, built.Len(), loaded.Len())
	assert.Equal(t, built.Meta().Fingerprint, loaded.Meta().Fingerprint)
}
