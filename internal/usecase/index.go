package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/adapter/retry"
	"ragchat/internal/adapter/store"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

// ProgressFunc reports how many chunks have been embedded so far.
type ProgressFunc func(done, total int)

// IndexBuilder turns a corpus into a persisted, searchable index.
// Builds are always full: there is no incremental update.
type IndexBuilder struct {
	chunker   port.Chunker
	embedder  port.Embedder
	storage   port.IndexStorage
	batchSize int
	retry     port.RetryPolicy
	logger    *zap.Logger
	metrics   *Metrics
	now       func() time.Time
	progress  ProgressFunc
}

type IndexBuilderOption func(*IndexBuilder)

func WithBatchSize(n int) IndexBuilderOption {
	return func(b *IndexBuilder) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

func WithIndexRetry(p port.RetryPolicy) IndexBuilderOption {
	return func(b *IndexBuilder) {
		if p != nil {
			b.retry = p
		}
	}
}

func WithIndexLogger(l *zap.Logger) IndexBuilderOption {
	return func(b *IndexBuilder) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithIndexMetrics(m *Metrics) IndexBuilderOption {
	return func(b *IndexBuilder) { b.metrics = m }
}

func WithProgress(fn ProgressFunc) IndexBuilderOption {
	return func(b *IndexBuilder) { b.progress = fn }
}

func WithIndexClock(now func() time.Time) IndexBuilderOption {
	return func(b *IndexBuilder) { b.now = now }
}

func NewIndexBuilder(
	chunker port.Chunker,
	embedder port.Embedder,
	storage port.IndexStorage,
	opts ...IndexBuilderOption,
) *IndexBuilder {
	b := &IndexBuilder{
		chunker:   chunker,
		embedder:  embedder,
		storage:   storage,
		batchSize: 64,
		retry:     retry.None{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Settings returns the configuration the built index depends on.
func (b *IndexBuilder) Settings() store.IndexSettings {
	return store.IndexSettings{
		ChunkSize:      b.chunker.Size(),
		Overlap:        b.chunker.Overlap(),
		EmbeddingModel: b.embedder.ModelName(),
		Dimension:      b.embedder.Dimension(),
	}
}

// IndexResult describes how an index was obtained.
type IndexResult struct {
	Built     bool
	Reason    string
	Documents int
	Entries   int
	Duration  time.Duration
}

// Build chunks and embeds docs, persists the snapshot and returns the
// in-memory index. On any failure nothing is persisted.
func (b *IndexBuilder) Build(ctx context.Context, docs []domain.Document) (*store.VectorIndex, error) {
	idx, err := b.build(ctx, docs)
	b.metrics.observeBuild(err)
	return idx, err
}

func (b *IndexBuilder) build(ctx context.Context, docs []domain.Document) (*store.VectorIndex, error) {
	start := b.now()
	settings := b.Settings()

	chunks := b.chunker.ChunkAll(docs)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: corpus of %d documents produced no chunks", domain.ErrIndexUnavailable, len(docs))
	}

	b.logger.Info("building index",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)),
		zap.String("embedding_model", settings.EmbeddingModel),
	)

	entries := make([]domain.IndexEntry, 0, len(chunks))
	for i := 0; i < len(chunks); i += b.batchSize {
		end := i + b.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[i:end]

		vectors, err := b.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		for j, chunk := range batch {
			if len(vectors[j]) != settings.Dimension {
				return nil, fmt.Errorf("%w: chunk %s#%d: vector dimension %d, expected %d",
					domain.ErrEmbedding, chunk.DocID, chunk.Index, len(vectors[j]), settings.Dimension)
			}
			entries = append(entries, domain.IndexEntry{
				Chunk:  chunk,
				Vector: store.Normalize(vectors[j]),
			})
		}

		if b.progress != nil {
			b.progress(end, len(chunks))
		}
	}

	// Document text lives in the chunks; the snapshot keeps only identity.
	snapDocs := make([]domain.Document, len(docs))
	for i, d := range docs {
		snapDocs[i] = domain.Document{ID: d.ID, Path: d.Path, LoadedAt: d.LoadedAt}
	}

	snap := domain.IndexSnapshot{
		Meta:      store.NewMeta(settings, b.now()),
		Documents: snapDocs,
		Entries:   entries,
	}
	idx, err := store.NewVectorIndex(snap)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbedding, err)
	}
	if err := b.storage.Persist(snap); err != nil {
		return nil, fmt.Errorf("failed to persist index: %w", err)
	}

	b.logger.Info("index built",
		zap.Int("entries", len(entries)),
		zap.String("fingerprint", snap.Meta.Fingerprint),
		zap.Duration("duration", b.now().Sub(start)),
	)
	return idx, nil
}

func (b *IndexBuilder) embedBatch(ctx context.Context, batch []domain.Chunk) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	var vectors [][]float32
	err := b.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		vectors, err = b.embedder.Embed(ctx, texts)
		return err
	})
	if err != nil {
		if !errors.Is(err, domain.ErrEmbedding) {
			err = fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
		}
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", domain.ErrEmbedding, len(texts), len(vectors))
	}
	return vectors, nil
}

// Load returns the persisted index. It fails with domain.ErrIndexNotFound
// when nothing usable is stored and domain.ErrIndexStale when the stored
// index was built under different settings.
func (b *IndexBuilder) Load(ctx context.Context) (*store.VectorIndex, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := b.storage.Load()
	if err != nil {
		return nil, err
	}
	if err := store.Verify(snap.Meta, b.Settings()); err != nil {
		return nil, err
	}
	idx, err := store.NewVectorIndex(snap)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexStale, err)
	}
	return idx, nil
}

// LoadOrBuild loads the persisted index, building from source when it is
// missing, empty or stale.
func (b *IndexBuilder) LoadOrBuild(ctx context.Context, source port.DocumentSource) (*store.VectorIndex, *IndexResult, error) {
	start := b.now()

	idx, err := b.Load(ctx)
	if err == nil {
		b.logger.Info("loaded existing index",
			zap.Int("entries", idx.Len()),
			zap.Time("built_at", idx.Meta().BuiltAt),
		)
		return idx, &IndexResult{
			Reason:    "loaded",
			Documents: len(idx.Documents()),
			Entries:   idx.Len(),
			Duration:  b.now().Sub(start),
		}, nil
	}
	if !errors.Is(err, domain.ErrIndexNotFound) && !errors.Is(err, domain.ErrIndexStale) {
		return nil, nil, err
	}

	b.logger.Info("index needs building", zap.String("reason", err.Error()))
	idx, res, buildErr := b.Rebuild(ctx, source)
	if buildErr != nil {
		return nil, nil, buildErr
	}
	res.Reason = err.Error()
	res.Duration = b.now().Sub(start)
	return idx, res, nil
}

// Rebuild enumerates source and builds a fresh index unconditionally.
func (b *IndexBuilder) Rebuild(ctx context.Context, source port.DocumentSource) (*store.VectorIndex, *IndexResult, error) {
	start := b.now()

	docs, err := source.Documents(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load corpus: %w", err)
	}
	idx, err := b.Build(ctx, docs)
	if err != nil {
		return nil, nil, err
	}
	return idx, &IndexResult{
		Built:     true,
		Reason:    "rebuild requested",
		Documents: len(docs),
		Entries:   idx.Len(),
		Duration:  b.now().Sub(start),
	}, nil
}
