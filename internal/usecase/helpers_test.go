package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"ragchat/internal/adapter/chunker"
	"ragchat/internal/adapter/embedding"
	"ragchat/internal/adapter/memstore"
	"ragchat/internal/domain"
)

// countingEmbedder wraps the local embedder and counts calls.
type countingEmbedder struct {
	inner *embedding.LocalEmbedder
	calls atomic.Int32
	texts atomic.Int32
	err   error
}

func newCountingEmbedder(t *testing.T) *countingEmbedder {
	t.Helper()
	inner, err := embedding.NewLocalEmbedder(64)
	require.NoError(t, err)
	return &countingEmbedder{inner: inner}
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	e.texts.Add(int32(len(texts)))
	if e.err != nil {
		return nil, e.err
	}
	return e.inner.Embed(ctx, texts)
}

func (e *countingEmbedder) Dimension() int    { return e.inner.Dimension() }
func (e *countingEmbedder) ModelName() string { return e.inner.ModelName() }

// fakeCompleter records prompts and answers through fn.
type fakeCompleter struct {
	mu      sync.Mutex
	prompts []string
	calls   atomic.Int32
	fn      func(ctx context.Context, prompt string) (string, error)
}

func (c *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()
	if c.fn != nil {
		return c.fn(ctx, prompt)
	}
	return "answer", nil
}

func (c *fakeCompleter) ModelName() string { return "fake" }

func (c *fakeCompleter) lastPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.prompts) == 0 {
		return ""
	}
	return c.prompts[len(c.prompts)-1]
}

// memStorage is an in-memory port.IndexStorage.
type memStorage struct {
	mu       sync.Mutex
	snap     *domain.IndexSnapshot
	persists int
}

func (s *memStorage) Persist(snap domain.IndexSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = &snap
	s.persists++
	return nil
}

func (s *memStorage) Load() (domain.IndexSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil || len(s.snap.Entries) == 0 {
		return domain.IndexSnapshot{}, domain.ErrIndexNotFound
	}
	return *s.snap, nil
}

// staticSource serves a fixed corpus, optionally blocking until release
// is closed.
type staticSource struct {
	docs    []domain.Document
	release chan struct{}
	started chan struct{}
	calls   atomic.Int32
}

func (s *staticSource) Documents(ctx context.Context) ([]domain.Document, error) {
	s.calls.Add(1)
	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.docs, nil
}

func diabetesCorpus() []domain.Document {
	return []domain.Document{
		{ID: "care.txt", Text: "Diabetes is managed with diet and medication."},
		{ID: "insulin.txt", Text: "Insulin therapy is required for type 1 diabetes patients."},
		{ID: "exercise.txt", Text: "Regular exercise improves insulin sensitivity and glucose control."},
	}
}

func newTestBuilder(t *testing.T, size, overlap int, emb *countingEmbedder, storage *memStorage, opts ...IndexBuilderOption) *IndexBuilder {
	t.Helper()
	c, err := chunker.NewWindowChunker(size, overlap)
	require.NoError(t, err)
	return NewIndexBuilder(c, emb, storage, opts...)
}

type testRig struct {
	orch      *Orchestrator
	embedder  *countingEmbedder
	completer *fakeCompleter
	store     *memstore.ConversationStore
	source    *staticSource
	storage   *memStorage
}

func newTestRig(t *testing.T, cfg OrchestratorConfig, opts ...OrchestratorOption) *testRig {
	t.Helper()
	emb := newCountingEmbedder(t)
	storage := &memStorage{}
	builder := newTestBuilder(t, 500, 50, emb, storage)
	assembler, err := NewPromptAssembler("History:\n{chat_history}\nContext:\n{context}\nQuestion: {question}", 5)
	require.NoError(t, err)

	rig := &testRig{
		embedder:  emb,
		completer: &fakeCompleter{},
		store:     memstore.NewConversationStore(),
		source:    &staticSource{docs: diabetesCorpus()},
		storage:   storage,
	}
	if cfg.DefaultSessionID == "" && !cfg.RequireSessionID {
		cfg.DefaultSessionID = "default"
	}
	rig.orch = NewOrchestrator(cfg, builder, rig.source,
		NewRetriever(emb, nil, nil, 0), assembler, rig.completer, rig.store, opts...)
	return rig
}

func (r *testRig) ready(t *testing.T) {
	t.Helper()
	require.NoError(t, r.orch.Initialize(context.Background()))
}
