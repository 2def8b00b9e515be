package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/adapter/cache"
	"ragchat/internal/adapter/retry"
	"ragchat/internal/adapter/store"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

// State is the orchestrator lifecycle state. Per-request phases
// (retrieving, generating) are local to each Ask call.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateReady         State = "READY"
	StateShutdown      State = "SHUTDOWN"
)

// Request phases, used in logs and metrics.
const (
	phaseAdmission  = "admission"
	phaseValidation = "validation"
	phaseSession    = "session"
	phaseRetrieving = "retrieving"
	phaseGenerating = "generating"
	phaseDone       = "done"
)

// OrchestratorConfig holds per-request policy.
type OrchestratorConfig struct {
	TopK              int
	EmbeddingTimeout  time.Duration
	CompletionTimeout time.Duration
	RequireSessionID  bool
	DefaultSessionID  string
	SerializeSessions bool
}

// Orchestrator answers questions over a published index and owns the
// service lifecycle. The index pointer is swapped atomically on rebuild;
// requests already running keep the index they started with.
type Orchestrator struct {
	cfg           OrchestratorConfig
	builder       *IndexBuilder
	source        port.DocumentSource
	retriever     *Retriever
	assembler     *PromptAssembler
	completer     port.Completer
	conversations port.ConversationStore

	retry      port.RetryPolicy
	queryCache *cache.QueryCache
	logger     *zap.Logger
	metrics    *Metrics
	now        func() time.Time

	index      atomic.Pointer[store.VectorIndex]
	initMu     sync.Mutex
	rebuilding atomic.Bool

	lifecycle sync.RWMutex
	state     State
	inflight  sync.WaitGroup
}

type OrchestratorOption func(*Orchestrator)

func WithLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m *Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithCompletionRetry sets the retry policy for completion calls.
func WithCompletionRetry(p port.RetryPolicy) OrchestratorOption {
	return func(o *Orchestrator) {
		if p != nil {
			o.retry = p
		}
	}
}

// WithQueryCache makes the orchestrator invalidate c whenever it
// publishes a new index.
func WithQueryCache(c *cache.QueryCache) OrchestratorOption {
	return func(o *Orchestrator) { o.queryCache = c }
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(
	cfg OrchestratorConfig,
	builder *IndexBuilder,
	source port.DocumentSource,
	retriever *Retriever,
	assembler *PromptAssembler,
	completer port.Completer,
	conversations port.ConversationStore,
	opts ...OrchestratorOption,
) *Orchestrator {
	if cfg.TopK < 1 {
		cfg.TopK = 3
	}
	if cfg.EmbeddingTimeout <= 0 {
		cfg.EmbeddingTimeout = 30 * time.Second
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = 60 * time.Second
	}
	o := &Orchestrator{
		cfg:           cfg,
		builder:       builder,
		source:        source,
		retriever:     retriever,
		assembler:     assembler,
		completer:     completer,
		conversations: conversations,
		retry:         retry.None{},
		logger:        zap.NewNop(),
		now:           time.Now,
		state:         StateUninitialized,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.metrics.setReady(false)
	return o
}

// Initialize loads or builds the index and moves to READY. Calling it
// again once READY is a no-op; after a failure it may be retried.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.initMu.Lock()
	defer o.initMu.Unlock()

	switch o.State() {
	case StateReady:
		return nil
	case StateShutdown:
		return fmt.Errorf("%w: orchestrator is shut down", domain.ErrNotReady)
	}

	idx, res, err := o.builder.LoadOrBuild(ctx, o.source)
	if err != nil {
		o.logger.Error("initialization failed", zap.Error(err))
		return err
	}
	o.publish(idx)

	o.lifecycle.Lock()
	if o.state == StateUninitialized {
		o.state = StateReady
	}
	o.lifecycle.Unlock()
	o.metrics.setReady(true)

	o.logger.Info("orchestrator ready",
		zap.Bool("built", res.Built),
		zap.String("reason", res.Reason),
		zap.Int("entries", res.Entries),
		zap.Duration("duration", res.Duration),
	)
	return nil
}

func (o *Orchestrator) publish(idx *store.VectorIndex) {
	o.index.Store(idx)
	if o.queryCache != nil {
		o.queryCache.Invalidate()
	}
	o.metrics.setIndexEntries(idx.Len())
}

func (o *Orchestrator) State() State {
	o.lifecycle.RLock()
	defer o.lifecycle.RUnlock()
	return o.state
}

// enter admits a request while READY. Callers must call o.inflight.Done.
func (o *Orchestrator) enter() bool {
	o.lifecycle.RLock()
	defer o.lifecycle.RUnlock()
	if o.state != StateReady {
		return false
	}
	o.inflight.Add(1)
	return true
}

func (o *Orchestrator) resolveSession(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID != "" {
		return sessionID, nil
	}
	if o.cfg.RequireSessionID {
		return "", fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	return o.cfg.DefaultSessionID, nil
}

// Ask answers question within a session. Failures come back both as an
// Answer with Status error and as the classified error; a failed or
// abandoned request never records a turn.
func (o *Orchestrator) Ask(ctx context.Context, sessionID, question string) (domain.Answer, error) {
	start := o.now()
	ans := domain.Answer{SessionID: sessionID, Sources: []domain.SourceRef{}, At: start}

	fail := func(phase string, err error) (domain.Answer, error) {
		ans.Status = domain.StatusError
		ans.ErrorDetail = err.Error()
		ans.At = o.now()
		o.metrics.observeRequest(string(domain.StatusError), phase, o.now().Sub(start))
		o.logger.Warn("ask failed",
			zap.String("session_id", ans.SessionID),
			zap.String("phase", phase),
			zap.Error(err),
		)
		return ans, err
	}

	if !o.enter() {
		return fail(phaseAdmission, domain.ErrNotReady)
	}
	defer o.inflight.Done()

	question = strings.TrimSpace(question)
	if question == "" {
		return fail(phaseValidation, fmt.Errorf("%w: question is empty", domain.ErrValidation))
	}
	sessionID, err := o.resolveSession(sessionID)
	if err != nil {
		return fail(phaseValidation, err)
	}
	ans.SessionID = sessionID

	if o.cfg.SerializeSessions {
		release, err := o.conversations.Acquire(ctx, sessionID)
		if err != nil {
			return fail(phaseSession, err)
		}
		defer release()
	}

	idx := o.index.Load()
	if idx == nil || idx.Len() == 0 {
		return fail(phaseRetrieving, fmt.Errorf("%w: no index published", domain.ErrIndexUnavailable))
	}
	history := o.conversations.History(sessionID)

	retrieveCtx, cancel := context.WithTimeout(ctx, o.cfg.EmbeddingTimeout)
	chunks, err := o.retriever.Retrieve(retrieveCtx, idx, question, o.cfg.TopK)
	cancel()
	if err != nil {
		return fail(phaseRetrieving, err)
	}

	prompt := o.assembler.Assemble(chunks, history, question)

	completeCtx, cancel := context.WithTimeout(ctx, o.cfg.CompletionTimeout)
	text, err := o.complete(completeCtx, prompt)
	cancel()
	if err != nil {
		return fail(phaseGenerating, err)
	}

	// The caller may have gone away while the completion was finishing.
	if err := ctx.Err(); err != nil {
		return fail(phaseGenerating, err)
	}

	o.conversations.Append(sessionID, question, text)

	ans.Text = text
	ans.Status = domain.StatusSuccess
	ans.Sources = sourceRefs(chunks)
	ans.At = o.now()

	o.metrics.observeRequest(string(domain.StatusSuccess), phaseDone, o.now().Sub(start))
	o.logger.Info("ask answered",
		zap.String("session_id", sessionID),
		zap.Int("sources", len(chunks)),
		zap.Int("history_turns", len(history)),
		zap.Duration("duration", o.now().Sub(start)),
	)
	return ans, nil
}

func (o *Orchestrator) complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	defer func() { o.metrics.observeCall("completion", time.Since(start)) }()

	var text string
	err := o.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		text, err = o.completer.Complete(ctx, prompt)
		return err
	})
	if err != nil {
		if !errors.Is(err, domain.ErrCompletion) {
			err = fmt.Errorf("%w: %w", domain.ErrCompletion, err)
		}
		return "", err
	}
	return text, nil
}

func sourceRefs(chunks []domain.ScoredChunk) []domain.SourceRef {
	refs := make([]domain.SourceRef, len(chunks))
	for i, c := range chunks {
		refs[i] = domain.SourceRef{
			DocumentID: c.Chunk.DocID,
			ChunkIndex: c.Chunk.Index,
			Score:      c.Score,
		}
	}
	return refs
}

// Preview runs retrieval and prompt assembly without calling the
// completion service or recording anything.
func (o *Orchestrator) Preview(ctx context.Context, sessionID, question string) (string, []domain.ScoredChunk, error) {
	if !o.enter() {
		return "", nil, domain.ErrNotReady
	}
	defer o.inflight.Done()

	question = strings.TrimSpace(question)
	if question == "" {
		return "", nil, fmt.Errorf("%w: question is empty", domain.ErrValidation)
	}
	sessionID, err := o.resolveSession(sessionID)
	if err != nil {
		return "", nil, err
	}

	chunks, err := o.Retrieve(ctx, question, o.cfg.TopK)
	if err != nil {
		return "", nil, err
	}
	return o.assembler.Assemble(chunks, o.conversations.History(sessionID), question), chunks, nil
}

// Retrieve searches the published index directly.
func (o *Orchestrator) Retrieve(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error) {
	if o.State() != StateReady {
		return nil, domain.ErrNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.EmbeddingTimeout)
	defer cancel()
	return o.retriever.Retrieve(ctx, o.index.Load(), query, k)
}

// Rebuild builds a fresh index from the document source and publishes it.
// Only one rebuild runs at a time; requests keep using the previous index
// until the new one is published.
func (o *Orchestrator) Rebuild(ctx context.Context) (*IndexResult, error) {
	if o.State() != StateReady {
		return nil, domain.ErrNotReady
	}
	if !o.rebuilding.CompareAndSwap(false, true) {
		return nil, domain.ErrRebuildInProgress
	}
	defer o.rebuilding.Store(false)

	o.logger.Info("index rebuild started")
	idx, res, err := o.builder.Rebuild(ctx, o.source)
	if err != nil {
		o.logger.Error("index rebuild failed", zap.Error(err))
		return nil, err
	}
	o.publish(idx)
	o.logger.Info("index rebuild published",
		zap.Int("entries", res.Entries),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// Health reports readiness and the published index size.
func (o *Orchestrator) Health() domain.Health {
	state := o.State()
	h := domain.Health{
		Ready: state == StateReady,
		State: string(state),
	}
	if idx := o.index.Load(); idx != nil {
		h.IndexEntries = idx.Len()
		h.IndexBuiltAt = idx.Meta().BuiltAt
	}
	return h
}

// History returns the recorded turns of a session.
func (o *Orchestrator) History(sessionID string) ([]domain.Turn, error) {
	sessionID, err := o.resolveSession(sessionID)
	if err != nil {
		return nil, err
	}
	return o.conversations.History(sessionID), nil
}

// Shutdown stops admitting requests and waits for in-flight ones to
// finish or ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.lifecycle.Lock()
	o.state = StateShutdown
	o.lifecycle.Unlock()
	o.metrics.setReady(false)

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("orchestrator shut down")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted with requests in flight: %w", ctx.Err())
	}
}
