package cli

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"ragchat/config"
	"ragchat/internal/adapter/cache"
	"ragchat/internal/adapter/chunker"
	"ragchat/internal/adapter/embedding"
	"ragchat/internal/adapter/fs"
	"ragchat/internal/adapter/llm"
	"ragchat/internal/adapter/memstore"
	"ragchat/internal/adapter/retry"
	"ragchat/internal/adapter/store"
	"ragchat/internal/port"
	"ragchat/internal/usecase"
)

// pipeline holds the components shared by every command.
type pipeline struct {
	cfg       *config.Config
	root      string
	logger    *zap.Logger
	metrics   *usecase.Metrics
	loader    *fs.Loader
	storage   *store.BoltIndexStorage
	builder   *usecase.IndexBuilder
	retriever *usecase.Retriever
	cache     *cache.QueryCache
}

// newPipeline wires the indexing and retrieval side. reg may be nil.
func newPipeline(cfg *config.Config, root string, logger *zap.Logger, reg prometheus.Registerer, opts ...usecase.IndexBuilderOption) (*pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var metrics *usecase.Metrics
	if reg != nil {
		metrics = usecase.NewMetrics(reg)
	}

	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	chk, err := chunker.NewWindowChunker(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	indexPath := config.ResolvePath(root, cfg.Index.Path)
	if err := config.EnsureDir(indexPath); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	storage := store.NewBoltIndexStorage(indexPath)

	embedRetry := retry.New(
		cfg.Embedding.Retry.MaxAttempts,
		cfg.Embedding.Retry.InitialInterval,
		cfg.Embedding.Retry.MaxInterval,
		logger.Named("retry"),
	)

	builderOpts := []usecase.IndexBuilderOption{
		usecase.WithBatchSize(cfg.Embedding.BatchSize),
		usecase.WithIndexRetry(embedRetry),
		usecase.WithIndexLogger(logger.Named("index")),
		usecase.WithIndexMetrics(metrics),
	}
	builder := usecase.NewIndexBuilder(chk, embedder, storage, append(builderOpts, opts...)...)

	var (
		queryCache    *cache.QueryCache
		queryEmbedder port.Embedder = embedder
	)
	if cfg.Embedding.QueryCacheSize > 0 {
		queryCache = cache.NewQueryCache(cfg.Embedding.QueryCacheSize, cfg.Embedding.QueryCacheTTL)
		queryEmbedder = cache.NewCachedEmbedder(embedder, queryCache)
	}
	retriever := usecase.NewRetriever(queryEmbedder, embedRetry, metrics, cfg.Retrieve.MinScore)

	loader := fs.NewLoader(
		config.ResolvePath(root, cfg.Corpus.Dir),
		fs.NewWalker(cfg.Corpus.Includes, cfg.Corpus.Excludes),
		fs.WithPDFTool(cfg.Corpus.PDFTool),
		fs.WithLogger(logger.Named("corpus")),
	)

	return &pipeline{
		cfg:       cfg,
		root:      root,
		logger:    logger,
		metrics:   metrics,
		loader:    loader,
		storage:   storage,
		builder:   builder,
		retriever: retriever,
		cache:     queryCache,
	}, nil
}

// orchestrator completes the pipeline with a completer and a conversation
// store. A nil completer is only valid for dry runs.
func (p *pipeline) orchestrator(completer port.Completer) (*usecase.Orchestrator, error) {
	template := ""
	if p.cfg.Prompt.TemplateFile != "" {
		var err error
		template, err = usecase.LoadTemplate(config.ResolvePath(p.root, p.cfg.Prompt.TemplateFile))
		if err != nil {
			return nil, err
		}
	}
	assembler, err := usecase.NewPromptAssembler(template, p.cfg.Conversation.MaxPromptTurns)
	if err != nil {
		return nil, err
	}

	conversations := memstore.NewConversationStore(
		memstore.WithMaxStoredTurns(p.cfg.Conversation.MaxStoredTurns),
	)

	completionRetry := retry.New(
		p.cfg.Completion.Retry.MaxAttempts,
		p.cfg.Completion.Retry.InitialInterval,
		p.cfg.Completion.Retry.MaxInterval,
		p.logger.Named("retry"),
	)

	opts := []usecase.OrchestratorOption{
		usecase.WithLogger(p.logger.Named("orchestrator")),
		usecase.WithMetrics(p.metrics),
		usecase.WithCompletionRetry(completionRetry),
	}
	if p.cache != nil {
		opts = append(opts, usecase.WithQueryCache(p.cache))
	}

	return usecase.NewOrchestrator(
		usecase.OrchestratorConfig{
			TopK:              p.cfg.Retrieve.TopK,
			EmbeddingTimeout:  p.cfg.Embedding.Timeout,
			CompletionTimeout: p.cfg.Completion.Timeout,
			RequireSessionID:  p.cfg.Conversation.RequireSessionID,
			DefaultSessionID:  p.cfg.Conversation.DefaultSessionID,
			SerializeSessions: p.cfg.Conversation.SerializeSessions,
		},
		p.builder,
		p.loader,
		p.retriever,
		assembler,
		completer,
		conversations,
		opts...,
	), nil
}

func newEmbedder(cfg config.EmbeddingConfig) (port.Embedder, error) {
	if cfg.Provider == "local" {
		e, err := embedding.NewLocalEmbedder(cfg.Dimension)
		if err != nil {
			return nil, err
		}
		return e, nil
	}

	key, err := config.ResolveAPIKey(cfg.Provider, cfg.APIKeyEnv)
	if err != nil {
		return nil, err
	}
	opts := embedding.RemoteOptions{
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		APIKey:    key,
		Dimension: cfg.Dimension,
		BatchSize: cfg.BatchSize,
		Timeout:   cfg.Timeout,
	}

	var e *embedding.OpenAIEmbedder
	switch cfg.Provider {
	case "openai":
		e, err = embedding.NewOpenAIEmbedder(opts)
	case "ollama":
		e, err = embedding.NewOllamaEmbedder(opts)
	case "tei":
		e, err = embedding.NewTEIEmbedder(opts)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func newCompleter(cfg config.CompletionConfig) (port.Completer, error) {
	key, err := config.ResolveAPIKey(cfg.Provider, cfg.APIKeyEnv)
	if err != nil {
		return nil, err
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = llm.ProviderBaseURL(cfg.Provider)
	}
	c, err := llm.NewOpenAICompleter(llm.Options{
		BaseURL:     baseURL,
		Model:       cfg.Model,
		APIKey:      key,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
		RateLimit:   cfg.RateLimit,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
