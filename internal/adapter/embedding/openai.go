package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"ragchat/internal/adapter/remote"
	"ragchat/internal/domain"
)

// OpenAIEmbedder calls any OpenAI-compatible /embeddings endpoint
// (OpenAI, Ollama, text-embeddings-inference) through langchaingo.
type OpenAIEmbedder struct {
	embedder  *embeddings.EmbedderImpl
	model     string
	dimension int
}

// RemoteOptions configures an OpenAI-compatible embedder.
type RemoteOptions struct {
	BaseURL   string
	Model     string
	APIKey    string
	Dimension int // 0 = derive from the model name
	BatchSize int
	Timeout   time.Duration
}

func NewOpenAIEmbedder(opts RemoteOptions) (*OpenAIEmbedder, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	return newRemoteEmbedder(opts)
}

func NewOllamaEmbedder(opts RemoteOptions) (*OpenAIEmbedder, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:11434/v1"
	}
	if opts.APIKey == "" {
		opts.APIKey = "ollama"
	}
	return newRemoteEmbedder(opts)
}

func NewTEIEmbedder(opts RemoteOptions) (*OpenAIEmbedder, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:8080/v1"
	}
	return newRemoteEmbedder(opts)
}

func newRemoteEmbedder(opts RemoteOptions) (*OpenAIEmbedder, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("%w: embedding model required", domain.ErrConfiguration)
	}
	dimension := opts.Dimension
	if dimension <= 0 {
		dimension = KnownDimension(opts.Model)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: unknown dimension for embedding model %q, set embedding.dimension", domain.ErrConfiguration, opts.Model)
	}

	// langchaingo refuses an empty token; TEI does not check it.
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = "placeholder"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	llm, err := openai.New(
		openai.WithBaseURL(opts.BaseURL),
		openai.WithModel(opts.Model),
		openai.WithEmbeddingModel(opts.Model),
		openai.WithToken(apiKey),
		openai.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: creating embedding client: %v", domain.ErrConfiguration, err)
	}

	embedOpts := []embeddings.Option{}
	if opts.BatchSize > 0 {
		embedOpts = append(embedOpts, embeddings.WithBatchSize(opts.BatchSize))
	}
	embedder, err := embeddings.NewEmbedder(llm, embedOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating embedder: %v", domain.ErrConfiguration, err)
	}

	return &OpenAIEmbedder{
		embedder:  embedder,
		model:     opts.Model,
		dimension: dimension,
	}, nil
}

// KnownDimension returns the output size of well-known embedding models,
// or 0 when the model is not recognised.
func KnownDimension(model string) int {
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large":
		return 1024
	case "all-minilm", "all-MiniLM-L6-v2", "sentence-transformers/all-MiniLM-L6-v2", "BAAI/bge-small-en-v1.5":
		return 384
	}
	return 0
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, remote.Wrap(domain.ErrEmbedding, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: %w: expected %d vectors, got %d",
			domain.ErrEmbedding, domain.ErrInvalidInput, len(texts), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != e.dimension {
			return nil, fmt.Errorf("%w: %w: vector %d has dimension %d, expected %d",
				domain.ErrEmbedding, domain.ErrInvalidInput, i, len(v), e.dimension)
		}
	}

	return vectors, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}
