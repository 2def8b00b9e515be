package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestLocalEmbedderDeterministicUnitVectors(t *testing.T) {
	e, err := NewLocalEmbedder(128)
	require.NoError(t, err)

	vecs, err := e.Embed(context.Background(), []string{"insulin dosage guide", "insulin dosage guide"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 128)
	assert.Equal(t, vecs[0], vecs[1])
	assert.InDelta(t, 1.0, math.Sqrt(dot(vecs[0], vecs[0])), 1e-5)
}

func TestLocalEmbedderSimilarity(t *testing.T) {
	e, err := NewLocalEmbedder(384)
	require.NoError(t, err)

	vecs, err := e.Embed(context.Background(), []string{
		"insulin therapy for type 1 diabetes",
		"type 1 diabetes insulin therapy options",
		"the history of the roman empire",
	})
	require.NoError(t, err)

	assert.Greater(t, dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))
}

func TestLocalEmbedderEmptyText(t *testing.T) {
	e, err := NewLocalEmbedder(16)
	require.NoError(t, err)

	vecs, err := e.Embed(context.Background(), []string{""})
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 16), vecs[0])
}

func TestLocalEmbedderCancelled(t *testing.T) {
	e, err := NewLocalEmbedder(16)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Embed(ctx, []string{"text"})
	assert.ErrorIs(t, err, domain.ErrEmbedding)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewLocalEmbedderRejectsBadDimension(t *testing.T) {
	_, err := NewLocalEmbedder(0)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

func newEmbeddingServer(t *testing.T, dim int, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"error"}}`))
			return
		}

		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, dim)
			vec[i%dim] = 1
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": vec}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestOpenAIEmbedderEmbed(t *testing.T) {
	srv := newEmbeddingServer(t, 8, http.StatusOK)
	defer srv.Close()

	e, err := NewTEIEmbedder(RemoteOptions{BaseURL: srv.URL, Model: "test-model", Dimension: 8})
	require.NoError(t, err)

	vecs, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Len(t, vecs[0], 8)
	assert.Equal(t, "test-model", e.ModelName())
	assert.Equal(t, 8, e.Dimension())
}

func TestOpenAIEmbedderDimensionMismatch(t *testing.T) {
	srv := newEmbeddingServer(t, 4, http.StatusOK)
	defer srv.Close()

	e, err := NewTEIEmbedder(RemoteOptions{BaseURL: srv.URL, Model: "test-model", Dimension: 8})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, domain.ErrEmbedding)
	assert.False(t, domain.IsRetryable(err))
}

func TestOpenAIEmbedderClassifiesErrors(t *testing.T) {
	tests := []struct {
		status    int
		class     error
		retryable bool
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimited, true},
		{http.StatusUnauthorized, domain.ErrInvalidCredential, false},
		{http.StatusBadGateway, domain.ErrTransient, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := newEmbeddingServer(t, 8, tt.status)
			defer srv.Close()

			e, err := NewTEIEmbedder(RemoteOptions{BaseURL: srv.URL, Model: "test-model", Dimension: 8})
			require.NoError(t, err)

			_, err = e.Embed(context.Background(), []string{"a"})
			assert.ErrorIs(t, err, domain.ErrEmbedding)
			assert.ErrorIs(t, err, tt.class)
			assert.Equal(t, tt.retryable, domain.IsRetryable(err))
		})
	}
}

func TestNewRemoteEmbedderUnknownDimension(t *testing.T) {
	_, err := NewOpenAIEmbedder(RemoteOptions{Model: "mystery-model"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	e, err := NewOllamaEmbedder(RemoteOptions{Model: "nomic-embed-text"})
	require.NoError(t, err)
	assert.Equal(t, 768, e.Dimension())
}
