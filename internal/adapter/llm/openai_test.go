package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"ragchat/internal/domain"
)

// fakeModel is an llms.Model that records prompts.
type fakeModel struct {
	reply   string
	err     error
	prompts []string
	calls   atomic.Int32
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls.Add(1)
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				m.prompts = append(m.prompts, text.Text)
			}
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestCompleteTrimsReply(t *testing.T) {
	model := &fakeModel{reply: "  Eat more fibre.\n"}
	c := newCompleter(model, "fake", 0, time.Second, 0)

	got, err := c.Complete(context.Background(), "prompt text")
	require.NoError(t, err)
	assert.Equal(t, "Eat more fibre.", got)
	assert.Equal(t, []string{"prompt text"}, model.prompts)
	assert.Equal(t, "fake", c.ModelName())
}

func TestCompleteWrapsErrors(t *testing.T) {
	model := &fakeModel{err: errors.New("API returned unexpected status code: 429: rate limit reached")}
	c := newCompleter(model, "fake", 0, time.Second, 0)

	_, err := c.Complete(context.Background(), "prompt")
	assert.ErrorIs(t, err, domain.ErrCompletion)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.True(t, domain.IsRetryable(err))
}

func TestCompleteRateLimiterHonoursContext(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	c := newCompleter(model, "fake", 0, time.Second, 0.001)

	_, err := c.Complete(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, "second")
	assert.ErrorIs(t, err, domain.ErrCompletion)
	assert.Equal(t, int32(1), model.calls.Load())
}

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"messages"`
}

func TestOpenAICompleterAgainstChatEndpoint(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotModel = req.Model
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": "Monitor blood glucose daily."},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 5, "completion_tokens": 5, "total_tokens": 10},
		})
	}))
	defer srv.Close()

	c, err := NewOpenAICompleter(Options{BaseURL: srv.URL, Model: "llama-3.3-70b-versatile", APIKey: "k", Timeout: 5 * time.Second})
	require.NoError(t, err)

	got, err := c.Complete(context.Background(), "How often should I test?")
	require.NoError(t, err)
	assert.Equal(t, "Monitor blood glucose daily.", got)
	assert.Equal(t, "llama-3.3-70b-versatile", gotModel)
}

func TestOpenAICompleterUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid API Key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c, err := NewOpenAICompleter(Options{BaseURL: srv.URL, Model: "m", APIKey: "bad", Timeout: 5 * time.Second})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "hi")
	assert.ErrorIs(t, err, domain.ErrCompletion)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
	assert.False(t, domain.IsRetryable(err))
}

func TestNewOpenAICompleterRequiresModel(t *testing.T) {
	_, err := NewOpenAICompleter(Options{})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestProviderBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.groq.com/openai/v1", ProviderBaseURL("groq"))
	assert.Equal(t, "http://localhost:11434/v1", ProviderBaseURL("ollama"))
	assert.Equal(t, "https://api.openai.com/v1", ProviderBaseURL("openai"))
}
