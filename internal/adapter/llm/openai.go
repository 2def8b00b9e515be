// Package llm adapts hosted chat-completion services to port.Completer.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"ragchat/internal/adapter/remote"
	"ragchat/internal/domain"
)

// Options configures an OpenAI-compatible completion client.
type Options struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	Timeout     time.Duration
	RateLimit   float64 // requests per second, 0 = unlimited
}

// ProviderBaseURL returns the default endpoint for a provider name.
func ProviderBaseURL(provider string) string {
	switch provider {
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return "https://api.openai.com/v1"
	}
}

// OpenAICompleter sends single-prompt completions to Groq, OpenAI or
// Ollama through their OpenAI-compatible chat endpoint.
type OpenAICompleter struct {
	llm         llms.Model
	model       string
	temperature float64
	timeout     time.Duration
	limiter     *rate.Limiter
}

func NewOpenAICompleter(opts Options) (*OpenAICompleter, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("%w: completion model required", domain.ErrConfiguration)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = ProviderBaseURL("")
	}
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = "placeholder"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client, err := openai.New(
		openai.WithBaseURL(opts.BaseURL),
		openai.WithModel(opts.Model),
		openai.WithToken(apiKey),
		openai.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: creating completion client: %v", domain.ErrConfiguration, err)
	}

	return newCompleter(client, opts.Model, opts.Temperature, timeout, opts.RateLimit), nil
}

func newCompleter(model llms.Model, name string, temperature float64, timeout time.Duration, rps float64) *OpenAICompleter {
	c := &OpenAICompleter{
		llm:         model,
		model:       name,
		temperature: temperature,
		timeout:     timeout,
	}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return c
}

// Complete returns the model's text for prompt. Failures are wrapped in
// domain.ErrCompletion together with their transport class.
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: rate limiter: %w", domain.ErrCompletion, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, llms.WithTemperature(c.temperature))
	if err != nil {
		return "", remote.Wrap(domain.ErrCompletion, err)
	}
	return strings.TrimSpace(text), nil
}

func (c *OpenAICompleter) ModelName() string {
	return c.model
}
