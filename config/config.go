package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ragchat/internal/domain"
)

// Config holds all configuration for ragchat.
type Config struct {
	Corpus       CorpusConfig       `yaml:"corpus"`
	Index        IndexConfig        `yaml:"index"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Completion   CompletionConfig   `yaml:"completion"`
	Retrieve     RetrieveConfig     `yaml:"retrieve"`
	Conversation ConversationConfig `yaml:"conversation"`
	Prompt       PromptConfig       `yaml:"prompt"`
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// CorpusConfig describes where documents are read from.
type CorpusConfig struct {
	Dir      string   `yaml:"dir"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
	PDFTool  string   `yaml:"pdf_tool"`
}

// IndexConfig holds chunking and index storage configuration.
type IndexConfig struct {
	Path         string `yaml:"path"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider       string        `yaml:"provider"` // "openai", "ollama", "tei", "local"
	Model          string        `yaml:"model"`
	BaseURL        string        `yaml:"base_url"`
	APIKeyEnv      string        `yaml:"api_key_env"`
	Dimension      int           `yaml:"dimension"`
	BatchSize      int           `yaml:"batch_size"`
	Timeout        time.Duration `yaml:"timeout"`
	QueryCacheSize int           `yaml:"query_cache_size"`
	QueryCacheTTL  time.Duration `yaml:"query_cache_ttl"`
	Retry          RetryConfig   `yaml:"retry"`
}

// CompletionConfig holds the language-model configuration.
type CompletionConfig struct {
	Provider    string        `yaml:"provider"` // "groq", "openai", "ollama"
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"` // empty = provider default
	APIKeyEnv   string        `yaml:"api_key_env"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimit   float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Retry       RetryConfig   `yaml:"retry"`
}

// RetryConfig configures retries of transient remote errors.
// MaxAttempts <= 1 disables retrying.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"` // Filter results below this score (0 = disabled)
}

// ConversationConfig holds session handling configuration.
type ConversationConfig struct {
	MaxPromptTurns    int    `yaml:"max_prompt_turns"` // 0 = all stored turns
	MaxStoredTurns    int    `yaml:"max_stored_turns"` // 0 = unbounded
	RequireSessionID  bool   `yaml:"require_session_id"`
	DefaultSessionID  string `yaml:"default_session_id"`
	SerializeSessions bool   `yaml:"serialize_sessions"`
}

// PromptConfig selects the instructional template.
type PromptConfig struct {
	TemplateFile string `yaml:"template_file"`
}

// ServerConfig holds HTTP configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	IssueSessionIDs bool          `yaml:"issue_session_ids"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Corpus: CorpusConfig{
			Dir:      "Data",
			Includes: []string{"**/*.pdf", "**/*.txt", "**/*.md"},
			Excludes: []string{"**/.git/**", "**/.ragchat/**", "**/node_modules/**"},
			PDFTool:  "pdftotext",
		},
		Index: IndexConfig{
			Path:         filepath.Join(".ragchat", "index.db"),
			ChunkSize:    500,
			ChunkOverlap: 50,
		},
		Embedding: EmbeddingConfig{
			Provider:       "local",
			Model:          "hashing-v1",
			APIKeyEnv:      "OPENAI_API_KEY",
			Dimension:      384,
			BatchSize:      64,
			Timeout:        30 * time.Second,
			QueryCacheSize: 256,
			QueryCacheTTL:  10 * time.Minute,
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		Completion: CompletionConfig{
			Provider:    "groq",
			Model:       "llama-3.3-70b-versatile",
			APIKeyEnv:   "GROQ_API_KEY",
			Temperature: 0,
			Timeout:     60 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:     1,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		Retrieve: RetrieveConfig{
			TopK: 3,
		},
		Conversation: ConversationConfig{
			MaxPromptTurns:    5,
			DefaultSessionID:  "default",
			SerializeSessions: true,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			CORSOrigins:     []string{"http://localhost:3000", "http://127.0.0.1:3000"},
			RequestTimeout:  90 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			IssueSessionIDs: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrConfiguration, path, err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for ragchat.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "ragchat.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".ragchat", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// LoadEnv loads a .env file from dir into the process environment.
// Variables already set are left untouched. A missing file is not an error.
func LoadEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the configuration that the pipeline depends on.
func (c *Config) Validate() error {
	var problems []string

	if c.Index.ChunkSize <= 0 {
		problems = append(problems, "index.chunk_size must be positive")
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		problems = append(problems, "index.chunk_overlap must satisfy 0 <= overlap < chunk_size")
	}
	if c.Index.Path == "" {
		problems = append(problems, "index.path is required")
	}
	if c.Retrieve.TopK < 1 {
		problems = append(problems, "retrieve.top_k must be at least 1")
	}
	if c.Conversation.MaxPromptTurns < 0 {
		problems = append(problems, "conversation.max_prompt_turns must not be negative")
	}
	if !c.Conversation.RequireSessionID && c.Conversation.DefaultSessionID == "" {
		problems = append(problems, "conversation.default_session_id is required unless require_session_id is set")
	}
	if c.Embedding.Timeout <= 0 || c.Completion.Timeout <= 0 {
		problems = append(problems, "embedding.timeout and completion.timeout must be positive")
	}
	switch c.Embedding.Provider {
	case "local":
		if c.Embedding.Dimension <= 0 {
			problems = append(problems, "embedding.dimension must be positive for the local provider")
		}
	case "openai", "ollama", "tei":
		if c.Embedding.Model == "" {
			problems = append(problems, "embedding.model is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported embedding provider: %q", c.Embedding.Provider))
	}
	switch c.Completion.Provider {
	case "groq", "openai", "ollama":
	default:
		problems = append(problems, fmt.Sprintf("unsupported completion provider: %q", c.Completion.Provider))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// ResolveAPIKey returns the value of the environment variable named by env.
// Ollama runs without credentials.
func ResolveAPIKey(provider, env string) (string, error) {
	if provider == "ollama" || provider == "tei" {
		return os.Getenv(env), nil
	}
	if env == "" {
		return "", fmt.Errorf("%w: no API key variable configured for %s", domain.ErrConfiguration, provider)
	}
	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("%w: %s environment variable is not set", domain.ErrConfiguration, env)
	}
	return key, nil
}

// ResolvePath makes p absolute relative to root.
func ResolvePath(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// EnsureDir ensures the parent directory of the index file exists.
func EnsureDir(indexPath string) error {
	return os.MkdirAll(filepath.Dir(indexPath), 0755)
}
