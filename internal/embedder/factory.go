package embedder

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Environment variables consulted by DetectProvider and ConfigFromEnv
const (
	EnvProvider     = "HADITH_EMBEDDING_PROVIDER"
	EnvModel        = "HADITH_EMBEDDING_MODEL"
	EnvBaseURL      = "HADITH_EMBEDDING_BASE_URL"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	BaseURL   string
	Dimension int // 0 means the provider default
	CacheSize int // 0 disables the cache

	Guard GuardConfig
}

// New creates an embedder with explicit configuration
func New(cfg Config, logger *slog.Logger) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		return NewJinaProvider(cfg, cache, logger)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg, cache, logger)
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension, cache)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// ConfigFromEnv builds a Config from the environment.
// Priority:
// 1. HADITH_EMBEDDING_PROVIDER (jina, openai, local)
// 2. Check for API keys: JINA_API_KEY, OPENAI_API_KEY
// 3. Default to local if no API keys found
func ConfigFromEnv() Config {
	provider := DetectProvider()
	cfg := Config{
		Provider:  provider,
		Model:     os.Getenv(EnvModel),
		BaseURL:   os.Getenv(EnvBaseURL),
		CacheSize: DefaultCacheSize,
	}
	switch provider {
	case ProviderJina:
		cfg.APIKey = os.Getenv(EnvJinaAPIKey)
	case ProviderOpenAI:
		cfg.APIKey = os.Getenv(EnvOpenAIAPIKey)
	}
	return cfg
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	if provider := os.Getenv(EnvProvider); provider != "" {
		return strings.ToLower(provider)
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}

// DefaultDimension returns the vector size a provider produces when no
// dimension is configured
func DefaultDimension(provider string) int {
	switch strings.ToLower(provider) {
	case ProviderJina:
		return JinaDimension
	case ProviderOpenAI:
		return OpenAIDimension
	default:
		return LocalDimension
	}
}
