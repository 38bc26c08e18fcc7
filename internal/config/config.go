// Package config loads process configuration from environment variables and
// an optional TOML or YAML file. Precedence, lowest first: built-in defaults,
// environment, file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dshills/hadith-search/internal/embedder"
	"github.com/dshills/hadith-search/internal/indexer"
	"github.com/dshills/hadith-search/internal/retriever"
	"github.com/dshills/hadith-search/internal/scorer"
	"github.com/dshills/hadith-search/pkg/types"
)

// Environment variables
const (
	EnvConfig          = "HADITH_CONFIG"
	EnvDataDir         = "HADITH_DATA_DIR"
	EnvLogLevel        = "HADITH_LOG_LEVEL"
	EnvLogFormat       = "HADITH_LOG_FORMAT"
	EnvDimension       = "HADITH_EMBEDDING_DIMENSION"
	EnvOverfetch       = "HADITH_OVERFETCH"
	EnvSearchTimeout   = "HADITH_SEARCH_TIMEOUT"
	EnvWorkers         = "HADITH_WORKERS"
	EnvMetricsAddr     = "HADITH_METRICS_ADDR"
	EnvWeightPreset    = "HADITH_WEIGHT_PRESET"
	defaultDataDirName = ".hadith-search"
)

// Duration is a time.Duration read from "10s"-style strings
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText renders the duration as a Go duration string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML parses a Go duration string from a YAML scalar
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// EmbeddingConfig selects and tunes the embedding provider
type EmbeddingConfig struct {
	Provider  string `toml:"provider" yaml:"provider"`
	Model     string `toml:"model" yaml:"model"`
	BaseURL   string `toml:"base_url" yaml:"base_url"`
	Dimension int    `toml:"dimension" yaml:"dimension"`
	CacheSize int    `toml:"cache_size" yaml:"cache_size"`

	// RequestsPerSecond limits calls to remote providers.
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`

	// APIKey comes from JINA_API_KEY or OPENAI_API_KEY only.
	APIKey string `toml:"-" yaml:"-"`
}

// SearchConfig tunes the query path
type SearchConfig struct {
	Overfetch int      `toml:"overfetch" yaml:"overfetch"`
	Timeout   Duration `toml:"timeout" yaml:"timeout"`
	Preset    string   `toml:"preset" yaml:"preset"`
	CacheSize int      `toml:"cache_size" yaml:"cache_size"`
	CacheTTL  Duration `toml:"cache_ttl" yaml:"cache_ttl"`
}

// IngestConfig tunes the ingestion pipeline
type IngestConfig struct {
	Workers   int `toml:"workers" yaml:"workers"`
	BatchSize int `toml:"batch_size" yaml:"batch_size"`
}

// Config is the full process configuration
type Config struct {
	DataDir     string `toml:"data_dir" yaml:"data_dir"`
	LogLevel    string `toml:"log_level" yaml:"log_level"`
	LogFormat   string `toml:"log_format" yaml:"log_format"`
	MetricsAddr string `toml:"metrics_addr" yaml:"metrics_addr"`

	Embedding EmbeddingConfig `toml:"embedding" yaml:"embedding"`
	Search    SearchConfig    `toml:"search" yaml:"search"`
	Ingest    IngestConfig    `toml:"ingest" yaml:"ingest"`

	// Weights adds or overrides named weight presets.
	Weights map[string]scorer.Weights `toml:"weights" yaml:"weights"`

	// Router tables; empty keeps the built-in lists.
	Narrators   []string `toml:"narrators" yaml:"narrators"`
	Templates   []string `toml:"templates" yaml:"templates"`
	Collections []string `toml:"collections" yaml:"collections"`

	// Path is the file the config was read from, if any.
	Path string `toml:"-" yaml:"-"`
}

// Default returns the built-in configuration
func Default() *Config {
	dataDir := defaultDataDirName
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, defaultDataDirName)
	}
	return &Config{
		DataDir:   dataDir,
		LogLevel:  "info",
		LogFormat: "text",
		Embedding: EmbeddingConfig{
			Provider:  embedder.ProviderLocal,
			CacheSize: embedder.DefaultCacheSize,
		},
		Search: SearchConfig{
			Overfetch: retriever.DefaultOverfetch,
			Timeout:   Duration{10 * time.Second},
			Preset:    scorer.PresetBalanced,
			CacheSize: 1000,
			CacheTTL:  Duration{10 * time.Minute},
		},
		Ingest: IngestConfig{
			Workers:   4,
			BatchSize: indexer.DefaultBatchSize,
		},
	}
}

// Load builds the configuration. path may be empty, in which case
// HADITH_CONFIG is consulted; no file at all is fine.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.applyEnv()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = embedder.DefaultDimension(cfg.Embedding.Provider)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DataDir = envString(EnvDataDir, c.DataDir)
	c.LogLevel = envString(EnvLogLevel, c.LogLevel)
	c.LogFormat = envString(EnvLogFormat, c.LogFormat)
	c.MetricsAddr = envString(EnvMetricsAddr, c.MetricsAddr)

	emb := embedder.ConfigFromEnv()
	c.Embedding.Provider = emb.Provider
	c.Embedding.APIKey = emb.APIKey
	c.Embedding.Model = envString(embedder.EnvModel, c.Embedding.Model)
	c.Embedding.BaseURL = envString(embedder.EnvBaseURL, c.Embedding.BaseURL)
	c.Embedding.Dimension = envInt(EnvDimension, c.Embedding.Dimension)

	c.Search.Overfetch = envInt(EnvOverfetch, c.Search.Overfetch)
	c.Search.Timeout = envDuration(EnvSearchTimeout, c.Search.Timeout)
	c.Search.Preset = envString(EnvWeightPreset, c.Search.Preset)

	c.Ingest.Workers = envInt(EnvWorkers, c.Ingest.Workers)
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	apiKey := c.Embedding.APIKey
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		return fmt.Errorf("%w: unsupported config format %q (want .toml, .yaml or .yml)", types.ErrInvalidArgument, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// A provider switch in the file needs the matching key from the env
	switch strings.ToLower(c.Embedding.Provider) {
	case embedder.ProviderJina:
		c.Embedding.APIKey = firstNonEmpty(os.Getenv(embedder.EnvJinaAPIKey), apiKey)
	case embedder.ProviderOpenAI:
		c.Embedding.APIKey = firstNonEmpty(os.Getenv(embedder.EnvOpenAIAPIKey), apiKey)
	}
	c.Path = path
	return nil
}

// Validate rejects values outside their contracts
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return invalid("data_dir must not be empty")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return invalid("log_format must be json or text, got %q", c.LogFormat)
	}
	switch strings.ToLower(c.Embedding.Provider) {
	case embedder.ProviderJina, embedder.ProviderOpenAI, embedder.ProviderLocal:
	default:
		return invalid("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimension < 0 {
		return invalid("embedding dimension must not be negative, got %d", c.Embedding.Dimension)
	}
	if c.Search.Overfetch < retriever.MinOverfetch {
		return invalid("overfetch must be at least %d, got %d", retriever.MinOverfetch, c.Search.Overfetch)
	}
	if c.Search.Timeout.Duration < 0 {
		return invalid("search timeout must not be negative")
	}
	if c.Ingest.Workers < 1 {
		return invalid("workers must be at least 1, got %d", c.Ingest.Workers)
	}
	if c.Ingest.BatchSize < 1 || c.Ingest.BatchSize > embedder.MaxBatchSize {
		return invalid("batch_size must be between 1 and %d, got %d", embedder.MaxBatchSize, c.Ingest.BatchSize)
	}
	for name, w := range c.Weights {
		if strings.TrimSpace(name) == "" {
			return invalid("weight preset names must not be empty")
		}
		if err := w.Validate(); err != nil {
			return fmt.Errorf("weights %q: %w", name, err)
		}
	}
	if _, ok := c.Weights[c.Search.Preset]; !ok {
		if _, err := scorer.Preset(c.Search.Preset); err != nil {
			return err
		}
	}
	return nil
}

// EmbedderConfig converts the embedding section for embedder.New
func (c *Config) EmbedderConfig() embedder.Config {
	guard := embedder.DefaultGuardConfig()
	if c.Embedding.RequestsPerSecond > 0 {
		guard.RequestsPerSecond = c.Embedding.RequestsPerSecond
	}
	return embedder.Config{
		Provider:  c.Embedding.Provider,
		APIKey:    c.Embedding.APIKey,
		Model:     c.Embedding.Model,
		BaseURL:   c.Embedding.BaseURL,
		Dimension: c.Embedding.Dimension,
		CacheSize: c.Embedding.CacheSize,
		Guard:     guard,
	}
}

// LexicalPath is the lexical index database file
func (c *Config) LexicalPath() string {
	return filepath.Join(c.DataDir, "lexical.db")
}

// VectorPath is the vector index database file
func (c *Config) VectorPath() string {
	return filepath.Join(c.DataDir, "vectors.db")
}

// ChecksumDir is the checksum store directory
func (c *Config) ChecksumDir() string {
	return filepath.Join(c.DataDir, "checksums")
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback Duration) Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var d Duration
	if err := d.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
