package embedder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIProvider implements Embedder against any OpenAI-compatible
// embeddings endpoint through langchaingo
type OpenAIProvider struct {
	batcher
	client embeddings.Embedder
	guard  *guard
	logger *slog.Logger
}

// NewOpenAIProvider creates an OpenAI-compatible embedder. A BaseURL without
// an APIKey is allowed for self-hosted services that don't authenticate.
func NewOpenAIProvider(cfg Config, cache *Cache, logger *slog.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	if logger == nil {
		logger = slog.Default()
	}
	model := firstNonEmpty(cfg.Model, DefaultOpenAIModel)

	opts := []openai.Option{
		openai.WithToken(firstNonEmpty(cfg.APIKey, "none")),
		openai.WithEmbeddingModel(model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}

	emb, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(MaxBatchSize),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	p := &OpenAIProvider{
		batcher: batcher{
			provider:  ProviderOpenAI,
			model:     model,
			dimension: firstPositive(cfg.Dimension, OpenAIDimension),
			cache:     cache,
		},
		client: emb,
		guard:  newGuard(ProviderOpenAI, cfg.Guard, logger),
		logger: logger.With("component", "openai-embedder"),
	}
	p.fetch = func(ctx context.Context, texts []string) ([][]float32, error) {
		return p.guard.do(ctx, func(ctx context.Context) ([][]float32, error) {
			p.logger.Debug("generating embeddings", "count", len(texts))
			return p.client.EmbedDocuments(ctx, texts)
		})
	}
	return p, nil
}

func (o *OpenAIProvider) Close() error {
	return nil
}
