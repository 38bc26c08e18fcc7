package embedder

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/hadith-search/pkg/types"
)

var (
	// ErrInvalidInput marks an empty text or an oversized batch. Never retried.
	ErrInvalidInput = errors.New("invalid embedding input")
	// ErrProviderFailed wraps transport, API and circuit-breaker failures.
	ErrProviderFailed = errors.New("embedding provider failed")
	// ErrUnknownProvider is returned by New for an unrecognized provider name.
	ErrUnknownProvider = errors.New("unknown embedding provider")
	// ErrNoProviderEnabled means a remote provider was chosen without credentials.
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// Embedding is one vector; its length is the Dimension of the embedder that
// produced it
type Embedding struct {
	Vector   []float32
	Provider string
	Model    string
}

// EmbeddingRequest asks for the vector of one document or query text
type EmbeddingRequest struct {
	Text string
}

// BatchEmbeddingRequest asks for one vector per text
type BatchEmbeddingRequest struct {
	Texts []string
}

// BatchEmbeddingResponse holds one embedding per requested text, in request order
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder turns text into fixed-length vectors.
//
// Every vector an Embedder returns has exactly Dimension() components; a
// provider answering with another size fails with an error matching
// types.ErrDimensionMismatch. Output must be deterministic for identical
// input so that re-ingesting an unchanged corpus rewrites nothing.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch embeds up to MaxBatchSize texts in one call
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	Dimension() int
	Provider() string
	Model() string

	Close() error
}

// Vector returns just the vector for text
func Vector(ctx context.Context, e Embedder, text string) ([]float32, error) {
	emb, err := e.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
	if err != nil {
		return nil, err
	}
	return emb.Vector, nil
}

// Cache holds vectors keyed by model and text digest, so a model switch never
// serves a vector of the wrong model. A nil *Cache is valid and stores nothing.
type Cache struct {
	entries *lru.Cache[cacheKey, []float32]
}

type cacheKey struct {
	model  string
	digest [sha256.Size]byte
}

// NewCache creates a cache holding up to size vectors (DefaultCacheSize when
// size <= 0)
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, _ := lru.New[cacheKey, []float32](size)
	return &Cache{entries: entries}
}

// Lookup returns a copy of the cached vector for text under model
func (c *Cache) Lookup(model, text string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.entries.Get(cacheKey{model: model, digest: sha256.Sum256([]byte(text))})
	if !ok {
		return nil, false
	}
	return append([]float32(nil), v...), true
}

// Store keeps a copy of vec for text under model
func (c *Cache) Store(model, text string, vec []float32) {
	if c == nil {
		return
	}
	c.entries.Add(cacheKey{model: model, digest: sha256.Sum256([]byte(text))}, append([]float32(nil), vec...))
}

// Len reports how many vectors are cached
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

// batcher is what every provider shares: input checks, the cache and the
// dimension contract. fetch only ever sees cache misses.
type batcher struct {
	provider  string
	model     string
	dimension int
	cache     *Cache
	fetch     func(ctx context.Context, texts []string) ([][]float32, error)
}

func (b *batcher) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	resp, err := b.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (b *batcher) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := checkTexts(req.Texts); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(req.Texts))
	var (
		missIdx   []int
		missTexts []string
	)
	for i, text := range req.Texts {
		if v, ok := b.cache.Lookup(b.model, text); ok {
			vectors[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) > 0 {
		fetched, err := b.fetch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(fetched) != len(missTexts) {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(missTexts), len(fetched))
		}
		for j, v := range fetched {
			if len(v) != b.dimension {
				return nil, &types.DimensionError{Expected: b.dimension, Actual: len(v)}
			}
			b.cache.Store(b.model, missTexts[j], v)
			vectors[missIdx[j]] = v
		}
	}

	out := make([]*Embedding, len(vectors))
	for i, v := range vectors {
		out[i] = &Embedding{Vector: v, Provider: b.provider, Model: b.model}
	}
	return &BatchEmbeddingResponse{Embeddings: out, Provider: b.provider, Model: b.model}, nil
}

func (b *batcher) Dimension() int {
	return b.dimension
}

func (b *batcher) Provider() string {
	return b.provider
}

func (b *batcher) Model() string {
	return b.model
}

func checkTexts(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts", ErrInvalidInput)
	}
	if len(texts) > MaxBatchSize {
		return fmt.Errorf("%w: %d texts exceeds the batch limit of %d", ErrInvalidInput, len(texts), MaxBatchSize)
	}
	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text %d is empty", ErrInvalidInput, i)
		}
	}
	return nil
}
