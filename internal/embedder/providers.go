package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/dshills/hadith-search/internal/textutil"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "local-hash-v1"

	DefaultJinaBaseURL = "https://api.jina.ai/v1"

	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	DefaultCacheSize = 10000
	MaxBatchSize     = 100

	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// JinaProvider implements Embedder using the Jina AI embeddings API
type JinaProvider struct {
	batcher
	apiKey     string
	baseURL    string
	httpClient *http.Client
	guard      *guard
}

// NewJinaProvider creates a Jina embedder. Zero values in cfg fall back to the
// Jina defaults.
func NewJinaProvider(cfg Config, cache *Cache, logger *slog.Logger) (*JinaProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}
	p := &JinaProvider{
		batcher: batcher{
			provider:  ProviderJina,
			model:     firstNonEmpty(cfg.Model, DefaultJinaModel),
			dimension: firstPositive(cfg.Dimension, JinaDimension),
			cache:     cache,
		},
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(firstNonEmpty(cfg.BaseURL, DefaultJinaBaseURL), "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		guard:      newGuard(ProviderJina, cfg.Guard, logger),
	}
	p.fetch = func(ctx context.Context, texts []string) ([][]float32, error) {
		return p.guard.do(ctx, func(ctx context.Context) ([][]float32, error) {
			return p.callAPI(ctx, texts)
		})
	}
	return p, nil
}

func (j *JinaProvider) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"input":      texts,
		"model":      j.model,
		"dimensions": j.dimension,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.apiKey)

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
		// 4xx other than throttling won't succeed on retry
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanent(apiErr)
		}
		return nil, apiErr
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(texts), len(apiResp.Data))
	}

	vectors := make([][]float32, len(apiResp.Data))
	for _, data := range apiResp.Data {
		if data.Index < 0 || data.Index >= len(vectors) {
			return nil, fmt.Errorf("%w: response index %d out of range", ErrProviderFailed, data.Index)
		}
		vectors[data.Index] = data.Embedding
	}
	return vectors, nil
}

func (j *JinaProvider) Close() error {
	j.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider is an offline, deterministic embedder. It feature-hashes the
// folded tokens of the text into a signed bag-of-words vector, so texts that
// share words point in similar directions. Quality is far below a trained
// model; it exists for tests and air-gapped indexing.
type LocalProvider struct {
	batcher
}

// NewLocalProvider creates a local embedder with the given dimension
// (LocalDimension when dimension <= 0)
func NewLocalProvider(dimension int, cache *Cache) (*LocalProvider, error) {
	l := &LocalProvider{batcher{
		provider:  ProviderLocal,
		model:     DefaultLocalModel,
		dimension: firstPositive(dimension, LocalDimension),
		cache:     cache,
	}}
	l.fetch = func(ctx context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out[i] = l.hashVector(text)
		}
		return out, nil
	}
	return l, nil
}

func (l *LocalProvider) hashVector(text string) []float32 {
	vector := make([]float32, l.dimension)
	tokens := textutil.Tokenize(text)
	if len(tokens) == 0 {
		tokens = []string{text}
	}
	for _, tok := range tokens {
		sum := sha256.Sum256([]byte(tok))
		idx := binary.LittleEndian.Uint32(sum[0:4]) % uint32(l.dimension)
		sign := float32(1)
		if sum[4]&1 == 1 {
			sign = -1
		}
		vector[idx] += sign
	}
	return NormalizeVector(vector)
}

func (l *LocalProvider) Close() error {
	return nil
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}
	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
