package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hadith-search/pkg/types"
)

func fastGuard() GuardConfig {
	return GuardConfig{
		RequestsPerSecond: 1000,
		Burst:             10,
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
			Multiplier: 2,
		},
		BreakerMinRequests:  2,
		BreakerFailureRatio: 0.5,
		BreakerOpenTimeout:  time.Minute,
	}
}

// jinaServer answers with vectors of the given size; failFirst requests get a 503
func jinaServer(t *testing.T, dim int, failFirst int32, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		if n <= failFirst {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}

		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			v := make([]float32, dim)
			v[0] = float32(i + 1)
			// Reverse order to exercise index placement
			data[len(req.Input)-1-i] = item{Index: i, Embedding: v}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"model": DefaultJinaModel, "data": data})
	}))
}

func TestJinaProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("requires api key", func(t *testing.T) {
		_, err := NewJinaProvider(Config{}, nil, nil)
		assert.ErrorIs(t, err, ErrNoProviderEnabled)
	})

	t.Run("batch in index order and cached", func(t *testing.T) {
		var calls int32
		srv := jinaServer(t, 8, 0, &calls)
		defer srv.Close()

		p, err := NewJinaProvider(Config{APIKey: "test-key", BaseURL: srv.URL, Dimension: 8, Guard: fastGuard()}, NewCache(10), nil)
		require.NoError(t, err)
		defer func() { _ = p.Close() }()

		resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"a", "b"}})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 2)
		assert.Equal(t, float32(1), resp.Embeddings[0].Vector[0])
		assert.Equal(t, float32(2), resp.Embeddings[1].Vector[0])

		_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "a"})
		require.NoError(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("retries transient failures", func(t *testing.T) {
		var calls int32
		srv := jinaServer(t, 4, 2, &calls)
		defer srv.Close()

		p, err := NewJinaProvider(Config{APIKey: "test-key", BaseURL: srv.URL, Dimension: 4, Guard: fastGuard()}, nil, nil)
		require.NoError(t, err)

		emb, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "retry me"})
		require.NoError(t, err)
		assert.Len(t, emb.Vector, 4)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("dimension mismatch is not retried", func(t *testing.T) {
		var calls int32
		srv := jinaServer(t, 3, 0, &calls)
		defer srv.Close()

		p, err := NewJinaProvider(Config{APIKey: "test-key", BaseURL: srv.URL, Dimension: 4, Guard: fastGuard()}, nil, nil)
		require.NoError(t, err)

		_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "x"})
		assert.ErrorIs(t, err, types.ErrDimensionMismatch)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("client errors are permanent", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			http.Error(w, "bad key", http.StatusUnauthorized)
		}))
		defer srv.Close()

		p, err := NewJinaProvider(Config{APIKey: "test-key", BaseURL: srv.URL, Guard: fastGuard()}, nil, nil)
		require.NoError(t, err)

		_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("breaker opens after repeated failures", func(t *testing.T) {
		var calls int32
		srv := jinaServer(t, 4, 1000, &calls)
		defer srv.Close()

		p, err := NewJinaProvider(Config{APIKey: "test-key", BaseURL: srv.URL, Dimension: 4, Guard: fastGuard()}, nil, nil)
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "x"})
			assert.ErrorIs(t, err, ErrProviderFailed)
		}
		before := atomic.LoadInt32(&calls)

		_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "x"})
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.True(t, IsCircuitOpen(err))
		assert.Equal(t, before, atomic.LoadInt32(&calls))
	})
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}

	t.Run("succeeds after failures", func(t *testing.T) {
		attempts := 0
		got, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			attempts++
			if attempts < 3 {
				return 0, assert.AnError
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.Equal(t, 3, attempts)
	})

	t.Run("returns last error", func(t *testing.T) {
		attempts := 0
		_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			attempts++
			return 0, assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, 3, attempts)
	})

	t.Run("permanent stops immediately", func(t *testing.T) {
		attempts := 0
		_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			attempts++
			return 0, permanent(assert.AnError)
		})
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, 1, attempts)
	})

	t.Run("context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := retryWithBackoff(ctx, cfg, func() (int, error) {
			return 0, assert.AnError
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewOpenAIProvider(t *testing.T) {
	_, err := NewOpenAIProvider(Config{}, nil, nil)
	assert.ErrorIs(t, err, ErrNoProviderEnabled)

	p, err := NewOpenAIProvider(Config{BaseURL: "http://localhost:1/v1", Dimension: 768}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 768, p.Dimension())
	assert.Equal(t, DefaultOpenAIModel, p.Model())
	assert.Equal(t, ProviderOpenAI, p.Provider())
}
