package embedder

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hadith-search/pkg/types"
)

func TestCheckTexts(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		wantErr bool
	}{
		{"valid", []string{"a", "b"}, false},
		{"empty batch", nil, true},
		{"empty text", []string{"a", ""}, true},
		{"too large", make([]string, MaxBatchSize+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkTexts(tt.texts)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.False(t, isRetryable(err))
		})
	}
}

func TestCache(t *testing.T) {
	cache := NewCache(2)

	cache.Store("m1", "patience", []float32{1, 2})
	got, ok := cache.Lookup("m1", "patience")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got)

	// Another model never sees the vector
	_, ok = cache.Lookup("m2", "patience")
	assert.False(t, ok)

	// Mutating the returned copy must not affect the cache
	got[0] = 99
	again, _ := cache.Lookup("m1", "patience")
	assert.Equal(t, float32(1), again[0])

	cache.Store("m1", "b", []float32{3})
	cache.Store("m1", "c", []float32{4})
	assert.Equal(t, 2, cache.Len())
	_, ok = cache.Lookup("m1", "patience")
	assert.False(t, ok)

	var none *Cache
	none.Store("m1", "x", []float32{1})
	_, ok = none.Lookup("m1", "x")
	assert.False(t, ok)
	assert.Zero(t, none.Len())
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	p, err := NewLocalProvider(64, NewCache(10))
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	assert.Equal(t, 64, p.Dimension())
	assert.Equal(t, ProviderLocal, p.Provider())

	t.Run("deterministic and unit length", func(t *testing.T) {
		a, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "the strong man controls himself"})
		require.NoError(t, err)
		b, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "the strong man controls himself"})
		require.NoError(t, err)

		assert.Equal(t, a.Vector, b.Vector)
		assert.Len(t, a.Vector, 64)
		var norm float64
		for _, v := range a.Vector {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	})

	t.Run("shared words are closer", func(t *testing.T) {
		wide, err := NewLocalProvider(0, nil)
		require.NoError(t, err)
		base, _ := Vector(ctx, wide, "patience at the first stroke of calamity")
		near, _ := Vector(ctx, wide, "patience in calamity")
		far, _ := Vector(ctx, wide, "wudu ablution prayer water")

		assert.Greater(t, dot(base, near), dot(base, far))
	})

	t.Run("batch preserves order", func(t *testing.T) {
		resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"first", "second", "first"}})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 3)
		assert.Equal(t, resp.Embeddings[0].Vector, resp.Embeddings[2].Vector)
		assert.NotEqual(t, resp.Embeddings[0].Vector, resp.Embeddings[1].Vector)
	})

	t.Run("arabic text", func(t *testing.T) {
		plain, err := Vector(ctx, p, "الصبر")
		require.NoError(t, err)
		vocalized, err := Vector(ctx, p, "الصَّبْرُ")
		require.NoError(t, err)
		assert.Equal(t, plain, vocalized)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := p.GenerateEmbedding(cctx, EmbeddingRequest{Text: "never cached before"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBatcherDimensionContract(t *testing.T) {
	calls := 0
	b := &batcher{provider: "test", model: "m", dimension: 4, cache: NewCache(10)}
	b.fetch = func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = make([]float32, 3)
		}
		return out, nil
	}

	_, err := b.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDimensionMismatch))
	assert.Zero(t, b.cache.Len())

	b.fetch = func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		return nil, nil
	}
	_, err = b.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Equal(t, 2, calls)
}

func TestNormalizeVector(t *testing.T) {
	assert.Equal(t, []float32{0.6, 0.8}, NormalizeVector([]float32{3, 4}))
	zero := []float32{0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
