package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hadith-search/pkg/types"
)

func setupVector(t *testing.T, dim int) *SQLiteVectorIndex {
	t.Helper()
	idx, err := NewVectorIndex(":memory:", dim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func vecDoc(id, collection string) *types.Document {
	return &types.Document{
		ID:                id,
		TextSecondary:     "text of " + id,
		NarratorSecondary: "Abu Hurairah",
		Locator:           types.Locator{Kind: types.KindHadith, Collection: collection, GlobalRef: id},
	}
}

func TestNewVectorIndexRejectsBadDimension(t *testing.T) {
	_, err := NewVectorIndex(":memory:", 0)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestVectorDimensionPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.db")

	idx, err := NewVectorIndex(path, 3)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	_, err = NewVectorIndex(path, 4)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)

	idx, err = NewVectorIndex(path, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Dimension())
	require.NoError(t, idx.Close())
}

func TestVectorUpsertDimensionMismatch(t *testing.T) {
	idx := setupVector(t, 3)
	err := idx.Upsert(context.Background(), "a", []float32{1, 0}, vecDoc("a", "c"))
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)

	var de *types.DimensionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 3, de.Expected)
	assert.Equal(t, 2, de.Actual)
}

func TestVectorQuery(t *testing.T) {
	idx := setupVector(t, 3)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "near", []float32{1, 0.1, 0}, vecDoc("near", "riyadussalihin")))
	require.NoError(t, idx.Upsert(ctx, "exact", []float32{2, 0, 0}, vecDoc("exact", "riyadussalihin")))
	require.NoError(t, idx.Upsert(ctx, "orthogonal", []float32{0, 1, 0}, vecDoc("orthogonal", "riyadussalihin")))
	require.NoError(t, idx.Upsert(ctx, "opposite", []float32{-1, 0, 0}, vecDoc("opposite", "bukhari")))

	hits, err := idx.Query(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 4)

	assert.Equal(t, "exact", hits[0].ID)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-6)
	assert.Equal(t, 1.0, math.Round(hits[0].Similarity()))
	assert.Equal(t, "near", hits[1].ID)
	assert.Equal(t, "orthogonal", hits[2].ID)
	assert.InDelta(t, 1.0, hits[2].Distance, 1e-6)
	assert.Equal(t, "opposite", hits[3].ID)
	assert.InDelta(t, 2.0, hits[3].Distance, 1e-6)
	assert.Equal(t, 0.0, hits[3].Similarity())

	require.NotNil(t, hits[0].Document)
	assert.Equal(t, "Abu Hurairah", hits[0].Document.NarratorSecondary)
}

func TestVectorQueryFilterAppliedBeforeLimit(t *testing.T) {
	idx := setupVector(t, 2)
	ctx := context.Background()

	// Five close vectors in one collection, one far vector in another
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, idx.Upsert(ctx, id, []float32{1, float32(i) * 0.01}, vecDoc(id, "riyadussalihin")))
	}
	require.NoError(t, idx.Upsert(ctx, "far", []float32{0, 1}, vecDoc("far", "bukhari")))

	hits, err := idx.Query(ctx, []float32{1, 0}, 2, &MetadataFilter{Collections: []string{"bukhari"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "far", hits[0].ID)

	hits, err = idx.Query(ctx, []float32{1, 0}, 2, &MetadataFilter{Kinds: []types.Kind{types.KindTafsir}})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestVectorQueryLimitAndTies(t *testing.T) {
	idx := setupVector(t, 2)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "b", []float32{1, 0}, vecDoc("b", "x")))
	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0}, vecDoc("a", "x")))

	hits, err := idx.Query(ctx, []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)

	hits, err = idx.Query(ctx, []float32{1, 0}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = idx.Query(ctx, []float32{1, 0, 0}, 1, nil)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestVectorDeleteAndStatus(t *testing.T) {
	idx := setupVector(t, 2)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0}, vecDoc("a", "x")))
	require.NoError(t, idx.Upsert(ctx, "a", []float32{0, 1}, vecDoc("a", "x")))
	require.NoError(t, idx.Upsert(ctx, "b", []float32{1, 1}, vecDoc("b", "x")))

	status, err := idx.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.DocumentCount)
	assert.Equal(t, 2, status.Dimension)
	assert.Equal(t, BuildMode, status.BuildMode)

	v, err := idx.Vector(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, v)

	require.NoError(t, idx.Delete(ctx, "a"))
	require.NoError(t, idx.Delete(ctx, "a"))

	_, err = idx.Vector(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	status, err = idx.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.DocumentCount)
}

func TestSerializeVectorRoundTrip(t *testing.T) {
	in := []float32{0, -1.5, 3.25, float32(math.Pi)}
	assert.Equal(t, in, DeserializeVector(SerializeVector(in)))
	assert.Len(t, SerializeVector(in), 16)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 0}))
}

func TestSortCandidates(t *testing.T) {
	candidates := []candidate{
		{id: "c", distance: 0.5},
		{id: "b", distance: 0.1},
		{id: "a", distance: 0.5},
		{id: "d", distance: 0.0},
	}
	sortCandidates(candidates)

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	assert.Equal(t, []string{"d", "b", "a", "c"}, ids)
}
