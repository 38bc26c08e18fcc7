package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hadith-search/internal/embedder"
	"github.com/dshills/hadith-search/internal/normalizer"
	"github.com/dshills/hadith-search/internal/router"
	"github.com/dshills/hadith-search/internal/storage"
	"github.com/dshills/hadith-search/pkg/types"
)

const testDim = 32

type fixture struct {
	lexical  *storage.SQLiteLexicalIndex
	vector   *storage.SQLiteVectorIndex
	embedder embedder.Embedder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	lex, err := storage.NewLexicalIndex(":memory:")
	require.NoError(t, err)
	vec, err := storage.NewVectorIndex(":memory:", testDim)
	require.NoError(t, err)
	emb, err := embedder.NewLocalProvider(testDim, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = lex.Close()
		_ = vec.Close()
	})
	return &fixture{lexical: lex, vector: vec, embedder: emb}
}

func hadith(site, collection, english, narrator string) *types.Document {
	doc := &types.Document{
		ID:                collection + ":1:" + site,
		TextSecondary:     english,
		NarratorPrimary:   types.UnknownNarrator,
		NarratorSecondary: narrator,
		Grading:           []string{"Sahih"},
		Locator: types.Locator{
			Kind:           types.KindHadith,
			Collection:     collection,
			CollectionName: "Riyad as-Salihin",
			GlobalRef:      "Riyad as-Salihin " + site,
		},
	}
	if collection != "riyadussalihin" {
		doc.Locator.CollectionName = "Sahih al-Bukhari"
		doc.Locator.GlobalRef = "Sahih al-Bukhari " + site
	}
	doc.CombinedText = normalizer.CombinedText(doc.TextPrimary, doc.TextSecondary)
	doc.Checksum = normalizer.Checksum(doc)
	return doc
}

// add writes doc to the lexical index and, when withVector is set, to the vector index
func (f *fixture) add(t *testing.T, doc *types.Document, withVector bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.lexical.Upsert(ctx, doc))
	if !withVector {
		return
	}
	vec, err := embedder.Vector(ctx, f.embedder, doc.CombinedText)
	require.NoError(t, err)
	require.NoError(t, f.vector.Upsert(ctx, doc.ID, vec, doc))
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	f.add(t, hadith("680", "riyadussalihin", "The strong man is the one who controls himself when angry", "Abu Hurairah"), true)
	f.add(t, hadith("681", "riyadussalihin", "Patience is illumination", "Abu Malik al-Ash'ari"), true)
	f.add(t, hadith("682", "riyadussalihin", "Do not become angry", "Abu Hurairah"), true)
	f.add(t, hadith("6114", "bukhari", "The strong is not the one who overcomes people by his strength", "Abu Hurairah"), true)
}

func byID(candidates []*types.Candidate) map[string]*types.Candidate {
	out := make(map[string]*types.Candidate, len(candidates))
	for _, c := range candidates {
		out[c.ID] = c
	}
	return out
}

func TestExtractTerms(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		all    []string
		arabic []string
		other  []string
		phrase string
		full   string
	}{
		{
			name:  "english with punctuation",
			query: "Patience, patience!",
			all:   []string{"patience"},
			other: []string{"patience"},
			full:  "patience patience",
		},
		{
			name:   "mixed scripts",
			query:  "الصبر patience",
			all:    []string{"الصبر", "patience"},
			arabic: []string{"الصبر"},
			other:  []string{"patience"},
			full:   "الصبر patience",
		},
		{
			name:   "quoted phrase",
			query:  `hadith "do not become angry"`,
			all:    []string{"hadith", "do", "not", "become", "angry"},
			other:  []string{"hadith", "do", "not", "become", "angry"},
			phrase: "do not become angry",
			full:   "hadith do not become angry",
		},
		{
			name:  "blank",
			query: "   ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terms := ExtractTerms(tt.query)
			assert.Equal(t, tt.all, terms.All)
			assert.Equal(t, tt.arabic, terms.Arabic)
			assert.Equal(t, tt.other, terms.Other)
			assert.Equal(t, tt.phrase, terms.Phrase)
			assert.Equal(t, tt.full, terms.Full)
		})
	}
}

func TestRetrieveExactReference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)
	r := New(f.lexical, f.vector, f.embedder, router.New())

	res, err := r.Retrieve(ctx, Request{Query: "Riyad as-Salihin 680", Intent: types.IntentExactReference, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, types.IntentExactReference, res.Intent)
	require.Len(t, res.Candidates, 1)

	c := res.Candidates[0]
	assert.Equal(t, "riyadussalihin:1:680", c.ID)
	assert.True(t, c.FromLexical())
	assert.False(t, c.FromVector())
	assert.Equal(t, "Abu Hurairah", c.Document.NarratorSecondary)
}

func TestRetrieveExactReferenceFallsBackToHybrid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)
	r := New(f.lexical, f.vector, f.embedder, router.New())

	t.Run("missing reference", func(t *testing.T) {
		res, err := r.Retrieve(ctx, Request{Query: "Riyad as-Salihin 9999", Intent: types.IntentExactReference, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, types.IntentHybrid, res.Intent)
		assert.NotEmpty(t, res.Candidates)
	})

	t.Run("reference outside collection filter", func(t *testing.T) {
		res, err := r.Retrieve(ctx, Request{
			Query:       "Riyad as-Salihin 680",
			Intent:      types.IntentExactReference,
			Limit:       2,
			Collections: []string{"bukhari"},
		})
		require.NoError(t, err)
		assert.Equal(t, types.IntentHybrid, res.Intent)
		for _, c := range res.Candidates {
			assert.Equal(t, "bukhari", c.Document.Locator.Collection)
		}
	})
}

func TestRetrieveUnionsBothIndexes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)
	lexicalOnly := hadith("700", "riyadussalihin", "Anger is from the devil", "Atiyyah")
	f.add(t, lexicalOnly, false)

	r := New(f.lexical, f.vector, f.embedder, router.New())
	res, err := r.Retrieve(ctx, Request{Query: "angry anger", Intent: types.IntentHybrid, Limit: 5})
	require.NoError(t, err)

	got := byID(res.Candidates)
	require.Contains(t, got, "riyadussalihin:1:682")
	both := got["riyadussalihin:1:682"]
	assert.True(t, both.FromVector(), "vector hit")
	assert.True(t, both.FromLexical(), "lexical hit")

	require.Contains(t, got, "riyadussalihin:1:681")
	vectorOnly := got["riyadussalihin:1:681"]
	assert.True(t, vectorOnly.FromVector())
	assert.False(t, vectorOnly.FromLexical())

	require.Contains(t, got, lexicalOnly.ID)
	lex := got[lexicalOnly.ID]
	assert.False(t, lex.FromVector())
	assert.True(t, lex.FromLexical())
	assert.Equal(t, "Anger is from the devil", lex.Document.TextSecondary, "lexical-only candidates are hydrated")

	assert.Equal(t, 4, res.VectorHits)
	ids := make([]string, len(res.Candidates))
	for i, c := range res.Candidates {
		ids[i] = c.ID
	}
	assert.IsIncreasing(t, ids, "candidates come back in id order")
}

func TestRetrieveCollectionFilter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)
	r := New(f.lexical, f.vector, f.embedder, router.New())

	res, err := r.Retrieve(ctx, Request{Query: "strong", Intent: types.IntentHybrid, Limit: 5, Collections: []string{"bukhari"}})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "bukhari:1:6114", res.Candidates[0].ID)
}

func TestRetrieveNarratorFocused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)
	r := New(f.lexical, f.vector, f.embedder, router.New())

	res, err := r.Retrieve(ctx, Request{
		Query:  "hadith from Abu Hurairah about patience",
		Intent: types.IntentNarratorFocused,
		Limit:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, types.IntentNarratorFocused, res.Intent)

	got := byID(res.Candidates)
	for _, id := range []string{"riyadussalihin:1:680", "riyadussalihin:1:682", "bukhari:1:6114"} {
		require.Contains(t, got, id)
		assert.True(t, got[id].FromLexical(), id)
	}
}

func TestRetrieveBlankQuery(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	r := New(f.lexical, f.vector, f.embedder, router.New())

	res, err := r.Retrieve(context.Background(), Request{Query: "  ", Intent: types.IntentHybrid, Limit: 5})
	require.NoError(t, err)
	assert.True(t, res.Terms.Empty())
	assert.Equal(t, types.IntentHybrid, res.Intent)
	require.Len(t, res.Candidates, 4)
	assert.Equal(t, 4, res.LexicalHits)
	assert.Zero(t, res.VectorHits)
	assert.Equal(t, "bukhari:1:6114", res.Candidates[0].ID)
	for i, c := range res.Candidates {
		assert.Nil(t, c.Distance)
		require.NotNil(t, c.LexicalRank)
		assert.Equal(t, i+1, *c.LexicalRank)
	}

	res, err = r.Retrieve(context.Background(), Request{Query: "", Limit: 1, Collections: []string{"riyadussalihin"}})
	require.NoError(t, err)
	assert.Len(t, res.Candidates, 4)
	for _, c := range res.Candidates {
		assert.Equal(t, "riyadussalihin", c.Document.Locator.Collection)
	}
}

func TestRetrieveRejectsBadLimit(t *testing.T) {
	f := newFixture(t)
	r := New(f.lexical, f.vector, f.embedder, nil)

	_, err := r.Retrieve(context.Background(), Request{Query: "patience", Limit: 0})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

type failingEmbedder struct {
	embedder.Embedder
	err error
}

func (e *failingEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	return nil, e.err
}

func TestRetrievePropagatesEmbeddingFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	boom := errors.New("provider down")
	r := New(f.lexical, f.vector, &failingEmbedder{Embedder: f.embedder, err: boom}, router.New())

	_, err := r.Retrieve(context.Background(), Request{Query: "patience", Intent: types.IntentHybrid, Limit: 5})
	assert.ErrorIs(t, err, boom)
}

func TestWithOverfetch(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, DefaultOverfetch, New(f.lexical, f.vector, f.embedder, nil).Overfetch())
	assert.Equal(t, MinOverfetch, New(f.lexical, f.vector, f.embedder, nil, WithOverfetch(1)).Overfetch())
	assert.Equal(t, 8, New(f.lexical, f.vector, f.embedder, nil, WithOverfetch(8)).Overfetch())
}
