// Package retriever turns a classified query into an unscored candidate set.
//
// Exact references resolve through a single keyed lookup. Every other intent
// queries the vector index and the lexical index concurrently and unions the
// hits by document id, so a document found by both carries both signals.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/hadith-search/internal/embedder"
	"github.com/dshills/hadith-search/internal/router"
	"github.com/dshills/hadith-search/internal/storage"
	"github.com/dshills/hadith-search/internal/textutil"
	"github.com/dshills/hadith-search/pkg/types"
)

const (
	// DefaultOverfetch multiplies the requested limit for each index query
	DefaultOverfetch = 5
	// MinOverfetch is the smallest accepted over-fetch factor
	MinOverfetch = 4
)

// Request describes one retrieval
type Request struct {
	Query  string
	Intent types.Intent
	Limit  int

	// Collections restricts candidates to these collection slugs when non-empty.
	Collections []string
}

// Result is the candidate set plus what the scorer needs to rank it
type Result struct {
	Candidates []*types.Candidate
	Terms      types.QueryTerms

	// Intent is the strategy actually used. An exact reference that misses
	// degrades to IntentHybrid.
	Intent types.Intent

	VectorHits  int
	LexicalHits int
}

// Retriever is safe for concurrent use; it holds no per-call state
type Retriever struct {
	lexical   storage.LexicalIndex
	vector    storage.VectorIndex
	embedder  embedder.Embedder
	router    *router.Router
	overfetch int
	logger    *slog.Logger
}

// Option configures a Retriever
type Option func(*Retriever)

// WithOverfetch sets the over-fetch factor; values below MinOverfetch are raised to it
func WithOverfetch(n int) Option {
	return func(r *Retriever) {
		if n < MinOverfetch {
			n = MinOverfetch
		}
		r.overfetch = n
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New builds a Retriever over the two indexes
func New(lexical storage.LexicalIndex, vector storage.VectorIndex, emb embedder.Embedder, rt *router.Router, opts ...Option) *Retriever {
	if rt == nil {
		rt = router.New()
	}
	r := &Retriever{
		lexical:   lexical,
		vector:    vector,
		embedder:  emb,
		router:    rt,
		overfetch: DefaultOverfetch,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Overfetch returns the configured over-fetch factor
func (r *Retriever) Overfetch() int {
	return r.overfetch
}

// ExtractTerms splits a query into deduplicated folded terms, partitioned by
// script, plus the first quoted phrase if any
func ExtractTerms(query string) types.QueryTerms {
	tokens := textutil.Tokenize(query)
	terms := types.QueryTerms{Full: strings.Join(tokens, " ")}

	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		terms.All = append(terms.All, tok)
	}
	terms.Arabic, terms.Other = textutil.Partition(terms.All)

	if phrase, ok := textutil.QuotedPhrase(query); ok {
		terms.Phrase = phrase
	}
	return terms
}

// Retrieve produces the candidate set for req. A blank query browses the
// lexical index strongest grade first and carries no semantic signal. Store
// failures wrap types.ErrIndexUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (*Result, error) {
	if req.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", types.ErrInvalidArgument, req.Limit)
	}

	res := &Result{
		Terms:      ExtractTerms(req.Query),
		Intent:     req.Intent,
		Candidates: []*types.Candidate{},
	}
	if strings.TrimSpace(req.Query) == "" {
		res.Intent = types.IntentHybrid
		if err := r.browse(ctx, req, res); err != nil {
			return nil, err
		}
		return res, nil
	}

	if req.Intent == types.IntentExactReference {
		c, err := r.exact(ctx, req)
		if err != nil {
			return nil, err
		}
		if c != nil {
			res.Candidates = append(res.Candidates, c)
			res.LexicalHits = 1
			return res, nil
		}
		r.logger.Debug("exact reference missed, falling back to hybrid", slog.String("query", req.Query))
		res.Intent = types.IntentHybrid
	}

	if err := r.hybrid(ctx, req, res); err != nil {
		return nil, err
	}
	return res, nil
}

// browse lists documents without a query; each carries only a lexical rank
func (r *Retriever) browse(ctx context.Context, req Request, res *Result) error {
	docs, err := r.lexical.Browse(ctx, req.Limit*r.overfetch, req.Collections)
	if err != nil {
		return storeError(ctx, "browse", err)
	}
	for i, doc := range docs {
		rank := i + 1
		res.Candidates = append(res.Candidates, &types.Candidate{ID: doc.ID, LexicalRank: &rank, Document: *doc})
	}
	res.LexicalHits = len(docs)
	return nil
}

// Lookup resolves one reference string. "book N hadith M" goes through the
// book and site number; every other form through the stored global reference
// or the document id.
func (r *Retriever) Lookup(ctx context.Context, ref string) (*types.Document, error) {
	if br, ok := r.router.BookReference(ref); ok {
		return r.lexical.LookupBookHadith(ctx, br.Collection, br.Book, br.Hadith)
	}
	return r.lexical.LookupExact(ctx, r.router.Reference(ref))
}

// storeError marks an index failure as ErrIndexUnavailable unless the
// context ended first, in which case the deadline or cancellation is kept
func storeError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ctxErr, err)
	}
	return fmt.Errorf("%w: %s failed: %w", types.ErrIndexUnavailable, op, err)
}

// exact resolves the reference; nil means no document matched the reference
// within the requested collections
func (r *Retriever) exact(ctx context.Context, req Request) (*types.Candidate, error) {
	doc, err := r.Lookup(ctx, req.Query)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(ctx, "exact lookup", err)
	}
	if !inCollections(doc.Locator.Collection, req.Collections) {
		return nil, nil
	}
	rank := 1
	return &types.Candidate{ID: doc.ID, LexicalRank: &rank, Document: *doc}, nil
}

// hybrid runs the vector query and the lexical searches concurrently
func (r *Retriever) hybrid(ctx context.Context, req Request, res *Result) error {
	k := req.Limit * r.overfetch

	var (
		vectorHits   []storage.VectorHit
		lexicalHits  []storage.TextHit
		narratorHits []storage.TextHit
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		vec, err := embedder.Vector(gctx, r.embedder, req.Query)
		if err != nil {
			return fmt.Errorf("failed to embed query: %w", err)
		}
		hits, err := r.vector.Query(gctx, vec, k, &storage.MetadataFilter{Collections: req.Collections})
		if err != nil {
			return storeError(gctx, "vector query", err)
		}
		vectorHits = hits
		return nil
	})

	g.Go(func() error {
		hits, err := r.lexical.SearchTerms(gctx, storage.TermQuery{
			Terms:       res.Terms.All,
			Phrase:      res.Terms.Phrase,
			Fields:      fieldsFor(res.Intent),
			Limit:       k,
			Collections: req.Collections,
		})
		if err != nil {
			return storeError(gctx, "lexical search", err)
		}
		lexicalHits = hits
		return nil
	})

	if res.Intent == types.IntentNarratorFocused {
		if name := r.router.Narrator(req.Query); name != "" {
			g.Go(func() error {
				hits, err := r.lexical.SearchTerms(gctx, storage.TermQuery{
					Phrase:      name,
					Terms:       textutil.Tokenize(name),
					Fields:      []storage.Field{storage.FieldNarrator},
					Limit:       k,
					Collections: req.Collections,
				})
				if err != nil {
					return storeError(gctx, "narrator search", err)
				}
				narratorHits = hits
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}

	res.VectorHits = len(vectorHits)
	res.LexicalHits = len(lexicalHits) + len(narratorHits)

	candidates, err := r.union(ctx, vectorHits, lexicalHits, narratorHits)
	if err != nil {
		return err
	}
	res.Candidates = candidates
	return nil
}

// union merges hits by id. Lexical ranks come from the general search first;
// narrator-only hits rank after every general hit.
func (r *Retriever) union(ctx context.Context, vectorHits []storage.VectorHit, lexicalHits, narratorHits []storage.TextHit) ([]*types.Candidate, error) {
	byID := make(map[string]*types.Candidate, len(vectorHits)+len(lexicalHits)+len(narratorHits))

	for _, hit := range vectorHits {
		distance := hit.Distance
		c := &types.Candidate{ID: hit.ID, Distance: &distance}
		if hit.Document != nil {
			c.Document = *hit.Document
		}
		byID[hit.ID] = c
	}

	var missing []string
	addLexical := func(id string, rank int) {
		if c, ok := byID[id]; ok {
			if c.LexicalRank == nil {
				c.LexicalRank = &rank
			}
			return
		}
		byID[id] = &types.Candidate{ID: id, LexicalRank: &rank}
		missing = append(missing, id)
	}
	for _, hit := range lexicalHits {
		addLexical(hit.ID, hit.Rank)
	}
	for _, hit := range narratorHits {
		addLexical(hit.ID, len(lexicalHits)+hit.Rank)
	}

	if len(missing) > 0 {
		docs, err := r.lexical.Documents(ctx, missing)
		if err != nil {
			return nil, storeError(ctx, "load lexical candidates", err)
		}
		for _, id := range missing {
			doc, ok := docs[id]
			if !ok {
				// Deleted between search and load
				delete(byID, id)
				continue
			}
			byID[id].Document = *doc
		}
	}

	out := make([]*types.Candidate, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// fieldsFor picks the lexical columns searched for an intent
func fieldsFor(intent types.Intent) []storage.Field {
	switch intent {
	case types.IntentArabicThematic:
		return []storage.Field{storage.FieldArabic, storage.FieldNarrator, storage.FieldTitles}
	case types.IntentEnglishThematic:
		return []storage.Field{storage.FieldEnglish, storage.FieldNarrator, storage.FieldTitles}
	default:
		return storage.AllFields
	}
}

func inCollections(collection string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, c := range allowed {
		if c == collection {
			return true
		}
	}
	return false
}
