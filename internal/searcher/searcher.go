package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/hadith-search/internal/embedder"
	"github.com/dshills/hadith-search/internal/metrics"
	"github.com/dshills/hadith-search/internal/retriever"
	"github.com/dshills/hadith-search/internal/router"
	"github.com/dshills/hadith-search/internal/scorer"
	"github.com/dshills/hadith-search/internal/storage"
	"github.com/dshills/hadith-search/pkg/types"
)

const (
	// DefaultLimit is used by adapters when the caller gives no limit
	DefaultLimit = 5
	// MaxLimit is the largest limit Search accepts
	MaxLimit = 100
	// DefaultTimeout bounds one search including the query embedding
	DefaultTimeout = 10 * time.Second

	defaultCacheSize = 1000
	defaultCacheTTL  = 10 * time.Minute
)

// ErrNotFound is returned by LookupExact when no document carries the reference
var ErrNotFound = storage.ErrNotFound

// Filters narrow a search
type Filters struct {
	// Collections keeps only documents from these collection slugs.
	Collections []string
	// MinGrade drops results below this grading tier: "sahih" or "hasan".
	MinGrade string
	// Preset selects a weight table by name; empty uses the default preset.
	Preset string
}

// Response contains ranked results and metadata
type Response struct {
	Query           string               `json:"query"`
	Intent          types.Intent         `json:"intent"`
	Preset          string               `json:"preset"`
	Results         []types.ScoredResult `json:"results"`
	TotalCandidates int                  `json:"total_candidates"`
	VectorResults   int                  `json:"vector_results"`
	TextResults     int                  `json:"text_results"`
	Duration        time.Duration        `json:"duration"`
	CacheHit        bool                 `json:"cache_hit"`
}

// Status is the index_status view across the three stores
type Status struct {
	Lexical   *storage.LexicalStatus `json:"lexical"`
	Vector    *storage.VectorStatus  `json:"vector"`
	Checksums *int                   `json:"checksum_count"`
	Embedder  string                 `json:"embedder"`
}

// ChecksumCounter reports the size of the checksum table
type ChecksumCounter interface {
	Count(ctx context.Context) (int, error)
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Searcher runs classify, retrieve, score, sort and truncate for one query.
// It holds no per-call state; concurrent searches are safe.
type Searcher struct {
	lexical   storage.LexicalIndex
	vector    storage.VectorIndex
	checksums ChecksumCounter
	embedder  embedder.Embedder

	router    *router.Router
	retriever *retriever.Retriever
	scorers   map[string]*scorer.Scorer
	preset    string

	overfetch int
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger

	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheTTL time.Duration
	cacheMu  sync.RWMutex
}

// Option configures a Searcher
type Option func(*Searcher)

// WithRouter replaces the default router
func WithRouter(r *router.Router) Option {
	return func(s *Searcher) { s.router = r }
}

// WithChecksums lets IndexStatus report the checksum table size. Without
// it checksum_count is null.
func WithChecksums(c ChecksumCounter) Option {
	return func(s *Searcher) { s.checksums = c }
}

// WithOverfetch sets the retrieval over-fetch factor
func WithOverfetch(n int) Option {
	return func(s *Searcher) { s.overfetch = n }
}

// WithTimeout bounds each search; zero disables the bound
func WithTimeout(d time.Duration) Option {
	return func(s *Searcher) { s.timeout = d }
}

// WithWeights registers (or replaces) a named weight table
func WithWeights(name string, w scorer.Weights) Option {
	return func(s *Searcher) {
		sc, err := scorer.New(w)
		if err != nil {
			s.logger.Warn("ignoring invalid weights", slog.String("preset", name), slog.String("error", err.Error()))
			return
		}
		s.scorers[strings.ToLower(name)] = sc
	}
}

// WithDefaultPreset selects the table used when a search names none
func WithDefaultPreset(name string) Option {
	return func(s *Searcher) { s.preset = strings.ToLower(strings.TrimSpace(name)) }
}

// WithCache sets the result cache size and TTL; size 0 disables caching
func WithCache(size int, ttl time.Duration) Option {
	return func(s *Searcher) {
		if size <= 0 {
			s.cache = nil
			return
		}
		cache, err := lru.New[[32]byte, *cacheEntry](size)
		if err == nil {
			s.cache = cache
		}
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithMetrics records search outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Searcher) { s.metrics = m }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Searcher over the two indexes
func New(lexical storage.LexicalIndex, vector storage.VectorIndex, emb embedder.Embedder, opts ...Option) (*Searcher, error) {
	if lexical == nil || vector == nil || emb == nil {
		return nil, fmt.Errorf("%w: lexical index, vector index and embedder are required", types.ErrInvalidArgument)
	}
	if emb.Dimension() != vector.Dimension() {
		return nil, &types.DimensionError{Expected: vector.Dimension(), Actual: emb.Dimension()}
	}

	cache, err := lru.New[[32]byte, *cacheEntry](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Searcher{
		lexical:   lexical,
		vector:    vector,
		embedder:  emb,
		scorers:   make(map[string]*scorer.Scorer),
		preset:    scorer.PresetBalanced,
		overfetch: retriever.DefaultOverfetch,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
		cache:     cache,
		cacheTTL:  defaultCacheTTL,
	}
	for _, name := range []string{scorer.PresetBalanced, scorer.PresetTermPriority} {
		w, _ := scorer.Preset(name)
		sc, _ := scorer.New(w)
		s.scorers[name] = sc
	}

	for _, opt := range opts {
		opt(s)
	}

	if _, ok := s.scorers[s.preset]; !ok {
		return nil, fmt.Errorf("%w: unknown default preset %q", types.ErrInvalidArgument, s.preset)
	}
	if s.router == nil {
		s.router = router.New()
	}
	s.retriever = retriever.New(lexical, vector, emb, s.router,
		retriever.WithOverfetch(s.overfetch),
		retriever.WithLogger(s.logger))

	return s, nil
}

// Presets lists the registered weight tables
func (s *Searcher) Presets() []string {
	names := make([]string, 0, len(s.scorers))
	for name := range s.scorers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Search ranks documents for query. Zero matches is an empty result, not an
// error. Any deadline hit on the query path fails the whole call with
// types.ErrRetrievalTimeout.
func (s *Searcher) Search(ctx context.Context, query string, limit int, filters *Filters) (*Response, error) {
	start := time.Now()
	if filters == nil {
		filters = &Filters{}
	}

	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", types.ErrInvalidArgument, limit)
	}
	if limit > MaxLimit {
		return nil, fmt.Errorf("%w: limit must be at most %d, got %d", types.ErrInvalidArgument, MaxLimit, limit)
	}
	sc, presetName, err := s.scorerFor(filters.Preset)
	if err != nil {
		return nil, err
	}
	minTier, err := scorer.ParseTier(filters.MinGrade)
	if err != nil {
		return nil, err
	}

	intent := s.router.Classify(query)

	key := computeQueryHash(query, limit, presetName, filters)
	if cached := s.checkCache(key); cached != nil {
		cached.CacheHit = true
		cached.Duration = time.Since(start)
		s.metrics.Search(cached.Intent.String(), metrics.StatusOK, cached.Duration, len(cached.Results))
		return cached, nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	retrieved, err := s.retriever.Retrieve(ctx, retriever.Request{
		Query:       query,
		Intent:      intent,
		Limit:       limit,
		Collections: filters.Collections,
	})
	if err != nil {
		err = classifyError(err)
		s.metrics.Search(intent.String(), statusFor(err), time.Since(start), 0)
		s.logger.Warn("search failed",
			slog.String("query", query),
			slog.String("intent", intent.String()),
			slog.String("error", err.Error()))
		return nil, err
	}

	ranked := sc.ScoreAll(retrieved.Candidates, retrieved.Terms, retrieved.Intent)
	if minTier != scorer.TierNone {
		ranked = filterByTier(ranked, minTier)
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	response := &Response{
		Query:           query,
		Intent:          retrieved.Intent,
		Preset:          presetName,
		Results:         ranked,
		TotalCandidates: len(retrieved.Candidates),
		VectorResults:   retrieved.VectorHits,
		TextResults:     retrieved.LexicalHits,
		Duration:        time.Since(start),
	}

	s.storeInCache(key, response)
	s.metrics.Search(response.Intent.String(), metrics.StatusOK, response.Duration, len(ranked))
	s.logger.Debug("search completed",
		slog.String("intent", response.Intent.String()),
		slog.Int("candidates", response.TotalCandidates),
		slog.Int("results", len(ranked)),
		slog.Duration("duration", response.Duration))

	return response, nil
}

// LookupExact resolves a global reference or document id. Returns ErrNotFound
// when nothing matches and types.ErrIndexUnavailable when the store fails.
func (s *Searcher) LookupExact(ctx context.Context, ref string) (*types.ScoredResult, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("%w: reference must not be empty", types.ErrInvalidArgument)
	}
	doc, err := s.retriever.Lookup(ctx, ref)
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lexical index: %w", types.ErrIndexUnavailable, err)
	}
	res := types.NewScoredResult(doc, types.IntentExactReference)
	return &res, nil
}

// IndexStatus reports the state of the lexical, vector and checksum stores
func (s *Searcher) IndexStatus(ctx context.Context) (*Status, error) {
	lex, err := s.lexical.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: lexical index: %w", types.ErrIndexUnavailable, err)
	}
	vec, err := s.vector.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: vector index: %w", types.ErrIndexUnavailable, err)
	}
	status := &Status{
		Lexical:  lex,
		Vector:   vec,
		Embedder: s.embedder.Provider() + "/" + s.embedder.Model(),
	}
	if s.checksums != nil {
		n, err := s.checksums.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: checksum store: %w", types.ErrIndexUnavailable, err)
		}
		status.Checksums = &n
	}
	return status, nil
}

// InvalidateCache drops every cached response. Call after ingestion.
func (s *Searcher) InvalidateCache() {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

func (s *Searcher) scorerFor(preset string) (*scorer.Scorer, string, error) {
	name := strings.ToLower(strings.TrimSpace(preset))
	if name == "" {
		name = s.preset
	}
	sc, ok := s.scorers[name]
	if !ok {
		return nil, "", fmt.Errorf("%w: unknown weight preset %q", types.ErrInvalidArgument, preset)
	}
	return sc, name, nil
}

func filterByTier(results []types.ScoredResult, min scorer.Tier) []types.ScoredResult {
	out := results[:0]
	for _, r := range results {
		if scorer.GradeTier(r.Grading) >= min {
			out = append(out, r)
		}
	}
	return out
}

// classifyError maps deadline expiry onto ErrRetrievalTimeout
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, types.ErrRetrievalTimeout) {
		return fmt.Errorf("%w: %w", types.ErrRetrievalTimeout, err)
	}
	return err
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, types.ErrRetrievalTimeout):
		return metrics.StatusTimeout
	case errors.Is(err, context.Canceled):
		return metrics.StatusAborted
	default:
		return metrics.StatusError
	}
}

// checkCache returns a copy of a live cached response, or nil
func (s *Searcher) checkCache(key [32]byte) *Response {
	if s.cache == nil {
		return nil
	}
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(key)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil
	}

	response := copyResponse(entry.response)
	s.cacheMu.RUnlock()
	return response
}

func (s *Searcher) storeInCache(key [32]byte, response *Response) {
	if s.cache == nil {
		return
	}
	entry := &cacheEntry{
		response:  copyResponse(response),
		expiresAt: time.Now().Add(s.cacheTTL),
	}
	s.cacheMu.Lock()
	s.cache.Add(key, entry)
	s.cacheMu.Unlock()
}

// copyResponse deep-copies the result slice and each breakdown map
func copyResponse(src *Response) *Response {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = make([]types.ScoredResult, len(src.Results))
	for i, r := range src.Results {
		r.Breakdown = make(map[string]float64, len(src.Results[i].Breakdown))
		for k, v := range src.Results[i].Breakdown {
			r.Breakdown[k] = v
		}
		r.Grading = append([]string(nil), src.Results[i].Grading...)
		dst.Results[i] = r
	}
	return &dst
}

// computeQueryHash builds a stable key from everything that affects ranking
func computeQueryHash(query string, limit int, preset string, f *Filters) [32]byte {
	collections := append([]string(nil), f.Collections...)
	sort.Strings(collections)

	var data strings.Builder
	data.WriteString(query)
	fmt.Fprintf(&data, "|%d|%s|%s|", limit, preset, strings.ToLower(f.MinGrade))
	data.WriteString(strings.Join(collections, ","))
	return sha256.Sum256([]byte(data.String()))
}
