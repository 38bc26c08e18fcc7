// Package searcher is the query-side entry point: it classifies a query,
// retrieves candidates from both indexes, scores and ranks them, and
// truncates to the requested limit.
//
// # Basic Usage
//
//	s, err := searcher.New(lexical, vector, emb,
//	    searcher.WithChecksums(checksums),
//	    searcher.WithMetrics(m))
//
//	resp, err := s.Search(ctx, "hadith about patience", 5, &searcher.Filters{
//	    Collections: []string{"riyadussalihin"},
//	    MinGrade:    "hasan",
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("%.3f %s %s\n", r.Score, r.Locator.GlobalRef, r.Narrator)
//	}
//
// # Pipeline
//
//   - classify: the router picks one of five intents
//   - retrieve: exact lookup, or vector and lexical search run concurrently
//     with limit times the over-fetch factor candidates each
//   - score: every candidate gets a breakdown of named sub-scores
//   - sort: composite score, then coverage, then semantic, then id
//   - filter and truncate: min_grade is applied before the limit
//
// # Weight Presets
//
// Two tables ship built in, "balanced" (the default) and "term-priority".
// WithWeights registers more tables, for example from a config file, and a
// search selects one through Filters.Preset.
//
// # Failures
//
// A search either returns a full ranked list or fails. A deadline hit while
// embedding the query or reading either index fails with
// types.ErrRetrievalTimeout. No matches is an empty list, not an error.
//
// # Caching
//
// Responses are cached in an LRU keyed by query, limit, preset and filters,
// with a TTL. Call InvalidateCache after ingesting new records.
package searcher
