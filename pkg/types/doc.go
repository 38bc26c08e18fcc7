// Package types provides shared type definitions for the hadith search engine.
//
// # Core Types
//
// RawRecord is one JSON Lines record produced by the corpus collector. The
// normalizer turns it into a Document, the canonical unit that both indexes
// store:
//
//	doc := &types.Document{
//	    ID:                "riyadussalihin:1:680",
//	    TextPrimary:       arabic,
//	    TextSecondary:     english,
//	    NarratorSecondary: "Abu Hurairah (May Allah be pleased with him)",
//	    Grading:           []string{"Sahih"},
//	    Locator:           types.Locator{GlobalRef: "Riyad as-Salihin 680"},
//	}
//
// At query time the indexes return Candidates, which the scorer turns into
// ScoredResults carrying a per-sub-score breakdown:
//
//	result.SubScore(types.ScoreCoverage)
//
// # Errors
//
// Failures are classified with the sentinel errors ErrValidation,
// ErrDimensionMismatch, ErrRetrievalTimeout, ErrInvalidArgument and
// ErrIndexUnavailable. Typed errors (ValidationError, DimensionError) match
// their sentinel with errors.Is.
package types
