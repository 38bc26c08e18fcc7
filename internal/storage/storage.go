package storage

import (
	"context"
	"time"

	"github.com/dshills/hadith-search/pkg/types"
)

// LexicalIndex is the persistent full-text index over normalized documents
type LexicalIndex interface {
	Upsert(ctx context.Context, doc *types.Document) error
	Delete(ctx context.Context, id string) error

	// SearchTerms returns hits ranked by BM25, best first.
	SearchTerms(ctx context.Context, query TermQuery) ([]TextHit, error)

	// LookupExact resolves a global reference string to one document.
	// Returns ErrNotFound when no document carries the reference.
	LookupExact(ctx context.Context, ref string) (*types.Document, error)

	// LookupBookHadith resolves a hadith by book id and site number; an
	// empty collection matches any. Returns ErrNotFound when nothing matches.
	LookupBookHadith(ctx context.Context, collection, book, hadith string) (*types.Document, error)

	// Browse lists documents without a query, strongest grade tier first,
	// then by id. Used for blank queries.
	Browse(ctx context.Context, limit int, collections []string) ([]*types.Document, error)

	// Documents loads the stored metadata mirror for the given ids.
	Documents(ctx context.Context, ids []string) (map[string]*types.Document, error)

	Status(ctx context.Context) (*LexicalStatus, error)
	Close() error
}

// VectorIndex is the persistent nearest-neighbor store
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vector []float32, doc *types.Document) error
	Delete(ctx context.Context, id string) error

	// Query returns up to k hits ordered by ascending cosine distance.
	// The filter is applied before the k-limit.
	Query(ctx context.Context, vector []float32, k int, filter *MetadataFilter) ([]VectorHit, error)

	Dimension() int
	Status(ctx context.Context) (*VectorStatus, error)
	Close() error
}

// Field names a searchable lexical column
type Field string

const (
	FieldArabic   Field = "arabic_text"
	FieldEnglish  Field = "english_text"
	FieldNarrator Field = "narrator"
	FieldTitles   Field = "titles"
)

// AllFields is the default field set for term search
var AllFields = []Field{FieldArabic, FieldEnglish, FieldNarrator, FieldTitles}

// TermQuery describes a lexical search
type TermQuery struct {
	Terms  []string // bag of terms, OR-combined
	Phrase string   // optional exact phrase, OR-combined with the terms
	Fields []Field  // empty means AllFields
	Limit  int

	// Collections restricts hits to these collection slugs when non-empty.
	Collections []string
}

// TextHit is a lexical search hit
type TextHit struct {
	ID    string
	Rank  int     // 1-based
	BM25  float64 // raw bm25(), lower is better
	Score float64 // bm25 mapped to (0,1]
}

// MetadataFilter is an equality/membership predicate over denormalized fields
type MetadataFilter struct {
	Collections []string
	Kinds       []types.Kind
}

// IsEmpty reports whether the filter restricts nothing
func (f *MetadataFilter) IsEmpty() bool {
	return f == nil || (len(f.Collections) == 0 && len(f.Kinds) == 0)
}

// VectorHit is a similarity search hit with its metadata mirror
type VectorHit struct {
	ID       string
	Distance float64 // cosine distance in [0,2]
	Document *types.Document
}

// Similarity converts distance into the [0,1] similarity used by the scorer
func (h VectorHit) Similarity() float64 {
	s := 1 - h.Distance
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// LexicalStatus reports lexical index statistics
type LexicalStatus struct {
	DocumentCount int       `json:"document_count"`
	LastUpdated   time.Time `json:"last_updated"`
	SchemaVersion string    `json:"schema_version"`
}

// VectorStatus reports vector index statistics
type VectorStatus struct {
	Dimension     int    `json:"dimension"`
	DocumentCount int    `json:"document_count"`
	BuildMode     string `json:"build_mode"`
}
