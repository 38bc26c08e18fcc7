package types

// Sub-score names used in ScoredResult.Breakdown
const (
	ScoreSemantic    = "semantic"
	ScoreNarrator    = "narrator"
	ScoreArabicTerm  = "arabic_term"
	ScoreEnglishTerm = "english_term"
	ScoreCoverage    = "coverage"
	ScoreGrading     = "grading"
	ScorePhrase      = "phrase"
)

// Candidate is an unscored retrieval hit. Never persisted.
type Candidate struct {
	ID string

	// Distance is the raw cosine distance in [0,2]; nil when the candidate
	// was not returned by the vector index.
	Distance *float64

	// LexicalRank is the 1-based rank in the lexical result list; nil when
	// the candidate was not returned by the lexical index.
	LexicalRank *int

	Document Document
}

// FromVector reports whether the vector index produced this candidate
func (c *Candidate) FromVector() bool {
	return c.Distance != nil
}

// FromLexical reports whether the lexical index produced this candidate
func (c *Candidate) FromLexical() bool {
	return c.LexicalRank != nil
}

// ScoredResult is a candidate with its named sub-scores and composite score
type ScoredResult struct {
	ID        string             `json:"id"`
	Score     float64            `json:"score"`
	Breakdown map[string]float64 `json:"breakdown"`
	Intent    Intent             `json:"intent"`

	Locator       Locator  `json:"locator"`
	TextPrimary   string   `json:"text_arabic"`
	TextSecondary string   `json:"text_english"`
	Narrator      string   `json:"narrator"`
	NarratorAR    string   `json:"narrator_arabic,omitempty"`
	Grading       []string `json:"grading"`
	SourceURI     string   `json:"source_uri"`
}

// SubScore returns the named sub-score, or 0 when it was not triggered
func (r ScoredResult) SubScore(name string) float64 {
	return r.Breakdown[name]
}

// NewScoredResult copies the display fields of doc into a result
func NewScoredResult(doc *Document, intent Intent) ScoredResult {
	return ScoredResult{
		ID:            doc.ID,
		Breakdown:     make(map[string]float64),
		Intent:        intent,
		Locator:       doc.Locator,
		TextPrimary:   doc.TextPrimary,
		TextSecondary: doc.TextSecondary,
		Narrator:      doc.NarratorSecondary,
		NarratorAR:    doc.NarratorPrimary,
		Grading:       doc.Grading,
		SourceURI:     doc.SourceURI,
	}
}
