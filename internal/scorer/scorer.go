// Package scorer ranks retrieval candidates with a weighted sum of named
// sub-scores. Scoring is pure: no I/O, and identical inputs always produce
// identical results and ordering.
package scorer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/hadith-search/internal/textutil"
	"github.com/dshills/hadith-search/pkg/types"
)

// Preset names
const (
	PresetBalanced     = "balanced"
	PresetTermPriority = "term-priority"
)

// Weights is the coefficient table of the composite score. Every field is a
// multiplier on a sub-score in [0,1].
type Weights struct {
	Semantic    float64 `json:"semantic" toml:"semantic" yaml:"semantic"`
	Narrator    float64 `json:"narrator" toml:"narrator" yaml:"narrator"`
	ArabicTerm  float64 `json:"arabic_term" toml:"arabic_term" yaml:"arabic_term"`
	EnglishTerm float64 `json:"english_term" toml:"english_term" yaml:"english_term"`
	Coverage    float64 `json:"coverage" toml:"coverage" yaml:"coverage"`
	GradeStrong float64 `json:"grade_strong" toml:"grade_strong" yaml:"grade_strong"`
	GradeSecond float64 `json:"grade_second" toml:"grade_second" yaml:"grade_second"`
	Phrase      float64 `json:"phrase" toml:"phrase" yaml:"phrase"`
}

// DefaultWeights is the balanced table
func DefaultWeights() Weights {
	return Weights{
		Semantic:    0.25,
		Narrator:    0.40,
		ArabicTerm:  0.30,
		EnglishTerm: 0.25,
		Coverage:    0.30,
		GradeStrong: 0.15,
		GradeSecond: 0.10,
		Phrase:      0.30,
	}
}

// TermPriorityWeights favors literal term evidence over embedding similarity
func TermPriorityWeights() Weights {
	return Weights{
		Semantic:    0.15,
		Narrator:    0.40,
		ArabicTerm:  0.40,
		EnglishTerm: 0.35,
		Coverage:    0.60,
		GradeStrong: 0.15,
		GradeSecond: 0.10,
		Phrase:      0.40,
	}
}

// Preset returns the named weight table. An empty name selects balanced.
func Preset(name string) (Weights, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PresetBalanced:
		return DefaultWeights(), nil
	case PresetTermPriority:
		return TermPriorityWeights(), nil
	default:
		return Weights{}, fmt.Errorf("%w: unknown weight preset %q", types.ErrInvalidArgument, name)
	}
}

// Validate rejects negative coefficients
func (w Weights) Validate() error {
	fields := map[string]float64{
		"semantic":     w.Semantic,
		"narrator":     w.Narrator,
		"arabic_term":  w.ArabicTerm,
		"english_term": w.EnglishTerm,
		"coverage":     w.Coverage,
		"grade_strong": w.GradeStrong,
		"grade_second": w.GradeSecond,
		"phrase":       w.Phrase,
	}
	for name, v := range fields {
		if v < 0 {
			return fmt.Errorf("%w: weight %s must not be negative, got %g", types.ErrInvalidArgument, name, v)
		}
	}
	return nil
}

// Tier is a grading quality tier
type Tier = types.Tier

const (
	TierNone   = types.TierNone
	TierSecond = types.TierSecond
	TierStrong = types.TierStrong
)

// GradeTier classifies the first grading entry
func GradeTier(grading []string) Tier {
	return types.GradeTier(grading)
}

// ParseTier maps a min_grade filter value onto a tier. Empty means no filter.
func ParseTier(name string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return TierNone, nil
	case "sahih", "saheeh":
		return TierStrong, nil
	case "hasan":
		return TierSecond, nil
	default:
		return TierNone, fmt.Errorf("%w: unknown grade %q (want sahih or hasan)", types.ErrInvalidArgument, name)
	}
}

// Scorer applies one weight table. It is immutable and safe for concurrent use.
type Scorer struct {
	weights Weights
}

// New builds a Scorer after validating w
func New(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: w}, nil
}

// Weights returns the table in use
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score computes the breakdown and composite score of one candidate
func (s *Scorer) Score(c *types.Candidate, terms types.QueryTerms, intent types.Intent) types.ScoredResult {
	doc := &c.Document
	res := types.NewScoredResult(doc, intent)
	res.ID = c.ID
	w := s.weights

	if c.Distance != nil {
		res.Breakdown[types.ScoreSemantic] = w.Semantic * clamp01(1-*c.Distance)
	}

	text := newTextIndex(doc.TextPrimary, doc.TextSecondary)

	matchedArabic := 0
	for _, term := range terms.Arabic {
		if text.containsArabic(term) {
			matchedArabic++
		}
	}
	matchedOther := 0
	for _, term := range terms.Other {
		if text.containsWord(term) {
			matchedOther++
		}
	}

	if len(terms.Arabic) > 0 {
		res.Breakdown[types.ScoreArabicTerm] = w.ArabicTerm * ratio(matchedArabic, len(terms.Arabic))
	}
	if len(terms.Other) > 0 {
		res.Breakdown[types.ScoreEnglishTerm] = w.EnglishTerm * ratio(matchedOther, len(terms.Other))
	}
	res.Breakdown[types.ScoreCoverage] = w.Coverage * ratio(matchedArabic+matchedOther, len(terms.All))

	if narratorMatches(doc, terms.All) {
		res.Breakdown[types.ScoreNarrator] = w.Narrator
	}

	if len(doc.Grading) > 0 {
		switch GradeTier(doc.Grading) {
		case TierStrong:
			res.Breakdown[types.ScoreGrading] = w.GradeStrong
		case TierSecond:
			res.Breakdown[types.ScoreGrading] = w.GradeSecond
		default:
			res.Breakdown[types.ScoreGrading] = 0
		}
	}

	if phrase := phraseFor(terms, intent); phrase != "" {
		if textutil.ContainsPhrase(doc.TextPrimary, phrase) || textutil.ContainsPhrase(doc.TextSecondary, phrase) {
			res.Breakdown[types.ScorePhrase] = w.Phrase
		}
	}

	for _, v := range res.Breakdown {
		res.Score += v
	}
	return res
}

// ScoreAll scores every candidate and returns them ranked
func (s *Scorer) ScoreAll(candidates []*types.Candidate, terms types.QueryTerms, intent types.Intent) []types.ScoredResult {
	out := make([]types.ScoredResult, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, s.Score(c, terms, intent))
	}
	Sort(out)
	return out
}

// Sort orders results by composite score, then coverage, then semantic, all
// descending, then id ascending
func Sort(results []types.ScoredResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return Less(&results[i], &results[j])
	})
}

// Less reports whether a ranks before b
func Less(a, b *types.ScoredResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if ac, bc := a.SubScore(types.ScoreCoverage), b.SubScore(types.ScoreCoverage); ac != bc {
		return ac > bc
	}
	if as, bs := a.SubScore(types.ScoreSemantic), b.SubScore(types.ScoreSemantic); as != bs {
		return as > bs
	}
	return a.ID < b.ID
}

// phraseFor returns the phrase to test: the quoted phrase, or the whole query
// for hybrid and thematic intents with at least two terms
func phraseFor(terms types.QueryTerms, intent types.Intent) string {
	if terms.HasPhrase() {
		return terms.Phrase
	}
	if intent != types.IntentHybrid && !intent.IsThematic() {
		return ""
	}
	if len(strings.Fields(terms.Full)) < 2 {
		return ""
	}
	return terms.Full
}

// narratorMatches reports whether any term occurs in a narrator name. Terms
// shorter than three letters must equal a whole name token.
func narratorMatches(doc *types.Document, terms []string) bool {
	names := make([]string, 0, 2)
	for _, n := range []string{doc.NarratorPrimary, doc.NarratorSecondary} {
		if n == "" || n == types.UnknownNarrator {
			continue
		}
		names = append(names, strings.Join(textutil.Tokenize(stripParenthetical(n)), " "))
	}
	if len(names) == 0 {
		return false
	}
	for _, term := range terms {
		for _, name := range names {
			if len([]rune(term)) >= 3 {
				if strings.Contains(name, term) {
					return true
				}
			} else if containsToken(name, term) {
				return true
			}
		}
	}
	return false
}

// stripParenthetical drops "(...)" segments, which hold honorifics rather
// than the name
func stripParenthetical(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// textIndex holds the tokenized text of a document's two fields
type textIndex struct {
	joined string
	words  map[string]bool
	tokens []string
}

func newTextIndex(fields ...string) *textIndex {
	idx := &textIndex{words: make(map[string]bool)}
	for _, f := range fields {
		for _, tok := range textutil.Tokenize(f) {
			idx.tokens = append(idx.tokens, tok)
			idx.words[tok] = true
		}
	}
	idx.joined = " " + strings.Join(idx.tokens, " ") + " "
	return idx
}

// containsArabic matches Arabic terms inside tokens, since Arabic attaches
// articles and prepositions to the word
func (t *textIndex) containsArabic(term string) bool {
	return strings.Contains(t.joined, term)
}

// containsWord matches a whole token, or a token prefix for terms of four
// letters or more
func (t *textIndex) containsWord(term string) bool {
	if t.words[term] {
		return true
	}
	if len([]rune(term)) < 4 {
		return false
	}
	for _, tok := range t.tokens {
		if strings.HasPrefix(tok, term) {
			return true
		}
	}
	return false
}

func containsToken(s, tok string) bool {
	return strings.Contains(" "+s+" ", " "+tok+" ")
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
