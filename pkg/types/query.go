package types

// QueryTerms is the scoring view of a query: folded tokens split by script,
// plus an explicitly quoted phrase when the user supplied one
type QueryTerms struct {
	All    []string `json:"all"`
	Arabic []string `json:"arabic"`
	Other  []string `json:"other"`
	Phrase string   `json:"phrase,omitempty"`

	// Full is every token of the query in order, space-joined. It serves as
	// the implicit phrase for thematic queries.
	Full string `json:"full,omitempty"`
}

// Empty reports whether the query produced no terms at all
func (q QueryTerms) Empty() bool {
	return len(q.All) == 0
}

// HasPhrase reports whether an explicit quoted phrase was given
func (q QueryTerms) HasPhrase() bool {
	return q.Phrase != ""
}
