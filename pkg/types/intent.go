package types

// Intent is the retrieval strategy selected for a query
type Intent int

const (
	IntentHybrid Intent = iota
	IntentExactReference
	IntentArabicThematic
	IntentNarratorFocused
	IntentEnglishThematic
)

var intentNames = map[Intent]string{
	IntentHybrid:          "hybrid",
	IntentExactReference:  "exact_reference",
	IntentArabicThematic:  "arabic_thematic",
	IntentNarratorFocused: "narrator_focused",
	IntentEnglishThematic: "english_thematic",
}

func (i Intent) String() string {
	if name, ok := intentNames[i]; ok {
		return name
	}
	return "hybrid"
}

// MarshalText renders the intent by name in JSON output
func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// IsThematic reports whether the intent is one of the thematic strategies
func (i Intent) IsThematic() bool {
	return i == IntentArabicThematic || i == IntentEnglishThematic
}
