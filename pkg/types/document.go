package types

import "strings"

// UnknownNarrator is stored when a record carries no narrator attribution.
const UnknownNarrator = "unknown"

// Kind distinguishes the two record families held in the corpus
type Kind string

const (
	KindHadith Kind = "hadith"
	KindTafsir Kind = "tafsir"
)

// Locator is the structured reference of a Document
type Locator struct {
	Kind           Kind   `json:"kind"`
	Collection     string `json:"collection"` // slug; "tafsir" for tafsir records
	CollectionName string `json:"collection_name,omitempty"`

	BookID       string `json:"book_id,omitempty"`
	BookTitle    string `json:"book_title,omitempty"`
	ChapterID    string `json:"chapter_id,omitempty"`
	ChapterTitle string `json:"chapter_title,omitempty"`
	HadithNumber string `json:"hadith_number,omitempty"`

	Surah int `json:"surah,omitempty"`
	Ayah  int `json:"ayah,omitempty"`

	// GlobalRef is the human-readable reference used for exact lookup,
	// e.g. "Riyad as-Salihin 680" or "2:255".
	GlobalRef string `json:"global_ref"`
}

// Document is the canonical, normalized unit of retrieval
type Document struct {
	ID string `json:"id"`

	// Text
	TextPrimary   string `json:"text_primary"`   // Arabic
	TextSecondary string `json:"text_secondary"` // English
	CombinedText  string `json:"-"`              // embedding input only

	// Attribution
	NarratorPrimary   string `json:"narrator_primary"`
	NarratorSecondary string `json:"narrator_secondary"`

	Grading   []string `json:"grading"`
	Locator   Locator  `json:"locator"`
	SourceURI string   `json:"source_uri"`
	Checksum  string   `json:"checksum"`
}

// Validate checks the structural invariants of a normalized document
func (d *Document) Validate() error {
	if d.ID == "" {
		return NewValidationError("id", "must not be empty")
	}
	if strings.TrimSpace(d.TextPrimary) == "" && strings.TrimSpace(d.TextSecondary) == "" {
		return NewValidationError("texts", "both text variants are empty")
	}
	if d.Locator.GlobalRef == "" {
		return NewValidationError("locator.global_ref", "must not be empty")
	}
	return nil
}

// TopGrade returns the first (strongest) grading tag or "".
func (d *Document) TopGrade() string {
	if len(d.Grading) == 0 {
		return ""
	}
	return d.Grading[0]
}
