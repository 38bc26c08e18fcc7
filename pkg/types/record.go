package types

import "encoding/json"

// TextBlock is a language-tagged text body of a raw record
type TextBlock struct {
	Language string `json:"language"` // "ar" or "en"
	Content  string `json:"content"`
}

// RawRecord is one line of the corpus stream as produced by the collector.
// Hadith records fill the collection/book/chapter fields; tafsir records fill
// Surah/Ayah. The field set is fixed; unknown JSON keys are ignored.
type RawRecord struct {
	CollectionSlug string `json:"collection_slug"`
	CollectionName string `json:"collection_name"`

	BookID      string `json:"book_id"`
	BookTitleEN string `json:"book_title_en"`
	BookTitleAR string `json:"book_title_ar"`

	ChapterID      string `json:"chapter_id"`
	ChapterTitleEN string `json:"chapter_title_en"`
	ChapterTitleAR string `json:"chapter_title_ar"`

	HadithIDSite    string `json:"hadith_id_site"`
	HadithNumGlobal string `json:"hadith_num_global"`
	HadithNumInBook string `json:"hadith_num_in_book"`
	GlobalRef       string `json:"global_ref"`

	// Tafsir fields
	Surah        int    `json:"surah"`
	Ayah         int    `json:"ayah"`
	VerseKey     string `json:"verse_key"`
	ResourceID   int    `json:"resource_id"`
	ResourceName string `json:"resource_name"`
	TextHTML     string `json:"text_html"`
	TextPlain    string `json:"text_plain"`

	Texts      []TextBlock `json:"texts"`
	Narrator   *string     `json:"narrator"`
	NarratorAR *string     `json:"narrator_ar"`
	Grading    []Grade     `json:"grading"`

	References []Reference `json:"references"`
	Topics     []string    `json:"topics"`
	Footnotes  []string    `json:"footnotes"`

	SourceURL string `json:"source_url"`
	ScrapedAt string `json:"scraped_at"`
	Checksum  string `json:"checksum"` // producer checksum, not trusted
}

// Grade is a single authenticity assessment
type Grade struct {
	Scholar string `json:"scholar,omitempty"`
	Grade   string `json:"grade"`
	Note    string `json:"note,omitempty"`
}

// UnmarshalJSON accepts either an object or a bare grade string
func (g *Grade) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*g = Grade{Grade: s}
		return nil
	}
	type plain Grade
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*g = Grade(p)
	return nil
}

// Reference is a free-form label/value pair attached by the producer
type Reference struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// IsTafsir reports whether the record describes a verse commentary
func (r *RawRecord) IsTafsir() bool {
	return r.Surah > 0 || r.VerseKey != ""
}
