package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/dshills/hadith-search/pkg/types"
)

const (
	// CombinedSeparator sits between the two text variants in the embedding input
	CombinedSeparator = "\n\n"

	// checksumFieldSep and checksumListSep delimit fields in the checksum input
	checksumFieldSep = "␟"
	checksumListSep  = "␞"

	// TafsirCollection is the collection slug given to verse commentary
	TafsirCollection = "tafsir"

	defaultCollectionSlug = "riyadussalihin"
	defaultCollectionName = "Riyad as-Salihin"
)

var (
	// Leading attribution verbs: "Narrated Abu Hurairah", "It was narrated from ...",
	// "Reported by ...", and the Arabic "عن".
	narratorPrefixPat = regexp.MustCompile(`(?i)^(?:it\s+(?:was|is)\s+(?:narrated|reported)\s+(?:from|that|on\s+the\s+authority\s+of)|(?:narrated|reported|related)(?:\s+by|\s+from)?|on\s+the\s+authority\s+of|عن)\s*:?\s+`)

	// Trailing attribution verbs: "... reported:", "... said:", "... قال".
	narratorSuffixPat = regexp.MustCompile(`(?i)(?:^|\s+)(?:reported|narrated|said|stated|related|قال|قالت)\s*:?\s*$`)

	whitespacePat = regexp.MustCompile(`\s+`)
	htmlTagPat    = regexp.MustCompile(`<[^>]+>`)
)

// Normalize converts a raw corpus record into a canonical Document.
// It performs no I/O and returns a *types.ValidationError on malformed input.
func Normalize(rec *types.RawRecord) (*types.Document, error) {
	if rec == nil {
		return nil, types.NewValidationError("record", "nil record")
	}
	var (
		doc *types.Document
		err error
	)
	if rec.IsTafsir() {
		doc, err = normalizeTafsir(rec)
	} else {
		doc, err = normalizeHadith(rec)
	}
	if err != nil {
		return nil, err
	}

	doc.CombinedText = CombinedText(doc.TextPrimary, doc.TextSecondary)
	doc.Checksum = Checksum(doc)

	if err := doc.Validate(); err != nil {
		return nil, withRecordID(err, doc.ID)
	}
	return doc, nil
}

func normalizeHadith(rec *types.RawRecord) (*types.Document, error) {
	if strings.TrimSpace(rec.BookID) == "" {
		return nil, types.NewValidationError("book_id", "required locator component missing")
	}
	if strings.TrimSpace(rec.HadithIDSite) == "" {
		return nil, types.NewValidationError("hadith_id_site", "required locator component missing")
	}

	slug := strings.TrimSpace(rec.CollectionSlug)
	if slug == "" {
		slug = defaultCollectionSlug
	}
	name := strings.TrimSpace(rec.CollectionName)
	if name == "" {
		name = defaultCollectionName
	}

	id := fmt.Sprintf("%s:%s:%s", slug, strings.TrimSpace(rec.BookID), strings.TrimSpace(rec.HadithIDSite))
	arabic, english := splitTexts(rec.Texts)
	if arabic == "" && english == "" {
		return nil, &types.ValidationError{RecordID: id, Field: "texts", Reason: "both text variants are empty"}
	}

	number := strings.TrimSpace(rec.HadithNumGlobal)
	globalRef := strings.TrimSpace(rec.GlobalRef)
	if globalRef == "" {
		if number == "" {
			return nil, &types.ValidationError{RecordID: id, Field: "hadith_num_global", Reason: "required locator component missing"}
		}
		globalRef = name + " " + number
	}

	return &types.Document{
		ID:                id,
		TextPrimary:       arabic,
		TextSecondary:     english,
		NarratorPrimary:   narratorOrUnknown(rec.NarratorAR),
		NarratorSecondary: narratorOrUnknown(rec.Narrator),
		Grading:           normalizeGrading(rec.Grading),
		Locator: types.Locator{
			Kind:           types.KindHadith,
			Collection:     slug,
			CollectionName: name,
			BookID:         strings.TrimSpace(rec.BookID),
			BookTitle:      NormalizeTitle(firstNonEmpty(rec.BookTitleEN, rec.BookTitleAR)),
			ChapterID:      strings.TrimSpace(rec.ChapterID),
			ChapterTitle:   NormalizeTitle(firstNonEmpty(rec.ChapterTitleEN, rec.ChapterTitleAR)),
			HadithNumber:   number,
			GlobalRef:      globalRef,
		},
		SourceURI: strings.TrimSpace(rec.SourceURL),
	}, nil
}

func normalizeTafsir(rec *types.RawRecord) (*types.Document, error) {
	surah, ayah := rec.Surah, rec.Ayah
	if (surah <= 0 || ayah <= 0) && rec.VerseKey != "" {
		surah, ayah = parseVerseKey(rec.VerseKey)
	}
	if surah <= 0 || ayah <= 0 {
		return nil, types.NewValidationError("verse_key", "surah and ayah are required")
	}

	id := fmt.Sprintf("%s:%d:%d", TafsirCollection, surah, ayah)
	if res := resourceKey(rec); res != "" {
		id = fmt.Sprintf("%s:%s:%d:%d", TafsirCollection, res, surah, ayah)
	}
	arabic, english := splitTexts(rec.Texts)
	if english == "" {
		english = strings.TrimSpace(rec.TextPlain)
	}
	if english == "" && rec.TextHTML != "" {
		english = StripHTML(rec.TextHTML)
	}
	if arabic == "" && english == "" {
		return nil, &types.ValidationError{RecordID: id, Field: "texts", Reason: "both text variants are empty"}
	}

	return &types.Document{
		ID:                id,
		TextPrimary:       arabic,
		TextSecondary:     english,
		NarratorPrimary:   narratorOrUnknown(rec.NarratorAR),
		NarratorSecondary: narratorOrUnknown(rec.Narrator),
		Grading:           normalizeGrading(rec.Grading),
		Locator: types.Locator{
			Kind:           types.KindTafsir,
			Collection:     TafsirCollection,
			CollectionName: strings.TrimSpace(rec.ResourceName),
			Surah:          surah,
			Ayah:           ayah,
			GlobalRef:      fmt.Sprintf("%d:%d", surah, ayah),
		},
		SourceURI: strings.TrimSpace(rec.SourceURL),
	}, nil
}

// NormalizeNarrator strips reporting-verb prefixes and suffixes and collapses
// whitespace. Honorific parentheticals are kept verbatim.
func NormalizeNarrator(raw string) string {
	s := collapse(raw)
	for {
		trimmed := narratorPrefixPat.ReplaceAllString(s, "")
		trimmed = narratorSuffixPat.ReplaceAllString(trimmed, "")
		trimmed = strings.Trim(trimmed, " :-،\u200f\u200e\ufeff")
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return s
}

// NormalizeTitle removes a single leading "- " artifact
func NormalizeTitle(title string) string {
	t := strings.TrimSpace(title)
	return strings.TrimPrefix(t, "- ")
}

// CombinedText builds the embedding input: primary, separator, secondary.
func CombinedText(primary, secondary string) string {
	p := strings.TrimSpace(primary)
	s := strings.TrimSpace(secondary)
	switch {
	case p == "":
		return s
	case s == "":
		return p
	default:
		return p + CombinedSeparator + s
	}
}

// Checksum hashes the fields that affect relevance in a fixed order.
// Locator and source URI do not participate.
func Checksum(doc *types.Document) string {
	fields := []string{
		doc.TextPrimary,
		doc.TextSecondary,
		doc.NarratorPrimary,
		doc.NarratorSecondary,
		strings.Join(doc.Grading, checksumListSep),
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, checksumFieldSep)))
	return hex.EncodeToString(sum[:])
}

// StripHTML reduces an HTML fragment to whitespace-collapsed plain text
func StripHTML(s string) string {
	text := htmlTagPat.ReplaceAllString(s, " ")
	return collapse(html.UnescapeString(text))
}

func splitTexts(blocks []types.TextBlock) (arabic, english string) {
	var ar, en []string
	for _, b := range blocks {
		content := strings.TrimSpace(b.Content)
		if content == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(b.Language)) {
		case "ar", "ara", "arabic":
			ar = append(ar, content)
		default:
			en = append(en, content)
		}
	}
	return strings.Join(ar, "\n"), strings.Join(en, "\n")
}

func normalizeGrading(grades []types.Grade) []string {
	out := make([]string, 0, len(grades))
	for _, g := range grades {
		grade := collapse(g.Grade)
		if grade == "" {
			continue
		}
		out = append(out, grade)
	}
	return out
}

func narratorOrUnknown(raw *string) string {
	if raw == nil {
		return types.UnknownNarrator
	}
	n := NormalizeNarrator(*raw)
	if n == "" {
		return types.UnknownNarrator
	}
	return n
}

// resourceKey names the commentary a tafsir record belongs to, so several
// commentaries on one verse get distinct ids. The numeric resource id wins
// over the name.
func resourceKey(rec *types.RawRecord) string {
	if rec.ResourceID > 0 {
		return strconv.Itoa(rec.ResourceID)
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(rec.ResourceName)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	key := b.String()
	if rest, ok := strings.CutPrefix(key, "tafsir-"); ok {
		key = rest
	}
	return key
}

func parseVerseKey(key string) (int, int) {
	parts := strings.SplitN(strings.TrimSpace(key), ":", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	surah, err1 := strconv.Atoi(parts[0])
	ayah, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return surah, ayah
}

func withRecordID(err error, id string) error {
	if ve, ok := err.(*types.ValidationError); ok && ve.RecordID == "" {
		ve.RecordID = id
	}
	return err
}

func collapse(s string) string {
	return strings.TrimSpace(whitespacePat.ReplaceAllString(s, " "))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
