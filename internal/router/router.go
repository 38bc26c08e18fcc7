// Package router classifies free-text queries into retrieval intents.
//
// Classification walks a fixed chain of predicates and returns the intent of
// the first one that matches:
//
//  1. ExactReference: the query is a reference ("Riyad as-Salihin 680",
//     "book 1 hadith 5", "2:153")
//  2. ArabicThematic: more than half of the letters are Arabic script
//  3. NarratorFocused: the query names a narrator from the gazetteer
//  4. EnglishThematic: the query opens with a question template
//  5. Hybrid: everything else, including the empty query
package router

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dshills/hadith-search/internal/textutil"
	"github.com/dshills/hadith-search/pkg/types"
)

// ArabicThreshold is the Arabic letter ratio above which a query is Arabic
const ArabicThreshold = 0.5

// DefaultCollections are the display names recognized in "<collection> <n>"
// references
var DefaultCollections = []string{
	"Riyad as-Salihin", "Riyad us-Saliheen", "Riyadh as-Saliheen", "Riyad",
	"Sahih al-Bukhari", "Bukhari",
	"Sahih Muslim", "Muslim",
	"Sunan Abi Dawud", "Abu Dawud",
	"Jami at-Tirmidhi", "Tirmidhi",
	"Sunan an-Nasa'i", "Nasai",
	"Sunan Ibn Majah", "Ibn Majah",
	"Muwatta Malik", "Muwatta",
	"Musnad Ahmad",
	"Al-Adab Al-Mufrad", "Adab al-Mufrad",
	"Bulugh al-Maram",
	"40 Hadith Nawawi", "Nawawi",
	"Mishkat al-Masabih",
	"رياض الصالحين", "صحيح البخاري", "صحيح مسلم",
}

// DefaultCollectionSlugs maps recognized collection names onto the slugs used
// in document ids. Names missing here resolve to themselves with separators
// removed, so a bare slug also works.
var DefaultCollectionSlugs = map[string]string{
	"Riyad as-Salihin":   "riyadussalihin",
	"Riyad us-Saliheen":  "riyadussalihin",
	"Riyadh as-Saliheen": "riyadussalihin",
	"Riyad":              "riyadussalihin",
	"Sahih al-Bukhari":   "bukhari",
	"Sahih Muslim":       "muslim",
	"Sunan Abi Dawud":    "abudawud",
	"Abu Dawud":          "abudawud",
	"Jami at-Tirmidhi":   "tirmidhi",
	"Sunan an-Nasa'i":    "nasai",
	"Sunan Ibn Majah":    "ibnmajah",
	"Muwatta Malik":      "malik",
	"Muwatta":            "malik",
	"Musnad Ahmad":       "ahmad",
	"Al-Adab Al-Mufrad":  "adab",
	"Adab al-Mufrad":     "adab",
	"Bulugh al-Maram":    "bulugh",
	"40 Hadith Nawawi":   "nawawi40",
	"Nawawi":             "nawawi40",
	"Mishkat al-Masabih": "mishkat",
	"رياض الصالحين":      "riyadussalihin",
	"صحيح البخاري":       "bukhari",
	"صحيح مسلم":          "muslim",
}

// DefaultNarrators is the built-in narrator gazetteer, in both scripts
var DefaultNarrators = []string{
	"Abu Hurairah", "Abu Huraira", "Abu Hurayrah",
	"Aishah", "Aisha", "A'ishah", "Ayesha",
	"Ibn Umar", "Abdullah bin Umar", "Ibn Abbas", "Abdullah bin Abbas",
	"Ibn Mas'ud", "Abdullah bin Mas'ud",
	"Anas bin Malik", "Anas",
	"Umar bin al-Khattab", "Umar", "Ali bin Abi Talib",
	"Abu Sa'id al-Khudri", "Abu Said al-Khudri",
	"Jabir bin Abdullah", "Jabir",
	"Abu Musa al-Ash'ari", "Abu Musa", "Abu Dharr", "Abu Darda",
	"Mu'adh bin Jabal", "Muadh bin Jabal", "Uthman bin Affan",
	"Abu Bakr", "Salman al-Farsi", "Bilal",
	"Umm Salamah", "Asma bint Abi Bakr", "An-Nu'man bin Bashir",
	"أبو هريرة", "أبي هريرة", "عائشة", "ابن عمر", "ابن عباس", "ابن مسعود",
	"أنس بن مالك", "عمر بن الخطاب", "جابر بن عبد الله", "أبي سعيد الخدري",
}

// DefaultTemplates are the question openers that mark an English thematic query
var DefaultTemplates = []string{
	"what is", "what are", "what does", "what did", "what should",
	"how to", "how do", "how does", "how should", "how can",
	"ruling on", "ruling of", "the ruling",
	"hadith about", "hadith on", "hadiths about", "hadiths on", "ahadith about",
	"is it permissible", "is it allowed", "is it sunnah",
	"virtue of", "virtues of", "reward for", "reward of",
	"meaning of", "etiquette of", "tell me about", "explain",
	"why", "when should",
}

var (
	bookHadithPat = regexp.MustCompile(`(?i)^(?:([\p{L}' \-]+?)\s*,?\s+)?book\s*#?\s*(\d+)\s*,?\s*(?:hadith|h)\s*#?\s*(\d+)$`)
	verseRefPat   = regexp.MustCompile(`(?i)^(?:(?:surah|sura|quran|qur'an|tafsir)\s+)?(\d{1,3})\s*:\s*(\d{1,3})$`)
	documentIDPat = regexp.MustCompile(`^[a-z0-9_\-]+:\d+:[0-9a-z]+$`)
	separatorPat  = regexp.MustCompile(`[\s'\-]+`)
)

// BookRef is a parsed "[collection] book N hadith M" reference
type BookRef struct {
	// Collection is the slug, or "" when the query names no collection.
	Collection string
	Book       string
	Hadith     string
}

// Router is safe for concurrent use once built
type Router struct {
	collectionPat *regexp.Regexp
	slugs         map[string]string
	narrators     [][]string // tokenized gazetteer entries
	templates     []string
}

// Option configures a Router
type Option func(*Router)

// WithNarrators replaces the narrator gazetteer
func WithNarrators(names ...string) Option {
	return func(r *Router) {
		r.narrators = tokenizeAll(names)
	}
}

// WithTemplates replaces the English question templates
func WithTemplates(templates ...string) Option {
	return func(r *Router) {
		r.templates = foldAll(templates)
	}
}

// WithCollections replaces the collection names recognized in references
func WithCollections(names ...string) Option {
	return func(r *Router) {
		r.collectionPat = collectionPattern(names)
	}
}

// New builds a Router with the default tables, then applies opts
func New(opts ...Option) *Router {
	r := &Router{
		collectionPat: collectionPattern(DefaultCollections),
		slugs:         slugTable(DefaultCollectionSlugs),
		narrators:     tokenizeAll(DefaultNarrators),
		templates:     foldAll(DefaultTemplates),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type rule struct {
	intent types.Intent
	match  func(q string) bool
}

func (r *Router) chain() []rule {
	return []rule{
		{types.IntentExactReference, r.IsExactReference},
		{types.IntentArabicThematic, IsArabicThematic},
		{types.IntentNarratorFocused, r.IsNarratorFocused},
		{types.IntentEnglishThematic, r.IsEnglishThematic},
	}
}

// Classify always returns exactly one intent
func (r *Router) Classify(query string) types.Intent {
	q := textutil.Collapse(query)
	if q == "" {
		return types.IntentHybrid
	}
	for _, rl := range r.chain() {
		if rl.match(q) {
			return rl.intent
		}
	}
	return types.IntentHybrid
}

// IsExactReference reports whether the whole query is a reference string
func (r *Router) IsExactReference(query string) bool {
	q := textutil.Collapse(query)
	if q == "" {
		return false
	}
	return r.collectionPat.MatchString(q) ||
		bookHadithPat.MatchString(q) ||
		verseRefPat.MatchString(q) ||
		documentIDPat.MatchString(strings.ToLower(q))
}

// Reference returns the lookup key for an exact-reference query: verse
// references become "surah:ayah", everything else is whitespace-collapsed.
func (r *Router) Reference(query string) string {
	q := textutil.Collapse(query)
	if m := verseRefPat.FindStringSubmatch(q); m != nil {
		return fmt.Sprintf("%s:%s", strings.TrimLeft(m[1], "0"), strings.TrimLeft(m[2], "0"))
	}
	return q
}

// BookReference parses a "book N hadith M" query. Numbers lose leading zeros.
func (r *Router) BookReference(query string) (BookRef, bool) {
	m := bookHadithPat.FindStringSubmatch(textutil.Collapse(query))
	if m == nil {
		return BookRef{}, false
	}
	ref := BookRef{Book: trimZeros(m[2]), Hadith: trimZeros(m[3])}
	if name := strings.TrimSpace(m[1]); name != "" {
		ref.Collection = r.collectionSlug(name)
	}
	return ref, true
}

func (r *Router) collectionSlug(name string) string {
	key := collectionKey(name)
	if slug, ok := r.slugs[key]; ok {
		return slug
	}
	return key
}

// IsArabicThematic reports whether Arabic letters are the majority
func IsArabicThematic(query string) bool {
	return textutil.ArabicRatio(query) > ArabicThreshold
}

// IsNarratorFocused reports whether the query names a gazetteer narrator as
// whole, contiguous tokens
func (r *Router) IsNarratorFocused(query string) bool {
	return r.Narrator(query) != ""
}

// Narrator returns the first gazetteer entry found in the query, folded, or ""
func (r *Router) Narrator(query string) string {
	tokens := textutil.Tokenize(query)
	if len(tokens) == 0 {
		return ""
	}
	for _, name := range r.narrators {
		if containsRun(tokens, name) {
			return strings.Join(name, " ")
		}
	}
	return ""
}

// IsEnglishThematic reports whether the query opens with a question template
func (r *Router) IsEnglishThematic(query string) bool {
	q := textutil.Collapse(textutil.Fold(query))
	for _, tpl := range r.templates {
		if q == tpl || strings.HasPrefix(q, tpl+" ") {
			return true
		}
	}
	return false
}

func containsRun(tokens, run []string) bool {
	if len(run) == 0 || len(run) > len(tokens) {
		return false
	}
outer:
	for i := 0; i+len(run) <= len(tokens); i++ {
		for j := range run {
			if tokens[i+j] != run[j] {
				continue outer
			}
		}
		return true
	}
	return false
}

// collectionPattern matches "<name> <number>" with flexible separators
func collectionPattern(names []string) *regexp.Regexp {
	alts := make([]string, 0, len(names))
	for _, name := range names {
		var parts []string
		for _, p := range separatorPat.Split(strings.TrimSpace(name), -1) {
			if p != "" {
				parts = append(parts, regexp.QuoteMeta(p))
			}
		}
		if len(parts) == 0 {
			continue
		}
		alts = append(alts, strings.Join(parts, `[\s'\-]*`))
	}
	if len(alts) == 0 {
		return regexp.MustCompile(`$^`)
	}
	// Longest alternatives first so "sahih muslim" wins over "muslim"
	return regexp.MustCompile(`(?i)^(?:` + strings.Join(sortByLength(alts), "|") + `)[\s,:#]*(?:no\.?|number|hadith)?\s*#?\s*\d+[a-z]?$`)
}

func sortByLength(alts []string) []string {
	out := append([]string(nil), alts...)
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// collectionKey folds a collection name and drops its separators
func collectionKey(name string) string {
	return separatorPat.ReplaceAllString(textutil.Fold(strings.TrimSpace(name)), "")
}

func slugTable(names map[string]string) map[string]string {
	out := make(map[string]string, len(names))
	for name, slug := range names {
		out[collectionKey(name)] = slug
	}
	return out
}

func trimZeros(n string) string {
	if t := strings.TrimLeft(n, "0"); t != "" {
		return t
	}
	return "0"
}

func tokenizeAll(names []string) [][]string {
	out := make([][]string, 0, len(names))
	for _, n := range names {
		if toks := textutil.Tokenize(n); len(toks) > 0 {
			out = append(out, toks)
		}
	}
	// Longer names first so "abu hurairah" is reported instead of a prefix
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

func foldAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if f := textutil.Collapse(textutil.Fold(v)); f != "" {
			out = append(out, f)
		}
	}
	return out
}
