// Package textutil holds the bilingual tokenization rules shared by the
// lexical index, the query router, the retriever and the scorer.
package textutil

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	tokenPat  = regexp.MustCompile(`[\p{L}\p{N}_]+`)
	quotedPat = regexp.MustCompile(`"([^"]{3,})"|“([^”]{3,})”|'([^']{3,})'`)
	spacePat  = regexp.MustCompile(`\s+`)
)

// IsArabic reports whether r belongs to one of the Arabic Unicode blocks
func IsArabic(r rune) bool {
	switch {
	case r >= 0x0600 && r <= 0x06FF,
		r >= 0x0750 && r <= 0x077F,
		r >= 0x08A0 && r <= 0x08FF,
		r >= 0xFB50 && r <= 0xFDFF,
		r >= 0xFE70 && r <= 0xFEFF:
		return true
	}
	return false
}

// isTashkeel matches Arabic vowel marks and tatweel, which are dropped before
// matching so vocalized and unvocalized spellings compare equal.
func isTashkeel(r rune) bool {
	return (r >= 0x064B && r <= 0x065F) || r == 0x0670 || r == 0x0640 ||
		(r >= 0x06D6 && r <= 0x06ED)
}

// ArabicRatio returns the share of Arabic-script runes among letters.
// A string without letters has ratio 0.
func ArabicRatio(s string) float64 {
	var letters, arabic int
	for _, r := range s {
		if isTashkeel(r) || !unicode.IsLetter(r) {
			continue
		}
		letters++
		if IsArabic(r) {
			arabic++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(arabic) / float64(letters)
}

// Fold lowercases s and strips Arabic diacritics
func Fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isTashkeel(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// SplitScripts inserts a space wherever an Arabic-script run meets a
// non-Arabic letter or digit, so the two scripts never share a token.
func SplitScripts(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	prev := rune(0)
	for _, r := range s {
		if prev != 0 && isWordRune(prev) && isWordRune(r) && IsArabic(prev) != IsArabic(r) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
		if !isTashkeel(r) {
			prev = r
		}
	}
	return b.String()
}

// Tokenize folds s and splits it into word tokens, separating Arabic and
// Latin runs. Single-character tokens are dropped.
func Tokenize(s string) []string {
	raw := tokenPat.FindAllString(SplitScripts(Fold(s)), -1)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		if len([]rune(tok)) < 2 {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// HasArabic reports whether the token contains Arabic script
func HasArabic(tok string) bool {
	for _, r := range tok {
		if IsArabic(r) {
			return true
		}
	}
	return false
}

// Partition splits tokens into Arabic-script and other-script subsets,
// keeping their relative order.
func Partition(tokens []string) (arabic, other []string) {
	for _, tok := range tokens {
		if HasArabic(tok) {
			arabic = append(arabic, tok)
		} else {
			other = append(other, tok)
		}
	}
	return arabic, other
}

// QuotedPhrase returns the first quoted phrase in the query, folded and
// whitespace-collapsed, and whether one was found.
func QuotedPhrase(query string) (string, bool) {
	m := quotedPat.FindStringSubmatch(query)
	if m == nil {
		return "", false
	}
	for _, g := range m[1:] {
		if strings.TrimSpace(g) != "" {
			return Collapse(Fold(g)), true
		}
	}
	return "", false
}

// Collapse trims s and reduces internal whitespace runs to one space
func Collapse(s string) string {
	return strings.TrimSpace(spacePat.ReplaceAllString(s, " "))
}

// ContainsPhrase reports whether the folded text contains phrase after
// both have been tokenized and rejoined, ignoring punctuation between words.
func ContainsPhrase(text, phrase string) bool {
	p := strings.Join(Tokenize(phrase), " ")
	if p == "" {
		return false
	}
	t := " " + strings.Join(Tokenize(text), " ") + " "
	return strings.Contains(t, " "+p+" ")
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
