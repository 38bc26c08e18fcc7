package types

import (
	"strings"

	"github.com/dshills/hadith-search/internal/textutil"
)

// Tier is a grading quality tier; higher is stronger
type Tier int

const (
	TierNone Tier = iota
	TierSecond
	TierStrong
)

var (
	strongGrades = []string{"sahih", "saheeh", "صحيح"}
	secondGrades = []string{"hasan", "حسن"}
)

// GradeTier classifies the first grading entry. Sahih wins over hasan when a
// grade mentions both ("Hasan Sahih").
func GradeTier(grading []string) Tier {
	if len(grading) == 0 {
		return TierNone
	}
	g := textutil.Fold(grading[0])
	for _, s := range strongGrades {
		if strings.Contains(g, s) {
			return TierStrong
		}
	}
	for _, s := range secondGrades {
		if strings.Contains(g, s) {
			return TierSecond
		}
	}
	return TierNone
}
