// Package matcher implements the tiered string match used throughout
// the validation engine and the read-through cache's fuzzy lookup:
// exact, then normalized, then Jaro-Winkler fuzzy, stopping at the
// first tier that succeeds.
package matcher

import (
	"strings"

	"github.com/xrash/smetrics"

	"github.com/ttbverify/labelverify/internal/normalize"
	"github.com/ttbverify/labelverify/pkg/models"
)

// FuzzyThreshold is the minimum Jaro-Winkler similarity for the fuzzy
// tier to count as a match.
const FuzzyThreshold = 0.85

// Result is the outcome of a tiered string comparison.
type Result struct {
	Matches    bool
	Similarity float64
	MatchType  models.FieldMatchType
}

// Compare runs the tiered matcher against expected and extracted: exact
// bytewise equality after trim, then normalized (lower-case + collapse
// whitespace + strip non-alphanumerics), then Jaro-Winkler fuzzy.
func Compare(expected, extracted string) Result {
	trimmedExpected := strings.TrimSpace(expected)
	trimmedExtracted := strings.TrimSpace(extracted)

	if trimmedExpected == trimmedExtracted {
		return Result{Matches: true, Similarity: 1.0, MatchType: models.FieldMatchExact}
	}

	normExpected := normalize.AlphanumericOnly(expected)
	normExtracted := normalize.AlphanumericOnly(extracted)
	if normExpected == normExtracted && normExpected != "" {
		return Result{Matches: true, Similarity: 1.0, MatchType: models.FieldMatchNormalized}
	}

	score := smetrics.JaroWinkler(normExpected, normExtracted, 0.7, 4)
	if score >= FuzzyThreshold {
		return Result{Matches: true, Similarity: score, MatchType: models.FieldMatchFuzzy}
	}

	return Result{Matches: false, Similarity: score, MatchType: models.FieldMatchMismatch}
}

// Similarity returns the Jaro-Winkler similarity between the canonical
// forms of a and b. Used by the cache's fuzzy candidate ranking, which
// needs a raw score rather than a tiered match/no-match decision.
func Similarity(a, b string) float64 {
	return smetrics.JaroWinkler(normalize.Canonical(a), normalize.Canonical(b), 0.7, 4)
}
