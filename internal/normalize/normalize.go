// Package normalize provides the string normalization shared by the
// read-through cache's candidate indexing and the validation engine's
// tiered string matcher, so "Stone Creek" and "STONE  creek" resolve
// to the same comparison key everywhere in the system.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var asciiFold transform.Transformer = runes.Remove(runes.In(unicode.Mn))

// Collapse trims leading/trailing whitespace and collapses internal
// runs of whitespace to a single space. Used as the first step before
// any comparison.
func Collapse(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// Fold strips combining diacritical marks (NFD decomposition, drop
// nonspacing marks, NFC recomposition), so "Rosé" becomes "Rose". It
// does not change case (Canonical upper-cases) and does not check
// whether two distinct inputs fold to the same string; letters with no
// decomposition, such as "ø", are left as they are. It is safe to call
// on strings with no diacritics at all.
func Fold(s string) string {
	decomposed := norm.NFD.String(s)
	folded, _, err := transform.String(asciiFold, decomposed)
	if err != nil {
		folded = decomposed
	}
	return norm.NFC.String(folded)
}

// Canonical applies the full normalization pipeline used for
// case-insensitive, diacritic-insensitive comparison: collapse
// whitespace, ASCII-fold, upper-case.
func Canonical(s string) string {
	return strings.ToUpper(Fold(Collapse(s)))
}

// AlphanumericOnly strips everything but letters and digits from the
// canonical form, used by the "Normalized" tier of the tiered matcher.
func AlphanumericOnly(s string) string {
	var b strings.Builder
	for _, r := range Canonical(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FirstAlphabeticToken returns the first run of letters in the
// canonical form of s, used to pre-filter fuzzy-match candidates
// sharing the same leading token before scoring the whole string.
func FirstAlphabeticToken(s string) string {
	canon := Canonical(s)
	fields := strings.Fields(canon)
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, r := range fields[0] {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
