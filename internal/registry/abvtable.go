package registry

import (
	"regexp"
	"strings"

	"github.com/ttbverify/labelverify/pkg/models"
)

// abvRule pairs a class-description pattern with the typical ABV and
// beverage category TTB registry listings of that class carry. The
// registry's results table never reports ABV directly (spec §4.4), so
// this table is the only source of a registry-record's inferred ABV.
type abvRule struct {
	pattern  *regexp.Regexp
	abv      float64
	category models.BeverageCategory
}

// abvTable is the ordered class-description substring table from spec
// §4.4. Entries are not mutually exclusive — "SPARKLING DESSERT WINE"
// matches both the sparkling-wine and the dessert-wine patterns below — so
// classify does not stop at the first hit; it keeps the rule whose
// matched span is longest, per the spec's "longest-match wins" rule.
var abvTable = []abvRule{
	{regexp.MustCompile(`TABLE.*WINE`), 12.0, models.CategoryWine},
	{regexp.MustCompile(`DESSERT.*WINE`), 18.0, models.CategoryWine},
	{regexp.MustCompile(`FORTIFIED.*WINE`), 18.0, models.CategoryWine},
	{regexp.MustCompile(`SPARKLING.*WINE`), 12.0, models.CategoryWine},
	{regexp.MustCompile(`WHISKEY|WHISKY`), 45.0, models.CategorySpirits},
	{regexp.MustCompile(`VODKA|GIN`), 40.0, models.CategorySpirits},
	{regexp.MustCompile(`DISTILLED SPIRITS`), 40.0, models.CategorySpirits},
	{regexp.MustCompile(`BEER|ALE|LAGER`), 5.0, models.CategoryMalt},
	{regexp.MustCompile(`SPECIALTY MALT`), 5.0, models.CategoryMalt},
}

// classify finds the longest-matching abvRule for a class description,
// uppercased and trimmed before matching since registry listings are
// not case-normalized consistently.
func classify(classDesc string) (abvRule, bool) {
	desc := strings.ToUpper(strings.TrimSpace(classDesc))

	var best abvRule
	bestLen := -1
	found := false
	for _, r := range abvTable {
		loc := r.pattern.FindStringIndex(desc)
		if loc == nil {
			continue
		}
		if length := loc[1] - loc[0]; length > bestLen {
			bestLen = length
			best = r
			found = true
		}
	}
	return best, found
}

// InferABV returns the typical ABV for a TTB class description, and
// whether any table entry matched. Unknown classes return ABV absent
// per spec §4.4.
func InferABV(classDesc string) (float64, bool) {
	r, ok := classify(classDesc)
	if !ok {
		return 0, false
	}
	return r.abv, true
}

// CategoryForClassDesc returns the beverage category a TTB class
// description belongs to, and whether any table entry matched.
func CategoryForClassDesc(classDesc string) (models.BeverageCategory, bool) {
	r, ok := classify(classDesc)
	if !ok {
		return "", false
	}
	return r.category, true
}
