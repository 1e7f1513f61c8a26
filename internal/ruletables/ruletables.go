// Package ruletables holds the process-wide immutable regulatory
// reference data the validation engine checks extracted fields
// against: standards-of-identity class sets, category ABV bands,
// the government-warning statutory text, and the net-contents
// format. Loaded once at startup and passed by pointer; never
// mutated after construction.
package ruletables

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/ttbverify/labelverify/pkg/models"
)

// ABV tolerance constants, restated here (alongside abvcompare's) so
// callers that only need the tables don't have to import abvcompare.
const (
	UserInputABVTolerance = 0.3
	RegistryABVTolerance  = 3.0
)

// Band is a category's ABV range: Min/Max is the hard regulatory
// bound, TypicalMin/TypicalMax is the range most labels actually fall
// in — values inside the hard band but outside the typical one still
// pass, with a warning.
type Band struct {
	Min, Max               float64
	TypicalMin, TypicalMax float64

	program *vm.Program
}

// InHardBand evaluates the band's compiled expr program against the
// extracted ABV.
func (b Band) InHardBand(extractedABV float64) (bool, error) {
	out, err := expr.Run(b.program, map[string]any{"extractedABV": extractedABV, "Min": b.Min, "Max": b.Max})
	if err != nil {
		return false, fmt.Errorf("ruletables: band eval: %w", err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// InTypicalBand reports whether extractedABV falls inside the
// category's typical (non-hard) range.
func (b Band) InTypicalBand(extractedABV float64) bool {
	return extractedABV >= b.TypicalMin && extractedABV <= b.TypicalMax
}

// GovernmentWarning is the required statutory text the label must
// carry, split so the engine can check the marker's capitalization
// separately from the body.
type GovernmentWarning struct {
	Marker string
	Body   string
}

// NetContentsPattern matches "NUMBER UNIT" with UNIT one of the
// accepted volume units, per spec §4.6.
var NetContentsPattern = regexp.MustCompile(`(?i)([0-9]+(?:\.[0-9]+)?)\s*(mL|ml|L|l|fl\s*oz|oz)\b`)

// Tables is the full immutable rule set, built once by Load and
// threaded by pointer into the validation engine.
type Tables struct {
	StandardsOfIdentity map[models.BeverageCategory][]string
	CategoryBands       map[models.BeverageCategory]Band
	Warning             GovernmentWarning
	RequiredFields      []string
}

// classOf reports whether class is one of category's entries in the
// standards-of-identity table (exact string comparison).
func (t *Tables) classOf(category models.BeverageCategory, class string) bool {
	for _, accepted := range t.StandardsOfIdentity[category] {
		if accepted == class {
			return true
		}
	}
	return false
}

// AcceptedClasses returns the union of standards-of-identity class
// strings across all categories, used when the extracted class's
// category is not yet known and the engine must search every table.
func (t *Tables) AcceptedClasses() []string {
	seen := make(map[string]bool)
	var out []string
	for _, classes := range t.StandardsOfIdentity {
		for _, c := range classes {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// ClassesFor returns the standards-of-identity class set for a single
// category.
func (t *Tables) ClassesFor(category models.BeverageCategory) []string {
	return t.StandardsOfIdentity[category]
}

// BandFor returns the ABV band for a category.
func (t *Tables) BandFor(category models.BeverageCategory) (Band, bool) {
	b, ok := t.CategoryBands[category]
	return b, ok
}

func compileBand(min, max, typicalMin, typicalMax float64) Band {
	program, err := expr.Compile("extractedABV >= Min && extractedABV <= Max", expr.Env(map[string]any{
		"extractedABV": float64(0),
		"Min":          min,
		"Max":          max,
	}), expr.AsBool())
	if err != nil {
		panic(fmt.Sprintf("ruletables: band expression failed to compile: %v", err))
	}
	return Band{Min: min, Max: max, TypicalMin: typicalMin, TypicalMax: typicalMax, program: program}
}

// Load builds the compiled-in rule tables. There is no external
// config source for these yet; a future admin override layer reads
// through a store and falls back to this table, per the validation
// engine's design note.
func Load() *Tables {
	t := &Tables{
		StandardsOfIdentity: map[models.BeverageCategory][]string{
			models.CategoryWine: {
				"TABLE WINE", "RED WINE", "WHITE WINE", "ROSE WINE",
				"SPARKLING WINE", "DESSERT WINE", "FORTIFIED WINE",
				"CHAMPAGNE", "PORT", "SHERRY",
			},
			models.CategorySpirits: {
				"BOURBON", "WHISKEY", "WHISKY", "RYE", "SCOTCH",
				"VODKA", "GIN", "RUM", "TEQUILA", "BRANDY", "LIQUEUR",
				"CORDIAL", "MEZCAL",
			},
			models.CategoryMalt: {
				"BEER", "ALE", "LAGER", "STOUT", "PORTER", "MALT LIQUOR",
				"PILSNER", "IPA",
			},
		},
		CategoryBands: map[models.BeverageCategory]Band{
			models.CategoryWine:    compileBand(5, 24, 9, 16),
			models.CategorySpirits: compileBand(30, 95, 35, 50),
			models.CategoryMalt:    compileBand(0.5, 12, 4, 8),
		},
		Warning: GovernmentWarning{
			Marker: "GOVERNMENT WARNING:",
			Body: strings.Join([]string{
				"(1) According to the Surgeon General, women should not drink",
				"alcoholic beverages during pregnancy because of the risk of birth",
				"defects. (2) Consumption of alcoholic beverages impairs your",
				"ability to drive a car or operate machinery, and may cause health",
				"problems.",
			}, " "),
		},
		RequiredFields: []string{
			"Brand", "ClassType", "ABV", "NetContents", "GovernmentWarningText",
		},
	}
	return t
}

// MatchesStandardOfIdentity reports whether class belongs to
// category's standards-of-identity set, after the caller has already
// applied the tiered string matcher — kept here only as a convenience
// for exact/normalized callers that don't need a FieldCheck.
func (t *Tables) MatchesStandardOfIdentity(category models.BeverageCategory, class string) bool {
	return t.classOf(category, strings.ToUpper(strings.TrimSpace(class)))
}
