// Package validation implements C10: the central validation engine.
// It composes the per-field checks from spec §4.6's table into a
// single VerificationResult. Pure and synchronous — no I/O, no
// suspension points; every input it needs is already resolved by the
// caller (extracted fields, optional user expectations, the cache
// resolution, and the static rule tables).
package validation

import (
	"context"
	"fmt"

	"github.com/ttbverify/labelverify/internal/abvcompare"
	"github.com/ttbverify/labelverify/internal/matcher"
	"github.com/ttbverify/labelverify/internal/ruletables"
	"github.com/ttbverify/labelverify/pkg/models"
)

// Engine composes the per-field checks into a VerificationResult. It
// carries no state of its own; rules are passed into each Validate
// call so a hot-reloaded rule table never requires rebuilding it.
type Engine struct{}

// New builds a validation Engine.
func New() *Engine {
	return &Engine{}
}

// resolution bundles the cache's outcome for a job, internal to this
// package's per-check helpers.
type resolution struct {
	Beverage        *models.KnownBeverage
	MatchType       models.MatchType
	MatchConfidence float64
}

// Validate produces a VerificationResult from extracted label fields,
// optional user-supplied expectations, and the cache's resolution for
// this job. Pure and synchronous; ctx is accepted for call-signature
// consistency with the rest of the pipeline but never used for I/O.
func (e *Engine) Validate(ctx context.Context, extracted *models.ExtractedFields, expected *models.ExpectedFields, cache *models.KnownBeverage, matchType models.MatchType, matchConfidence float64, rules *ruletables.Tables) *models.VerificationResult {
	res := resolution{Beverage: cache, MatchType: matchType, MatchConfidence: matchConfidence}

	var checks []models.FieldCheck
	var warnings []string

	checks = append(checks, userInputChecks(extracted, expected)...)
	checks = append(checks, cacheChecks(extracted, res)...)

	classCheck, classWarning := standardsOfIdentityCheck(extracted, res, rules)
	if classCheck != nil {
		checks = append(checks, *classCheck)
	}
	if classWarning != "" {
		warnings = append(warnings, classWarning)
	}

	bandCheck, bandWarning := categoryBandCheck(extracted, res, rules)
	if bandCheck != nil {
		checks = append(checks, *bandCheck)
	}
	if bandWarning != "" {
		warnings = append(warnings, bandWarning)
	}

	checks = append(checks, governmentWarningChecks(extracted, rules)...)
	checks = append(checks, netContentsCheck(extracted))
	checks = append(checks, sameFieldOfVisionCheck(extracted))
	checks = append(checks, mandatoryFieldChecks(extracted, rules)...)

	result := aggregate(checks)
	result.Warnings = warnings
	result.MatchType = res.MatchType
	result.MatchConfidence = res.MatchConfidence
	if res.Beverage != nil {
		result.MatchedBeverageID = &res.Beverage.ID
	}
	result.ABVDeviation = cacheABVDeviation(extracted, res)
	return result
}

func aggregate(checks []models.FieldCheck) *models.VerificationResult {
	passed := true
	var simSum float64
	var simCount int

	for _, c := range checks {
		if c.Informational {
			continue
		}
		if !c.Matches {
			passed = false
		}
		simSum += c.SimilarityScore
		simCount++
	}

	confidence := 0.0
	if simCount > 0 {
		confidence = simSum / float64(simCount)
	}

	return &models.VerificationResult{
		Passed:          passed,
		ConfidenceScore: confidence,
		FieldChecks:     checks,
	}
}

func cacheABVDeviation(extracted *models.ExtractedFields, resolution resolution) float64 {
	if extracted.ABVPercent == nil || resolution.Beverage == nil {
		return 0
	}
	return abvcompare.Deviation(resolution.Beverage.ABVPercent, *extracted.ABVPercent)
}

func userInputChecks(extracted *models.ExtractedFields, expected *models.ExpectedFields) []models.FieldCheck {
	if expected == nil {
		return nil
	}
	var checks []models.FieldCheck

	if expected.Brand != nil && extracted.Brand != nil {
		checks = append(checks, stringCheck("brand", *expected.Brand, *extracted.Brand, models.SourceUserInput, nil))
	}
	if expected.Class != nil && extracted.ClassType != nil {
		checks = append(checks, stringCheck("class_type", *expected.Class, *extracted.ClassType, models.SourceUserInput, nil))
	}
	if expected.ABV != nil && extracted.ABVPercent != nil {
		checks = append(checks, abvCheck("abv_percent", *expected.ABV, *extracted.ABVPercent, abvcompare.UserInputTolerance, models.SourceUserInput, nil))
	}
	return checks
}

func cacheChecks(extracted *models.ExtractedFields, resolution resolution) []models.FieldCheck {
	if resolution.Beverage == nil {
		return nil
	}
	source := models.SourceCachedRecord
	if resolution.MatchType == models.MatchRegistryLookup {
		source = models.SourceRegistryRecord
	}
	var checks []models.FieldCheck

	if extracted.Brand != nil && extracted.ClassType != nil {
		combined := fmt.Sprintf("%s %s", resolution.Beverage.Brand, resolution.Beverage.ClassType)
		extractedCombined := fmt.Sprintf("%s %s", *extracted.Brand, *extracted.ClassType)
		checks = append(checks, stringCheck("brand_class", combined, extractedCombined, source, &resolution.Beverage.ID))
	}

	if extracted.ABVPercent != nil {
		tolerance := abvcompare.UserInputTolerance
		if resolution.MatchType == models.MatchRegistryLookup {
			tolerance = abvcompare.RegistryTolerance
		}
		checks = append(checks, abvCheck("abv_percent_cache", resolution.Beverage.ABVPercent, *extracted.ABVPercent, tolerance, source, &resolution.Beverage.ID))
	}
	return checks
}

func standardsOfIdentityCheck(extracted *models.ExtractedFields, resolution resolution, rules *ruletables.Tables) (*models.FieldCheck, string) {
	if extracted.ClassType == nil {
		return nil, ""
	}

	classes := rules.AcceptedClasses()
	if resolution.Beverage != nil {
		if band := rules.ClassesFor(resolution.Beverage.Category); len(band) > 0 {
			classes = band
		}
	}

	best := matcher.Result{MatchType: models.FieldMatchMismatch}
	var bestClass string
	for _, candidate := range classes {
		r := matcher.Compare(candidate, *extracted.ClassType)
		if r.Matches && r.Similarity > best.Similarity {
			best = r
			bestClass = candidate
		}
	}

	check := models.FieldCheck{
		Field:           "class_type",
		Expected:        bestClass,
		Extracted:       *extracted.ClassType,
		Matches:         best.Matches,
		SimilarityScore: best.Similarity,
		MatchType:       best.MatchType,
		Source:          models.SourceRegulationStandard,
	}

	warning := ""
	if best.Matches && best.MatchType == models.FieldMatchFuzzy && best.Similarity < 0.95 {
		warning = "possible spelling variation in class/type"
	}
	return &check, warning
}

func categoryBandCheck(extracted *models.ExtractedFields, resolution resolution, rules *ruletables.Tables) (*models.FieldCheck, string) {
	if extracted.ABVPercent == nil {
		return nil, ""
	}
	category, ok := resolveCategory(extracted, resolution, rules)
	if !ok {
		return nil, ""
	}
	band, ok := rules.BandFor(category)
	if !ok {
		return nil, ""
	}

	inHard, err := band.InHardBand(*extracted.ABVPercent)
	if err != nil {
		inHard = false
	}

	sim := 0.0
	if inHard {
		sim = 1.0
	}

	check := models.FieldCheck{
		Field:           "abv_category_band",
		Expected:        fmt.Sprintf("%.1f-%.1f", band.Min, band.Max),
		Extracted:       fmt.Sprintf("%.2f", *extracted.ABVPercent),
		Matches:         inHard,
		SimilarityScore: sim,
		MatchType:       boolMatchType(inHard),
		Source:          models.SourceRegulationCategory,
	}

	warning := ""
	if inHard && !band.InTypicalBand(*extracted.ABVPercent) {
		warning = "ABV outside typical band for category, within hard regulatory band"
	}
	return &check, warning
}

// resolveCategory determines which beverage category the category-band
// check should apply: a matched beverage's own category when the cache
// or registry resolved one, otherwise whichever standards-of-identity
// category the extracted class/type string itself best fits — the
// band check does not require a cache hit to fire.
func resolveCategory(extracted *models.ExtractedFields, resolution resolution, rules *ruletables.Tables) (models.BeverageCategory, bool) {
	if resolution.Beverage != nil {
		return resolution.Beverage.Category, true
	}
	if extracted.ClassType == nil {
		return "", false
	}

	best := matcher.Result{MatchType: models.FieldMatchMismatch}
	var bestCategory models.BeverageCategory
	found := false
	for category, classes := range rules.StandardsOfIdentity {
		for _, candidate := range classes {
			r := matcher.Compare(candidate, *extracted.ClassType)
			if r.Matches && r.Similarity > best.Similarity {
				best = r
				bestCategory = category
				found = true
			}
		}
	}
	return bestCategory, found
}

func governmentWarningChecks(extracted *models.ExtractedFields, rules *ruletables.Tables) []models.FieldCheck {
	citation := "27 CFR Part 16"
	text := ""
	if extracted.GovernmentWarning != nil {
		text = *extracted.GovernmentWarning
	}

	presence := models.FieldCheck{
		Field: "government_warning_presence", Expected: "present", Extracted: presenceLabel(text),
		Matches: text != "", SimilarityScore: boolScore(text != ""),
		MatchType: boolMatchType(text != ""), Source: models.SourceRegulationStandard, Citation: &citation,
	}

	markerOK := hasMarker(text, rules.Warning.Marker)
	marker := models.FieldCheck{
		Field: "government_warning_marker", Expected: rules.Warning.Marker, Extracted: leading(text, len(rules.Warning.Marker)),
		Matches: markerOK, SimilarityScore: boolScore(markerOK),
		MatchType: boolMatchType(markerOK), Source: models.SourceRegulationStandard, Citation: &citation,
	}

	bodyResult := matcher.Compare(rules.Warning.Body, bodyOf(text, rules.Warning.Marker))
	body := models.FieldCheck{
		Field: "government_warning_body", Expected: rules.Warning.Body, Extracted: bodyOf(text, rules.Warning.Marker),
		Matches: bodyResult.Matches, SimilarityScore: bodyResult.Similarity,
		MatchType: bodyResult.MatchType, Source: models.SourceRegulationStandard, Citation: &citation,
	}

	return []models.FieldCheck{presence, marker, body}
}

func netContentsCheck(extracted *models.ExtractedFields) models.FieldCheck {
	citation := "27 CFR Part 4/5/7"
	text := ""
	if extracted.NetContents != nil {
		text = *extracted.NetContents
	}
	matches := ruletables.NetContentsPattern.MatchString(text) && hasPositiveNumber(text)

	return models.FieldCheck{
		Field: "net_contents", Expected: "NUMBER UNIT (mL, L, fl oz, oz)", Extracted: text,
		Matches: matches, SimilarityScore: boolScore(matches),
		MatchType: boolMatchType(matches), Source: models.SourceRegulationStandard, Citation: &citation,
	}
}

func sameFieldOfVisionCheck(extracted *models.ExtractedFields) models.FieldCheck {
	citation := "27 CFR 5.63"
	ok := nonEmpty(extracted.Brand) && nonEmpty(extracted.ClassType) && extracted.ABVPercent != nil

	return models.FieldCheck{
		Field: "same_field_of_vision", Expected: "brand, class/type, ABV co-present", Extracted: presenceSummary(extracted),
		Matches: ok, SimilarityScore: boolScore(ok),
		MatchType: boolMatchType(ok), Source: models.SourceRegulationStandard, Citation: &citation,
	}
}

func mandatoryFieldChecks(extracted *models.ExtractedFields, rules *ruletables.Tables) []models.FieldCheck {
	values := map[string]*string{
		"Brand":                 extracted.Brand,
		"ClassType":             extracted.ClassType,
		"NetContents":           extracted.NetContents,
		"GovernmentWarningText": extracted.GovernmentWarning,
	}

	var checks []models.FieldCheck
	for _, field := range rules.RequiredFields {
		if field == "ABV" {
			present := extracted.ABVPercent != nil
			checks = append(checks, models.FieldCheck{
				Field: "mandatory_" + field, Expected: "present", Extracted: presenceLabel(boolToStr(present)),
				Matches: present, SimilarityScore: boolScore(present), MatchType: boolMatchType(present),
				Source: models.SourceRegulationStandard,
			})
			continue
		}
		val := values[field]
		present := nonEmpty(val)
		checks = append(checks, models.FieldCheck{
			Field: "mandatory_" + field, Expected: "present", Extracted: presenceLabel(derefOr(val, "")),
			Matches: present, SimilarityScore: boolScore(present), MatchType: boolMatchType(present),
			Source: models.SourceRegulationStandard,
		})
	}
	return checks
}

func stringCheck(field, expected, extracted string, source models.FieldSource, recordID *string) models.FieldCheck {
	r := matcher.Compare(expected, extracted)
	return models.FieldCheck{
		Field: field, Expected: expected, Extracted: extracted,
		Matches: r.Matches, SimilarityScore: r.Similarity, MatchType: r.MatchType,
		Source: source, SourceRecordID: recordID,
	}
}

func abvCheck(field string, expected, extracted, tolerance float64, source models.FieldSource, recordID *string) models.FieldCheck {
	matches, deviation := abvcompare.WithinTolerance(expected, extracted, tolerance)
	sim := 1.0
	if tolerance == abvcompare.RegistryTolerance {
		sim = abvcompare.RegistrySimilarity(deviation)
	} else if !matches {
		sim = 0.0
	}
	return models.FieldCheck{
		Field:           field,
		Expected:        fmt.Sprintf("%.2f", expected),
		Extracted:       fmt.Sprintf("%.2f", extracted),
		Matches:         matches,
		SimilarityScore: sim,
		MatchType:       boolMatchType(matches),
		Source:          source,
		SourceRecordID:  recordID,
	}
}

func boolMatchType(ok bool) models.FieldMatchType {
	if ok {
		return models.FieldMatchExact
	}
	return models.FieldMatchMismatch
}

func boolScore(ok bool) float64 {
	if ok {
		return 1.0
	}
	return 0.0
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func presenceLabel(s string) string {
	if s == "" {
		return "absent"
	}
	return "present"
}

func presenceSummary(extracted *models.ExtractedFields) string {
	return fmt.Sprintf("brand=%v class=%v abv=%v", nonEmpty(extracted.Brand), nonEmpty(extracted.ClassType), extracted.ABVPercent != nil)
}

func boolToStr(b bool) string {
	if b {
		return "x"
	}
	return ""
}

func hasMarker(text, marker string) bool {
	return len(text) >= len(marker) && text[:len(marker)] == marker
}

func leading(text string, n int) string {
	if len(text) < n {
		return text
	}
	return text[:n]
}

func bodyOf(text, marker string) string {
	if !hasMarker(text, marker) {
		return text
	}
	return text[len(marker):]
}

func hasPositiveNumber(text string) bool {
	m := ruletables.NetContentsPattern.FindStringSubmatch(text)
	if m == nil {
		return false
	}
	var v float64
	_, err := fmt.Sscanf(m[1], "%f", &v)
	return err == nil && v > 0
}
