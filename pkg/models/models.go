// Package models defines the domain types shared across the label
// verifier: jobs, extracted label fields, compliance results, and the
// cached beverage registry.
package models

import "time"

// ── Job ──────────────────────────────────────────────────────

// JobState is the lifecycle state of a verification job. Transitions
// are Pending → Processing → {Completed, Failed} only.
type JobState string

const (
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// rank orders states so callers can assert monotonic progression.
var stateRank = map[JobState]int{
	JobPending:    0,
	JobProcessing: 1,
	JobCompleted:  2,
	JobFailed:     2,
}

// Advances reports whether moving from s to next is a legal forward
// (or same-state) transition under Pending < Processing < {Completed,Failed}.
func (s JobState) Advances(next JobState) bool {
	return stateRank[next] >= stateRank[s]
}

// ExpectedFields holds submitter-provided values to check the label against.
type ExpectedFields struct {
	Brand *string  `json:"brand,omitempty"`
	Class *string  `json:"class,omitempty"`
	ABV   *float64 `json:"abv,omitempty"`
}

// Job is a single label-verification request and its lifecycle.
type Job struct {
	ID       string          `json:"id" db:"id"`
	State    JobState        `json:"state" db:"state"`
	BlobKey  string          `json:"-" db:"blob_key"`
	Expected *ExpectedFields `json:"expected,omitempty" db:"expected_fields"`

	Extracted *ExtractedFields    `json:"extracted,omitempty" db:"extracted_fields"`
	Result    *VerificationResult `json:"result,omitempty" db:"result"`

	RetryCount int     `json:"retry_count" db:"retry_count"`
	Error      *string `json:"error,omitempty" db:"error"`

	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
	ProcessingStartAt *time.Time `json:"processing_start_at,omitempty" db:"processing_start_at"`
	ProcessingEndAt   *time.Time `json:"processing_end_at,omitempty" db:"processing_end_at"`
}

// ── ExtractedFields ──────────────────────────────────────────

// ExtractedFields is the heterogeneous bag of label fields the vision
// extractor returns. Every field is nullable: absence (nil) is a
// distinct signal from presence-with-empty-string.
type ExtractedFields struct {
	Brand             *string  `json:"brand,omitempty"`
	ClassType         *string  `json:"class_type,omitempty"`
	ABVPercent        *float64 `json:"abv_percent,omitempty"`
	NetContents       *string  `json:"net_contents,omitempty"`
	ProducerName      *string  `json:"producer_name,omitempty"`
	ProducerAddress   *string  `json:"producer_address,omitempty"`
	CountryOfOrigin   *string  `json:"country_of_origin,omitempty"`
	GovernmentWarning *string  `json:"government_warning,omitempty"`
	Vintage           *string  `json:"vintage,omitempty"`
	RawText           *string  `json:"raw_text,omitempty"`
}

// ── Match classification ─────────────────────────────────────

// MatchType classifies how a beverage or field match was established.
type MatchType string

const (
	MatchExact          MatchType = "exact"
	MatchFuzzy          MatchType = "fuzzy"
	MatchCategoryOnly   MatchType = "category_only"
	MatchNone           MatchType = "no_match"
	MatchRegistryLookup MatchType = "registry_lookup"
)

// FieldMatchType classifies how a single FieldCheck comparison resolved.
type FieldMatchType string

const (
	FieldMatchExact      FieldMatchType = "exact"
	FieldMatchNormalized FieldMatchType = "normalized"
	FieldMatchFuzzy      FieldMatchType = "fuzzy"
	FieldMatchMismatch   FieldMatchType = "mismatch"
)

// FieldSource attributes a FieldCheck's expected value to its origin.
type FieldSource string

const (
	SourceUserInput          FieldSource = "user_input"
	SourceCachedRecord       FieldSource = "cached_record"
	SourceRegistryRecord     FieldSource = "registry_record"
	SourceRegulationCategory FieldSource = "regulation_category"
	SourceRegulationStandard FieldSource = "regulation_standard"
)

// ── FieldCheck / VerificationResult ──────────────────────────

// FieldCheck is one row of the per-field compliance report.
type FieldCheck struct {
	Field           string         `json:"field"`
	Expected        string         `json:"expected"`
	Extracted       string         `json:"extracted"`
	Matches         bool           `json:"matches"`
	SimilarityScore float64        `json:"similarity_score"`
	MatchType       FieldMatchType `json:"match_type"`
	Source          FieldSource    `json:"source"`
	SourceRecordID  *string        `json:"source_record_id,omitempty"`
	Citation        *string        `json:"citation,omitempty"`
	// Informational checks (e.g. warnings) never gate Passed/confidence.
	Informational bool `json:"informational,omitempty"`
}

// VerificationResult is the full compliance determination for a job.
type VerificationResult struct {
	Passed          bool         `json:"passed"`
	ConfidenceScore float64      `json:"confidence_score"`
	FieldChecks     []FieldCheck `json:"field_checks"`
	Warnings        []string     `json:"warnings,omitempty"`

	MatchedBeverageID *string   `json:"matched_beverage_id,omitempty"`
	MatchType         MatchType `json:"match_type"`
	MatchConfidence   float64   `json:"match_confidence"`
	ABVDeviation      float64   `json:"abv_deviation"`
}

// ── KnownBeverage ────────────────────────────────────────────

// BeverageCategory is the regulatory category of a beverage.
type BeverageCategory string

const (
	CategoryWine    BeverageCategory = "wine"
	CategorySpirits BeverageCategory = "spirits"
	CategoryMalt    BeverageCategory = "malt"
)

// KnownBeverage is a cached or administratively-seeded reference record.
type KnownBeverage struct {
	ID          string           `json:"id" db:"id"`
	Brand       string           `json:"brand" db:"brand"`
	ProductName *string          `json:"product_name,omitempty" db:"product_name"`
	ClassType   string           `json:"class_type" db:"class_type"`
	Category    BeverageCategory `json:"category" db:"category"`
	ABVPercent  float64          `json:"abv_percent" db:"abv_percent"`
	Country     *string          `json:"country,omitempty" db:"country"`
	Producer    *string          `json:"producer,omitempty" db:"producer"`
	Verified    bool             `json:"verified" db:"verified"`
	SourceTag   string           `json:"source_tag" db:"source_tag"`
	SourceURL   *string          `json:"source_url,omitempty" db:"source_url"`
	Notes       string           `json:"notes,omitempty" db:"notes"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

// ── CategoryRule ─────────────────────────────────────────────

// CategoryRule is the regulatory ABV band for one beverage category.
type CategoryRule struct {
	Category    BeverageCategory `json:"category" db:"category"`
	MinABV      float64          `json:"min_abv" db:"min_abv"`
	MaxABV      float64          `json:"max_abv" db:"max_abv"`
	TypicalMin  float64          `json:"typical_min" db:"typical_min"`
	TypicalMax  float64          `json:"typical_max" db:"typical_max"`
	Citation    string           `json:"citation" db:"citation"`
	Description string           `json:"description" db:"description"`
}

// ── MatchHistory ─────────────────────────────────────────────

// MatchHistory is one append-only record of a job's cache/registry
// resolution outcome.
type MatchHistory struct {
	ID              string    `json:"id" db:"id"`
	JobID           string    `json:"job_id" db:"job_id"`
	BeverageID      *string   `json:"beverage_id,omitempty" db:"beverage_id"`
	MatchType       MatchType `json:"match_type" db:"match_type"`
	MatchConfidence *float64  `json:"match_confidence,omitempty" db:"match_confidence"`
	ABVDeviation    float64   `json:"abv_deviation" db:"abv_deviation"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// ── BeverageRevision (supplemented feature) ──────────────────

// BeverageRevision records the prior state of a KnownBeverage row the
// instant an upsert overwrites a non-key field. Append-only; exists so
// a last-writer-wins overwrite can be audited after the fact.
type BeverageRevision struct {
	ID         string        `json:"id" db:"id"`
	BeverageID string        `json:"beverage_id" db:"beverage_id"`
	Snapshot   KnownBeverage `json:"snapshot" db:"snapshot"`
	ReplacedAt time.Time     `json:"replaced_at" db:"replaced_at"`
}

// ── RegistryRecord ───────────────────────────────────────────

// RegistryRecord is one row parsed from the public TTB COLA registry's
// HTML results table.
type RegistryRecord struct {
	TTBID         string
	Permit        string
	Serial        string
	CompletedDate time.Time
	FancifulName  string
	Brand         string
	OriginCode    string
	OriginDesc    string
	ClassCode     string
	ClassDesc     string
	InferredABV   *float64
}
