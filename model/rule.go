package model

import (
	"time"

	"github.com/docfold/docfold/schema"
)

// Rule is a stable extraction configuration identity. Its behavior lives in
// immutable RuleVersion children; CurrentVersionID always points to the one
// published version (or is nil before first publish).
type Rule struct {
	ID               string  `gorm:"primaryKey;size:36" json:"id"`
	Code             string  `gorm:"size:64;uniqueIndex" json:"code"`
	Name             string  `gorm:"size:256" json:"name"`
	Description      string  `gorm:"type:text" json:"description,omitempty"`
	CurrentVersionID *string `gorm:"size:36" json:"current_version_id,omitempty"`
	Active           bool    `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StrategyType identifies an extraction strategy.
type StrategyType string

const (
	StrategyRegex  StrategyType = "regex"
	StrategyAnchor StrategyType = "anchor"
	StrategyTable  StrategyType = "table"
	StrategyLLM    StrategyType = "llm"
)

// MatchMode selects how many regex matches are taken.
type MatchMode string

const (
	MatchFirst MatchMode = "first"
	MatchAll   MatchMode = "all"
)

// Region is an axis-aligned pixel rectangle on a page.
type Region struct {
	Page int `json:"page"`
	X    int `json:"x"`
	Y    int `json:"y"`
	W    int `json:"w"`
	H    int `json:"h"`
}

// Strategy binds one schema field path to an extraction method.
type Strategy struct {
	Type StrategyType `json:"type"`

	// Regex strategy.
	Pattern   string    `json:"pattern,omitempty"`
	MatchMode MatchMode `json:"match_mode,omitempty"`
	Group     int       `json:"group,omitempty"` // capture group, 0 = whole match

	// Anchor strategy.
	Anchor        string `json:"anchor,omitempty"`
	AnchorIsRegex bool   `json:"anchor_is_regex,omitempty"`
	MaxDistance   int    `json:"max_distance,omitempty"`
	EndMarker     string `json:"end_marker,omitempty"`

	// Table strategy.
	TableHeader string `json:"table_header,omitempty"`
	ColumnName  string `json:"column_name,omitempty"`
	FilterKey   string `json:"filter_key,omitempty"`
	FilterValue string `json:"filter_value,omitempty"`

	// LLM strategy. Prompt is the operator hint snippet; ContextMode is
	// full_text, first_pages or region.
	Prompt      string  `json:"prompt,omitempty"`
	ContextMode string  `json:"context_mode,omitempty"`
	FirstPages  int     `json:"first_pages,omitempty"`
	Region      *Region `json:"region,omitempty"`
}

// CleanOpType identifies a cleaning operation.
type CleanOpType string

const (
	CleanRegexReplace CleanOpType = "regex_replace"
	CleanTrim         CleanOpType = "trim"
	CleanDateFormat   CleanOpType = "date_format"
)

// CleanOp is one cleaning step for a field, applied in declared order.
type CleanOp struct {
	Type         CleanOpType `json:"type"`
	Pattern      string      `json:"pattern,omitempty"`
	Replacement  string      `json:"replacement,omitempty"`
	OutputFormat string      `json:"output_format,omitempty"` // Go reference layout
}

// ValidatorType identifies a validation predicate.
type ValidatorType string

const (
	ValidateRequired      ValidatorType = "required"
	ValidateNotEmpty      ValidatorType = "not_empty"
	ValidatePattern       ValidatorType = "pattern"
	ValidateRange         ValidatorType = "range"
	ValidateLength        ValidatorType = "length"
	ValidateUnique        ValidatorType = "unique"
	ValidateHasFields     ValidatorType = "has_fields"
	ValidateItemsRequired ValidatorType = "items_required"
	ValidateExpression    ValidatorType = "expression"
)

// Validator is one validation predicate bound to a field path.
type Validator struct {
	Type ValidatorType `json:"type"`

	// Pattern predicate: either a named pattern (email, phone, url,
	// id_card) or a custom regex.
	Named   string `json:"named,omitempty"`
	Pattern string `json:"pattern,omitempty"`

	// Range predicate.
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`

	// Length predicate (arrays).
	MinLen *int `json:"min_len,omitempty"`
	MaxLen *int `json:"max_len,omitempty"`

	// Unique predicate: optional element key to compare by.
	UniqueBy string `json:"unique_by,omitempty"`

	// HasFields / ItemsRequired predicates.
	Fields []string `json:"fields,omitempty"`

	// Expression predicate: JavaScript returning a truthy value.
	Expr string `json:"expr,omitempty"`

	Message string `json:"message,omitempty"`
}

// FieldRules groups cleaning and validation for one field path.
type FieldRules struct {
	Clean    []CleanOp   `json:"clean,omitempty"`
	Validate []Validator `json:"validate,omitempty"`
}

// EnhancementConfig drives the optional second-pass LLM enhancement.
type EnhancementConfig struct {
	Enabled bool `json:"enabled"`
	// Threshold is the confidence (0..100) below which fields are re-asked.
	Threshold float64 `json:"threshold,omitempty"`
}

// ConsistencyPolicy selects what happens when OCR and vision disagree.
type ConsistencyPolicy string

const (
	PolicyPreferLLM    ConsistencyPolicy = "prefer_llm"
	PolicyPreferOCR    ConsistencyPolicy = "prefer_ocr"
	PolicyManualReview ConsistencyPolicy = "manual_review"
)

// ConsistencyConfig drives the optional vision consistency check.
type ConsistencyConfig struct {
	Enabled   bool              `json:"enabled"`
	Threshold float64           `json:"threshold,omitempty"` // similarity 0..1
	Policy    ConsistencyPolicy `json:"policy,omitempty"`
}

// RuleVersion is an immutable snapshot of a rule's full extraction
// configuration. Versions are labeled V<major>.<minor>; publish allocates
// the next minor above the maximum over published+archived versions.
type RuleVersion struct {
	ID      string        `gorm:"primaryKey;size:36" json:"id"`
	RuleID  string        `gorm:"size:36;index" json:"rule_id"`
	Version string        `gorm:"size:16" json:"version"`
	Status  VersionStatus `gorm:"size:16;index" json:"status"`

	Schema     *schema.Node          `gorm:"serializer:json;type:jsonb" json:"schema"`
	Extraction map[string]Strategy   `gorm:"serializer:json;type:jsonb" json:"extraction"`
	Validation map[string]FieldRules `gorm:"serializer:json;type:jsonb" json:"validation"`

	Enhancement EnhancementConfig `gorm:"serializer:json;type:jsonb" json:"enhancement"`
	Consistency ConsistencyConfig `gorm:"serializer:json;type:jsonb" json:"consistency"`

	// DefaultThreshold is the rule-wide confidence gate default (0..100)
	// used when a schema node declares none. Zero means the global
	// default of 80.
	DefaultThreshold float64 `json:"default_threshold,omitempty"`

	// OCR page strategy: single_page, multi_page or specified_pages with
	// a page expression ("1-3", "1,3,5", "Last Page").
	PageStrategy   string `gorm:"size:24" json:"page_strategy,omitempty"`
	PageExpression string `gorm:"size:128" json:"page_expression,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
