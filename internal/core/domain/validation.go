package domain

import (
	"fmt"
	"strings"
)

// Violation kinds emitted by the contract validator.
const (
	ViolationRequired          = "required"
	ViolationPattern           = "pattern"
	ViolationLength            = "length"
	ViolationRange             = "range"
	ViolationBounds            = "bounds"
	ViolationEnum              = "enum"
	ViolationUnknownField      = "unknown_field"
	ViolationCitationIntegrity = "citation_integrity"
	ViolationYearRange         = "year_range"
	ViolationRankOrder         = "rank_order"
	ViolationMalformed         = "malformed"
)

// Violation locates one contract rule failure.
type Violation struct {
	Field   string `json:"field"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ValidationErrorReport is the complete per-field rejection report. The
// validator never returns a partial contract alongside it.
type ValidationErrorReport struct {
	Violations []Violation `json:"violations"`
}

func (r ValidationErrorReport) Empty() bool {
	return len(r.Violations) == 0
}

// ValidationError carries the report through error returns so transport layers
// can surface the structured rejection.
type ValidationError struct {
	Report ValidationErrorReport
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Report.Violations) == 0 {
		return "contract validation failed"
	}
	parts := make([]string, 0, len(e.Report.Violations))
	for _, v := range e.Report.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return "contract validation failed: " + strings.Join(parts, "; ")
}
