package usecase

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/schema"
)

const (
	maxAnswerChars   = 10000
	maxSources       = 100
	maxSourceTags    = 50
	maxResultEntries = 100
)

// contractRootKeys is the closed set of top-level fields. The root contract is
// a strict record; unknown fields are a validation error. Per-source records
// stay open and pass unknown fields through verbatim.
var contractRootKeys = map[string]struct{}{
	"version": {}, "persona": {}, "mode": {}, "answer": {}, "sources": {},
	"retrieval_summary": {}, "unknowns": {}, "integrity": {}, "provenance": {},
}

// ContractValidator is the single enforcement point for the answer contract.
// It returns either a validated contract or a complete field-level report,
// never a partial object. Violations are collected across independent fields.
type ContractValidator struct{}

func NewContractValidator() ContractValidator {
	return ContractValidator{}
}

// Validate checks an assembled contract against the structural and cross-field
// rules. Exactly one of the return values is non-nil.
func (v ContractValidator) Validate(c *domain.AnswerContract) (*domain.AnswerContract, *domain.ValidationErrorReport) {
	var violations []domain.Violation
	v.checkVersion(c, &violations)
	v.checkAnswer(c, &violations)
	v.checkSources(c, &violations)
	v.checkSummary(c, &violations)
	v.checkUnknowns(c, &violations)
	v.checkIntegrity(c, &violations)
	v.checkProvenance(c, &violations)
	v.checkCrossField(c, &violations)

	if len(violations) > 0 {
		return nil, &domain.ValidationErrorReport{Violations: violations}
	}
	return c, nil
}

// ValidateBytes validates a wire-format contract candidate. Unlike Validate it
// also enforces the closed root record against the raw JSON.
func (v ContractValidator) ValidateBytes(raw []byte) (*domain.AnswerContract, *domain.ValidationErrorReport) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil || root == nil {
		return nil, &domain.ValidationErrorReport{Violations: []domain.Violation{{
			Field:   "$",
			Kind:    domain.ViolationMalformed,
			Message: "body is not a JSON object",
		}}}
	}

	var violations []domain.Violation
	for key := range root {
		if _, ok := contractRootKeys[key]; !ok {
			violations = append(violations, domain.Violation{
				Field:   key,
				Kind:    domain.ViolationUnknownField,
				Message: fmt.Sprintf("unexpected top-level field %q", key),
			})
		}
	}
	for _, required := range []string{"version", "answer", "sources", "retrieval_summary", "unknowns"} {
		if _, ok := root[required]; !ok {
			violations = append(violations, domain.Violation{
				Field:   required,
				Kind:    domain.ViolationRequired,
				Message: fmt.Sprintf("required field %q is missing", required),
			})
		}
	}

	var c domain.AnswerContract
	if err := json.Unmarshal(raw, &c); err != nil {
		violations = append(violations, domain.Violation{
			Field:   "$",
			Kind:    domain.ViolationMalformed,
			Message: "body does not match the contract shape: " + err.Error(),
		})
		return nil, &domain.ValidationErrorReport{Violations: violations}
	}

	validated, report := v.Validate(&c)
	if report != nil {
		violations = append(violations, report.Violations...)
	}
	if len(violations) > 0 {
		return nil, &domain.ValidationErrorReport{Violations: violations}
	}
	return validated, nil
}

// ValidateStreamingChunk applies the relaxed structural subset used for
// intermediate streaming chunks; only the final chunk gets full validation.
func (v ContractValidator) ValidateStreamingChunk(c *domain.AnswerContract) *domain.ValidationErrorReport {
	var violations []domain.Violation
	v.checkVersion(c, &violations)
	if utf8.RuneCountInString(c.Answer.Text) > maxAnswerChars {
		violations = append(violations, domain.Violation{
			Field:   "answer.text",
			Kind:    domain.ViolationLength,
			Message: fmt.Sprintf("answer text exceeds %d characters", maxAnswerChars),
		})
	}
	checkUnitScore(c.Answer.Confidence, "answer.confidence", &violations)
	if len(violations) > 0 {
		return &domain.ValidationErrorReport{Violations: violations}
	}
	return nil
}

func (v ContractValidator) checkVersion(c *domain.AnswerContract, violations *[]domain.Violation) {
	if c.Version == "" {
		*violations = append(*violations, domain.Violation{
			Field:   "version",
			Kind:    domain.ViolationRequired,
			Message: "version is required",
		})
		return
	}
	if !schema.VersionPattern.MatchString(c.Version) {
		*violations = append(*violations, domain.Violation{
			Field:   "version",
			Kind:    domain.ViolationPattern,
			Message: fmt.Sprintf("version %q does not match %s", c.Version, schema.VersionPattern.String()),
		})
	}
}

func (v ContractValidator) checkAnswer(c *domain.AnswerContract, violations *[]domain.Violation) {
	if len(c.Answer.Text) == 0 {
		*violations = append(*violations, domain.Violation{
			Field:   "answer.text",
			Kind:    domain.ViolationRequired,
			Message: "answer text is required",
		})
	} else if utf8.RuneCountInString(c.Answer.Text) > maxAnswerChars {
		*violations = append(*violations, domain.Violation{
			Field:   "answer.text",
			Kind:    domain.ViolationLength,
			Message: fmt.Sprintf("answer text exceeds %d characters", maxAnswerChars),
		})
	}
	checkUnitScore(c.Answer.Confidence, "answer.confidence", violations)

	if c.Persona != "" {
		if _, err := domain.ParsePersona(c.Persona); err != nil {
			*violations = append(*violations, domain.Violation{
				Field:   "persona",
				Kind:    domain.ViolationEnum,
				Message: err.Error(),
			})
		}
	}
}

func (v ContractValidator) checkSources(c *domain.AnswerContract, violations *[]domain.Violation) {
	if len(c.Sources) > maxSources {
		*violations = append(*violations, domain.Violation{
			Field:   "sources",
			Kind:    domain.ViolationBounds,
			Message: fmt.Sprintf("%d sources exceed maximum %d", len(c.Sources), maxSources),
		})
	}
	for i, src := range c.Sources {
		path := fmt.Sprintf("sources[%d]", i)
		if src.Citation == "" {
			*violations = append(*violations, domain.Violation{
				Field:   path + ".citation",
				Kind:    domain.ViolationRequired,
				Message: "citation label is required",
			})
		}
		if len(src.Tags) > maxSourceTags {
			*violations = append(*violations, domain.Violation{
				Field:   path + ".tags",
				Kind:    domain.ViolationBounds,
				Message: fmt.Sprintf("%d tags exceed maximum %d", len(src.Tags), maxSourceTags),
			})
		}
		checkUnitScore(src.Relevance, path+".relevance", violations)
	}
}

func (v ContractValidator) checkSummary(c *domain.AnswerContract, violations *[]domain.Violation) {
	s := c.RetrievalSummary
	if s.Query == "" {
		*violations = append(*violations, domain.Violation{
			Field:   "retrieval_summary.query",
			Kind:    domain.ViolationRequired,
			Message: "query is required",
		})
	}
	if s.RequestedResults < 1 || s.RequestedResults > maxRequestedResults {
		*violations = append(*violations, domain.Violation{
			Field:   "retrieval_summary.requested_results",
			Kind:    domain.ViolationRange,
			Message: fmt.Sprintf("requested results %d outside [1,%d]", s.RequestedResults, maxRequestedResults),
		})
	}
	if len(s.Namespaces) < 1 || len(s.Namespaces) > maxNamespacesPerQuery {
		*violations = append(*violations, domain.Violation{
			Field:   "retrieval_summary.namespaces",
			Kind:    domain.ViolationBounds,
			Message: fmt.Sprintf("%d namespaces outside [1,%d]", len(s.Namespaces), maxNamespacesPerQuery),
		})
	}
	if len(s.Results) > maxResultEntries {
		*violations = append(*violations, domain.Violation{
			Field:   "retrieval_summary.results",
			Kind:    domain.ViolationBounds,
			Message: fmt.Sprintf("%d result summaries exceed maximum %d", len(s.Results), maxResultEntries),
		})
	}
	for i, res := range s.Results {
		path := fmt.Sprintf("retrieval_summary.results[%d]", i)
		if res.Rank != i+1 {
			*violations = append(*violations, domain.Violation{
				Field:   path + ".rank",
				Kind:    domain.ViolationRankOrder,
				Message: fmt.Sprintf("rank %d breaks dense ascending order, expected %d", res.Rank, i+1),
			})
		}
		if res.Score < 0 || res.Score > 1 {
			*violations = append(*violations, domain.Violation{
				Field:   path + ".score",
				Kind:    domain.ViolationRange,
				Message: fmt.Sprintf("score %v outside [0,1]", res.Score),
			})
		}
	}
}

func (v ContractValidator) checkUnknowns(c *domain.AnswerContract, violations *[]domain.Violation) {
	u := c.Unknowns
	for _, check := range []struct {
		field string
		list  []string
	}{
		{"unknowns.unsupported_claims", u.UnsupportedClaims},
		{"unknowns.missing_context", u.MissingContext},
		{"unknowns.clarifying_questions", u.ClarifyingQuestions},
	} {
		field, list := check.field, check.list
		if list == nil {
			*violations = append(*violations, domain.Violation{
				Field:   field,
				Kind:    domain.ViolationRequired,
				Message: "list must be present, use an empty list when there is nothing to report",
			})
		}
	}
}

func (v ContractValidator) checkIntegrity(c *domain.AnswerContract, violations *[]domain.Violation) {
	if c.Integrity == nil {
		return
	}
	if _, err := domain.ParseConfidenceLevel(string(c.Integrity.Confidence)); err != nil {
		*violations = append(*violations, domain.Violation{
			Field:   "integrity.confidence",
			Kind:    domain.ViolationEnum,
			Message: err.Error(),
		})
	}
	if _, err := domain.ParseFallbackBehavior(string(c.Integrity.FallbackBehavior)); err != nil {
		*violations = append(*violations, domain.Violation{
			Field:   "integrity.fallback_behavior",
			Kind:    domain.ViolationEnum,
			Message: err.Error(),
		})
	}
}

func (v ContractValidator) checkProvenance(c *domain.AnswerContract, violations *[]domain.Violation) {
	if c.Provenance == nil {
		return
	}
	if c.Provenance.GeneratedAt.IsZero() {
		*violations = append(*violations, domain.Violation{
			Field:   "provenance.generated_at",
			Kind:    domain.ViolationRequired,
			Message: "generation timestamp is required when provenance is present",
		})
	}
}

func (v ContractValidator) checkCrossField(c *domain.AnswerContract, violations *[]domain.Violation) {
	if c.Integrity != nil && c.Integrity.CitationRequired && len(c.Sources) == 0 {
		fb := c.Integrity.FallbackBehavior
		if fb != domain.FallbackRefusal && fb != domain.FallbackClarification {
			*violations = append(*violations, domain.Violation{
				Field:   "sources",
				Kind:    domain.ViolationCitationIntegrity,
				Message: "citation_required is true but no sources are present and fallback_behavior does not signal refusal or clarification",
			})
		}
	}
	if c.Integrity != nil && c.Integrity.CitationsProvided && len(c.Sources) == 0 {
		*violations = append(*violations, domain.Violation{
			Field:   "integrity.citations_provided",
			Kind:    domain.ViolationCitationIntegrity,
			Message: "citations_provided is true but sources is empty",
		})
	}
	if f := c.RetrievalSummary.Filter; f != nil && f.YearGTE != nil && f.YearLTE != nil && *f.YearGTE > *f.YearLTE {
		*violations = append(*violations, domain.Violation{
			Field:   "retrieval_summary.filter",
			Kind:    domain.ViolationYearRange,
			Message: fmt.Sprintf("year_gte %d exceeds year_lte %d", *f.YearGTE, *f.YearLTE),
		})
	}
}

func checkUnitScore(value *float64, field string, violations *[]domain.Violation) {
	if value == nil {
		return
	}
	if *value < 0 || *value > 1 {
		*violations = append(*violations, domain.Violation{
			Field:   field,
			Kind:    domain.ViolationRange,
			Message: fmt.Sprintf("value %v outside [0,1]", *value),
		})
	}
}
