package usecase

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/schema"
)

func validContract() *domain.AnswerContract {
	relevance := 0.9
	confidence := 0.85
	timing := int64(120)
	return &domain.AnswerContract{
		Version: schema.Version,
		Persona: "educator",
		Answer: domain.AnswerBlock{
			Text:       "Kwanzaa was created in 1966.",
			Confidence: &confidence,
		},
		Sources: []domain.Source{{
			Citation:  "History of Kwanzaa",
			URL:       "https://example.org/kwanzaa",
			Year:      2019,
			Relevance: &relevance,
		}},
		RetrievalSummary: domain.RetrievalSummary{
			Query:            "kwanzaa seven principles 1966",
			RequestedResults: 8,
			Namespaces:       []string{"curriculum"},
			Results: []domain.ResultSummary{
				{Rank: 1, ChunkID: "c1", Namespace: "curriculum", Score: 0.9},
			},
			TimingMS: &timing,
		},
		Unknowns: domain.Unknowns{
			UnsupportedClaims:   []string{},
			MissingContext:      []string{},
			ClarifyingQuestions: []string{},
		},
		Integrity: &domain.Integrity{
			CitationRequired:  true,
			CitationsProvided: true,
			Confidence:        domain.ConfidenceHigh,
			FallbackBehavior:  domain.FallbackNotNeeded,
		},
		Provenance: &domain.GenerationProvenance{
			GeneratedAt: time.Now().UTC(),
			RunID:       "run-1",
		},
	}
}

func findViolation(t *testing.T, report *domain.ValidationErrorReport, field, kind string) domain.Violation {
	t.Helper()
	if report == nil {
		t.Fatalf("expected a rejection report")
	}
	for _, v := range report.Violations {
		if v.Field == field && v.Kind == kind {
			return v
		}
	}
	t.Fatalf("no violation %s/%s in %+v", field, kind, report.Violations)
	return domain.Violation{}
}

func TestValidateAcceptsWellFormedContract(t *testing.T) {
	v := NewContractValidator()
	validated, report := v.Validate(validContract())
	if report != nil {
		t.Fatalf("unexpected rejection: %+v", report.Violations)
	}
	if validated == nil {
		t.Fatalf("expected the validated contract back")
	}
}

func TestValidateVersionPattern(t *testing.T) {
	v := NewContractValidator()

	c := validContract()
	c.Version = "AnswerV1"
	_, report := v.Validate(c)
	findViolation(t, report, "version", domain.ViolationPattern)

	c = validContract()
	c.Version = ""
	_, report = v.Validate(c)
	findViolation(t, report, "version", domain.ViolationRequired)

	c = validContract()
	c.Version = "custom-profile.answer.v3"
	if _, report = v.Validate(c); report != nil {
		t.Fatalf("alternate profile versions must pass the pattern: %+v", report.Violations)
	}
}

func TestValidateAnswerTextBounds(t *testing.T) {
	v := NewContractValidator()

	c := validContract()
	c.Answer.Text = ""
	_, report := v.Validate(c)
	findViolation(t, report, "answer.text", domain.ViolationRequired)

	c = validContract()
	c.Answer.Text = strings.Repeat("a", maxAnswerChars+1)
	_, report = v.Validate(c)
	findViolation(t, report, "answer.text", domain.ViolationLength)
}

func TestValidateScoreRanges(t *testing.T) {
	v := NewContractValidator()

	c := validContract()
	bad := 1.3
	c.Answer.Confidence = &bad
	c.Sources[0].Relevance = &bad
	c.RetrievalSummary.Results[0].Score = -0.1
	_, report := v.Validate(c)

	findViolation(t, report, "answer.confidence", domain.ViolationRange)
	findViolation(t, report, "sources[0].relevance", domain.ViolationRange)
	findViolation(t, report, "retrieval_summary.results[0].score", domain.ViolationRange)
}

func TestValidateDenseRankOrder(t *testing.T) {
	v := NewContractValidator()

	c := validContract()
	c.RetrievalSummary.Results = []domain.ResultSummary{
		{Rank: 1, ChunkID: "c1", Namespace: "curriculum", Score: 0.9},
		{Rank: 3, ChunkID: "c2", Namespace: "curriculum", Score: 0.8},
	}
	_, report := v.Validate(c)
	findViolation(t, report, "retrieval_summary.results[1].rank", domain.ViolationRankOrder)
}

func TestValidateCitationIntegrity(t *testing.T) {
	v := NewContractValidator()

	// Citation required, zero sources, fallback claims a normal answer.
	c := validContract()
	c.Sources = []domain.Source{}
	c.Integrity.CitationsProvided = false
	c.Integrity.FallbackBehavior = domain.FallbackNotNeeded
	_, report := v.Validate(c)
	findViolation(t, report, "sources", domain.ViolationCitationIntegrity)

	// A declared refusal with zero sources is coherent.
	c = validContract()
	c.Answer.Text = "I cannot answer this from the indexed sources."
	c.Sources = []domain.Source{}
	c.Integrity.CitationsProvided = false
	c.Integrity.FallbackBehavior = domain.FallbackRefusal
	c.Integrity.Confidence = domain.ConfidenceUncertain
	if _, report = v.Validate(c); report != nil {
		t.Fatalf("refusal with no sources must validate: %+v", report.Violations)
	}

	// citations_provided must not claim sources that are not there.
	c = validContract()
	c.Sources = []domain.Source{}
	c.Integrity.FallbackBehavior = domain.FallbackRefusal
	c.Integrity.CitationsProvided = true
	_, report = v.Validate(c)
	findViolation(t, report, "integrity.citations_provided", domain.ViolationCitationIntegrity)
}

func TestValidateYearRange(t *testing.T) {
	v := NewContractValidator()

	c := validContract()
	gte, lte := 2020, 2000
	c.RetrievalSummary.Filter = &domain.FilterEcho{YearGTE: &gte, YearLTE: &lte}
	_, report := v.Validate(c)
	findViolation(t, report, "retrieval_summary.filter", domain.ViolationYearRange)
}

func TestValidateUnknownsListsRequired(t *testing.T) {
	v := NewContractValidator()

	c := validContract()
	c.Unknowns.MissingContext = nil
	_, report := v.Validate(c)
	findViolation(t, report, "unknowns.missing_context", domain.ViolationRequired)
}

func TestValidateEnumViolations(t *testing.T) {
	v := NewContractValidator()

	c := validContract()
	c.Persona = "wizard"
	c.Integrity.Confidence = "certain"
	c.Integrity.FallbackBehavior = "shrug"
	_, report := v.Validate(c)
	findViolation(t, report, "persona", domain.ViolationEnum)
	findViolation(t, report, "integrity.confidence", domain.ViolationEnum)
	findViolation(t, report, "integrity.fallback_behavior", domain.ViolationEnum)
}

func TestValidateCollectsAcrossFields(t *testing.T) {
	v := NewContractValidator()

	c := validContract()
	c.Version = "bad version"
	c.Answer.Text = ""
	c.RetrievalSummary.Query = ""
	_, report := v.Validate(c)
	if report == nil || len(report.Violations) < 3 {
		t.Fatalf("expected all independent violations collected, got %+v", report)
	}
}

func TestValidateBytesRejectsUnknownRootField(t *testing.T) {
	v := NewContractValidator()

	payload, err := json.Marshal(validContract())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(payload, &asMap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	asMap["debug_info"] = json.RawMessage(`"x"`)
	raw, _ := json.Marshal(asMap)

	_, report := v.ValidateBytes(raw)
	findViolation(t, report, "debug_info", domain.ViolationUnknownField)
}

func TestValidateBytesRequiresRootFields(t *testing.T) {
	v := NewContractValidator()
	_, report := v.ValidateBytes([]byte(`{"version":"kqa.answer.v1"}`))
	findViolation(t, report, "answer", domain.ViolationRequired)
	findViolation(t, report, "sources", domain.ViolationRequired)
	findViolation(t, report, "retrieval_summary", domain.ViolationRequired)
	findViolation(t, report, "unknowns", domain.ViolationRequired)
}

func TestValidateBytesMalformedBody(t *testing.T) {
	v := NewContractValidator()
	_, report := v.ValidateBytes([]byte(`[1,2,3]`))
	findViolation(t, report, "$", domain.ViolationMalformed)
}

func TestValidateBytesRoundTripPreservesSourceExtras(t *testing.T) {
	v := NewContractValidator()

	c := validContract()
	c.Sources[0].Extra = map[string]json.RawMessage{"archive_ref": json.RawMessage(`"box-12"`)}
	payload, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	validated, report := v.ValidateBytes(payload)
	if report != nil {
		t.Fatalf("unexpected rejection: %+v", report.Violations)
	}
	if string(validated.Sources[0].Extra["archive_ref"]) != `"box-12"` {
		t.Fatalf("extras lost in round trip: %+v", validated.Sources[0].Extra)
	}

	again, err := json.Marshal(validated)
	if err != nil {
		t.Fatalf("marshal validated: %v", err)
	}
	if !strings.Contains(string(again), `"archive_ref":"box-12"`) {
		t.Fatalf("extras must re-serialize verbatim: %s", again)
	}
}

func TestValidateStreamingChunkRelaxedSubset(t *testing.T) {
	v := NewContractValidator()

	chunk := &domain.AnswerContract{
		Version: schema.Version,
		Answer:  domain.AnswerBlock{Text: "partial..."},
	}
	if report := v.ValidateStreamingChunk(chunk); report != nil {
		t.Fatalf("streaming chunk must skip full validation: %+v", report.Violations)
	}

	chunk.Version = "nope"
	if report := v.ValidateStreamingChunk(chunk); report == nil {
		t.Fatalf("streaming chunk still checks the version pattern")
	}
}

func TestValidateAnswerBoundCountsRunes(t *testing.T) {
	v := NewContractValidator()

	c := validContract()
	c.Answer.Text = strings.Repeat("д", 10000)
	if _, report := v.Validate(c); report != nil {
		t.Fatalf("10000-rune multi-byte answer must pass, got %+v", report.Violations)
	}

	c = validContract()
	c.Answer.Text = strings.Repeat("д", 10001)
	_, report := v.Validate(c)
	if report == nil {
		t.Fatalf("10001-rune answer must be rejected")
	}
	findViolation(t, report, "answer.text", domain.ViolationLength)
}
