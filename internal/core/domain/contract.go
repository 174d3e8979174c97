package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConfidenceLevel is the four-level integrity confidence tag.
type ConfidenceLevel string

const (
	ConfidenceHigh      ConfidenceLevel = "high"
	ConfidenceMedium    ConfidenceLevel = "medium"
	ConfidenceLow       ConfidenceLevel = "low"
	ConfidenceUncertain ConfidenceLevel = "uncertain"
)

func ParseConfidenceLevel(s string) (ConfidenceLevel, error) {
	switch ConfidenceLevel(s) {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow, ConfidenceUncertain:
		return ConfidenceLevel(s), nil
	}
	return "", fmt.Errorf("unknown confidence level %q", s)
}

// FallbackBehavior signals what the system did when it could not answer normally.
type FallbackBehavior string

const (
	FallbackNotNeeded     FallbackBehavior = "not_needed"
	FallbackRefusal       FallbackBehavior = "refusal"
	FallbackClarification FallbackBehavior = "clarification_requested"
	FallbackPartialAnswer FallbackBehavior = "partial_answer"
)

func ParseFallbackBehavior(s string) (FallbackBehavior, error) {
	switch FallbackBehavior(s) {
	case FallbackNotNeeded, FallbackRefusal, FallbackClarification, FallbackPartialAnswer:
		return FallbackBehavior(s), nil
	}
	return "", fmt.Errorf("unknown fallback behavior %q", s)
}

// AnswerBlock is the prose answer with optional quality tags.
type AnswerBlock struct {
	Text         string   `json:"text"`
	Confidence   *float64 `json:"confidence,omitempty"`
	Tone         string   `json:"tone,omitempty"`
	Completeness string   `json:"completeness,omitempty"`
}

// Source is one citation record. Unlike the root contract, sources are an open
// record: unknown fields survive unmarshal/marshal verbatim in Extra.
type Source struct {
	Citation     string   `json:"citation"`
	URL          string   `json:"url,omitempty"`
	Organization string   `json:"organization,omitempty"`
	Year         int      `json:"year,omitempty"`
	ContentType  string   `json:"content_type,omitempty"`
	License      string   `json:"license,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Relevance    *float64 `json:"relevance,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type sourceFields struct {
	Citation     string   `json:"citation"`
	URL          string   `json:"url,omitempty"`
	Organization string   `json:"organization,omitempty"`
	Year         int      `json:"year,omitempty"`
	ContentType  string   `json:"content_type,omitempty"`
	License      string   `json:"license,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Relevance    *float64 `json:"relevance,omitempty"`
}

var sourceKnownKeys = []string{
	"citation", "url", "organization", "year", "content_type", "license", "tags", "relevance",
}

func (s Source) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(sourceFields{
		Citation:     s.Citation,
		URL:          s.URL,
		Organization: s.Organization,
		Year:         s.Year,
		ContentType:  s.ContentType,
		License:      s.License,
		Tags:         s.Tags,
		Relevance:    s.Relevance,
	})
	if err != nil || len(s.Extra) == 0 {
		return base, err
	}
	merged := make(map[string]json.RawMessage, len(s.Extra)+len(sourceKnownKeys))
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if _, known := merged[k]; !known {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

func (s *Source) UnmarshalJSON(data []byte) error {
	var fields sourceFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range sourceKnownKeys {
		delete(raw, k)
	}
	s.Citation = fields.Citation
	s.URL = fields.URL
	s.Organization = fields.Organization
	s.Year = fields.Year
	s.ContentType = fields.ContentType
	s.License = fields.License
	s.Tags = fields.Tags
	s.Relevance = fields.Relevance
	s.Extra = nil
	if len(raw) > 0 {
		s.Extra = raw
	}
	return nil
}

// FilterEcho repeats the metadata filter applied during retrieval.
type FilterEcho struct {
	RequiredTags []string `json:"required_tags,omitempty"`
	ContentTypes []string `json:"content_types,omitempty"`
	YearGTE      *int     `json:"year_gte,omitempty"`
	YearLTE      *int     `json:"year_lte,omitempty"`
}

// ResultSummary describes one returned candidate in the retrieval summary.
type ResultSummary struct {
	Rank      int     `json:"rank"`
	ChunkID   string  `json:"chunk_id"`
	Namespace string  `json:"namespace"`
	Score     float64 `json:"score"`
}

// RetrievalSummary documents how the supporting evidence was obtained.
type RetrievalSummary struct {
	Query            string          `json:"query"`
	RequestedResults int             `json:"requested_results"`
	Namespaces       []string        `json:"namespaces"`
	Filter           *FilterEcho     `json:"filter,omitempty"`
	Results          []ResultSummary `json:"results"`
	TimingMS         *int64          `json:"timing_ms,omitempty"`
	Model            string          `json:"model,omitempty"`
}

// Unknowns is always present and enumerates what the answer does not cover.
type Unknowns struct {
	UnsupportedClaims   []string `json:"unsupported_claims"`
	MissingContext      []string `json:"missing_context"`
	ClarifyingQuestions []string `json:"clarifying_questions"`
	OutOfScope          []string `json:"out_of_scope,omitempty"`
}

// Integrity carries the citation-integrity bookkeeping.
type Integrity struct {
	CitationRequired  bool             `json:"citation_required"`
	CitationsProvided bool             `json:"citations_provided"`
	Confidence        ConfidenceLevel  `json:"confidence"`
	FallbackBehavior  FallbackBehavior `json:"fallback_behavior"`
	SafetyFlags       []string         `json:"safety_flags,omitempty"`
}

// GenerationProvenance identifies when and by what the answer was produced.
type GenerationProvenance struct {
	GeneratedAt    time.Time `json:"generated_at"`
	RunID          string    `json:"run_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	ModelVersion   string    `json:"model_version,omitempty"`
	AdapterVersion string    `json:"adapter_version,omitempty"`
}

// AnswerContract is the externally visible response. The root is a closed
// record: unknown top-level fields are a validation error. It is assembled once
// per request, validated exactly once, and never mutated after validation.
type AnswerContract struct {
	Version          string                `json:"version"`
	Persona          string                `json:"persona,omitempty"`
	Mode             string                `json:"mode,omitempty"`
	Answer           AnswerBlock           `json:"answer"`
	Sources          []Source              `json:"sources"`
	RetrievalSummary RetrievalSummary      `json:"retrieval_summary"`
	Unknowns         Unknowns              `json:"unknowns"`
	Integrity        *Integrity            `json:"integrity,omitempty"`
	Provenance       *GenerationProvenance `json:"provenance,omitempty"`
}
