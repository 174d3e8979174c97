package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/observability/metrics"
)

type answererFake struct {
	contract *domain.AnswerContract
	err      error
	gotReq   domain.AnswerRequest
}

func (f *answererFake) Answer(_ context.Context, req domain.AnswerRequest) (*domain.AnswerContract, error) {
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.contract, nil
}

type retrieverFake struct {
	candidates []domain.RetrievalCandidate
	stats      domain.RetrievalStatistics
	err        error
}

func (f *retrieverFake) Retrieve(context.Context, domain.AnswerRequest) ([]domain.RetrievalCandidate, domain.RetrievalStatistics, error) {
	if f.err != nil {
		return nil, domain.RetrievalStatistics{}, f.err
	}
	return f.candidates, f.stats, nil
}

type directoryFake struct {
	configs []domain.PersonaConfig
}

func (f *directoryFake) List() []domain.PersonaConfig { return f.configs }

func testContract() *domain.AnswerContract {
	return &domain.AnswerContract{
		Version: "kqa.answer.v1",
		Persona: "general",
		Answer:  domain.AnswerBlock{Text: "answer"},
		Sources: []domain.Source{{Citation: "A"}},
	}
}

func newTestRouter(answerer *answererFake, retriever *retrieverFake, directory *directoryFake) http.Handler {
	if answerer == nil {
		answerer = &answererFake{contract: testContract()}
	}
	if retriever == nil {
		retriever = &retrieverFake{}
	}
	if directory == nil {
		directory = &directoryFake{}
	}
	return NewRouter(answerer, retriever, directory, metrics.NewHTTPServerMetrics("test"), muteLogger(), "test").Handler()
}

func muteLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPostAnswersReturnsContract(t *testing.T) {
	answerer := &answererFake{contract: testContract()}
	handler := newTestRouter(answerer, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/answers", strings.NewReader(`{"question":"q","persona":"general"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out domain.AnswerContract
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Version != "kqa.answer.v1" || out.Answer.Text != "answer" {
		t.Fatalf("unexpected contract %+v", out)
	}
	if answerer.gotReq.Persona != "general" {
		t.Fatalf("persona not forwarded: %+v", answerer.gotReq)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("request id header must be set")
	}
}

func TestPostAnswersRejectsInvalidJSON(t *testing.T) {
	handler := newTestRouter(nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/answers", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPostAnswersRequiresQuestion(t *testing.T) {
	handler := newTestRouter(nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/answers", strings.NewReader(`{"question":"  "}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var out errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Code != "invalid_input" {
		t.Fatalf("unexpected error code %q", out.Code)
	}
}

func TestPostAnswersMethodNotAllowed(t *testing.T) {
	handler := newTestRouter(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/answers", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPostAnswersValidationRejection(t *testing.T) {
	report := domain.ValidationErrorReport{Violations: []domain.Violation{
		{Field: "answer.text", Kind: domain.ViolationLength, Message: "too long"},
	}}
	answerer := &answererFake{err: &domain.ValidationError{Report: report}}
	handler := newTestRouter(answerer, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/answers", strings.NewReader(`{"question":"q"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	var out errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Code != "contract_rejected" || len(out.Violations) != 1 {
		t.Fatalf("unexpected rejection body %+v", out)
	}
	if out.Violations[0].Field != "answer.text" {
		t.Fatalf("violations must pass through, got %+v", out.Violations)
	}
}

func TestErrorMappingByKind(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{domain.WrapError(domain.ErrInvalidInput, "op", errors.New("x")), http.StatusBadRequest, "invalid_input"},
		{domain.WrapError(domain.ErrPersonaNotFound, "op", errors.New("x")), http.StatusBadRequest, "persona_not_found"},
		{domain.WrapError(domain.ErrTimeout, "op", errors.New("x")), http.StatusGatewayTimeout, "timeout"},
		{domain.WrapError(domain.ErrTemporary, "op", errors.New("x")), http.StatusServiceUnavailable, "temporary"},
		{domain.WrapError(domain.ErrRetrievalFailure, "op", errors.New("x")), http.StatusBadGateway, "upstream_failure"},
		{domain.WrapError(domain.ErrEmbeddingFailure, "op", errors.New("x")), http.StatusBadGateway, "upstream_failure"},
		{errors.New("unexpected"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		handler := newTestRouter(&answererFake{err: tc.err}, nil, nil)
		req := httptest.NewRequest(http.MethodPost, "/v1/answers", strings.NewReader(`{"question":"q"}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != tc.wantStatus {
			t.Fatalf("%v: status = %d, want %d", tc.err, rec.Code, tc.wantStatus)
		}
		var out errorResponse
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
		if out.Code != tc.wantCode {
			t.Fatalf("%v: code = %q, want %q", tc.err, out.Code, tc.wantCode)
		}
	}
}

func TestPostRetrieveReturnsCandidatesAndStats(t *testing.T) {
	retriever := &retrieverFake{
		candidates: []domain.RetrievalCandidate{{Rank: 1, ChunkID: "c1", Namespace: "reference", Score: 0.9}},
		stats:      domain.RetrievalStatistics{Returned: 1, TopScore: 0.9},
	}
	handler := newTestRouter(nil, retriever, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", strings.NewReader(`{"question":"q"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Candidates []domain.RetrievalCandidate `json:"candidates"`
		Statistics domain.RetrievalStatistics  `json:"statistics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Candidates) != 1 || out.Statistics.TopScore != 0.9 {
		t.Fatalf("unexpected body %+v", out)
	}
}

func TestListPersonasHidesInternals(t *testing.T) {
	directory := &directoryFake{configs: []domain.PersonaConfig{{
		Persona:        domain.PersonaEducator,
		Namespaces:     []string{"curriculum"},
		ScoreThreshold: 0.5,
		MinResults:     1,
		MaxResults:     8,
		Strategy:       domain.StrategyThematic,
		DetectSignals:  []string{"secret-signal"},
		Format:         domain.FormatPreferences{CitationStyle: domain.CitationNumbered, SnippetChars: 300},
	}}}
	handler := newTestRouter(nil, nil, directory)

	req := httptest.NewRequest(http.MethodGet, "/v1/personas", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"educator"`) || !strings.Contains(body, `"thematic"`) {
		t.Fatalf("unexpected body %s", body)
	}
	if strings.Contains(body, "secret-signal") {
		t.Fatalf("detection signals must not be exposed")
	}
}

func TestHealthz(t *testing.T) {
	handler := newTestRouter(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	handler := newTestRouter(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRequestIDIsPropagatedFromHeader(t *testing.T) {
	handler := newTestRouter(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "fixed-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "fixed-id" {
		t.Fatalf("expected request id echo, got %q", got)
	}
}

func conformingContractJSON(t *testing.T) []byte {
	t.Helper()
	relevance := 0.9
	confidence := 0.85
	contract := domain.AnswerContract{
		Version: "kqa.answer.v1",
		Persona: "educator",
		Answer:  domain.AnswerBlock{Text: "A cited answer.", Confidence: &confidence},
		Sources: []domain.Source{{Citation: "Entry", Relevance: &relevance}},
		RetrievalSummary: domain.RetrievalSummary{
			Query:            "question",
			RequestedResults: 8,
			Namespaces:       []string{"curriculum"},
			Results:          []domain.ResultSummary{{Rank: 1, ChunkID: "c1", Namespace: "curriculum", Score: 0.9}},
		},
		Unknowns: domain.Unknowns{
			UnsupportedClaims:   []string{},
			MissingContext:      []string{},
			ClarifyingQuestions: []string{},
		},
	}
	payload, err := json.Marshal(contract)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return payload
}

func TestValidateContractAcceptsConformingDocument(t *testing.T) {
	handler := newTestRouter(nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/contracts/validate", strings.NewReader(string(conformingContractJSON(t))))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Valid   bool   `json:"valid"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Valid || out.Version != "kqa.answer.v1" {
		t.Fatalf("unexpected response %+v", out)
	}
}

func TestValidateContractRejectsUnknownRootField(t *testing.T) {
	handler := newTestRouter(nil, nil, nil)

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(conformingContractJSON(t), &doc); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	doc["debug"] = json.RawMessage(`true`)
	payload, _ := json.Marshal(doc)

	req := httptest.NewRequest(http.MethodPost, "/v1/contracts/validate", strings.NewReader(string(payload)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Code != "contract_rejected" || len(out.Violations) == 0 {
		t.Fatalf("unexpected rejection %+v", out)
	}
	if out.Violations[0].Field != "debug" {
		t.Fatalf("expected unknown-field violation on debug, got %+v", out.Violations)
	}
}

func TestAcceptedValidationsAreCounted(t *testing.T) {
	handler := newTestRouter(&answererFake{contract: testContract()}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/answers", strings.NewReader(`{"question":"q"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("answer status = %d", rec.Code)
	}

	scrape := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, scrape)

	want := `kqa_contract_validations_total{outcome="accepted",service="test"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("metrics scrape missing %q", want)
	}
}

func TestValidateContractChunkModeAppliesRelaxedSubset(t *testing.T) {
	handler := newTestRouter(nil, nil, nil)

	// An intermediate chunk is allowed to omit sources and the retrieval
	// summary; only version, text bounds, and confidence are checked.
	chunk := `{"version":"kqa.answer.v1","answer":{"text":"partial"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/contracts/validate?chunk=true", strings.NewReader(chunk))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	bad := `{"version":"not a version","answer":{"text":"partial"}}`
	req = httptest.NewRequest(http.MethodPost, "/v1/contracts/validate?chunk=true", strings.NewReader(bad))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}
