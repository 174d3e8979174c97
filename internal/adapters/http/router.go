// Package httpadapter exposes the question-answering pipeline over JSON HTTP.
package httpadapter

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
	"github.com/kirillkom/knowledge-qa/internal/core/usecase"
	"github.com/kirillkom/knowledge-qa/internal/observability/logging"
	"github.com/kirillkom/knowledge-qa/internal/observability/metrics"
)

// maxValidateBody bounds the conformance endpoint's request body.
const maxValidateBody = 1 << 20

type Router struct {
	answerer  ports.QuestionAnswerer
	retriever ports.ContextRetriever
	directory ports.PersonaDirectory
	validator usecase.ContractValidator
	metrics   *metrics.HTTPServerMetrics
	logger    *slog.Logger
	service   string
}

func NewRouter(
	answerer ports.QuestionAnswerer,
	retriever ports.ContextRetriever,
	directory ports.PersonaDirectory,
	serverMetrics *metrics.HTTPServerMetrics,
	logger *slog.Logger,
	service string,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		answerer:  answerer,
		retriever: retriever,
		directory: directory,
		validator: usecase.NewContractValidator(),
		metrics:   serverMetrics,
		logger:    logger,
		service:   service,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/answers", rt.postAnswer)
	mux.HandleFunc("/v1/retrieve", rt.postRetrieve)
	mux.HandleFunc("/v1/personas", rt.listPersonas)
	mux.HandleFunc("/v1/contracts/validate", rt.validateContract)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.service, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(rt.logger, handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) postAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
		return
	}

	req, ok := decodeAnswerRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	contract, err := rt.answerer.Answer(r.Context(), req)
	if err != nil {
		if rt.metrics != nil {
			rt.metrics.RecordPipelineRun(rt.service, req.Persona, "error", time.Since(start))
		}
		rt.writeMappedError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordPipelineRun(rt.service, contract.Persona, "success", time.Since(start))
		rt.metrics.RecordValidation(rt.service, nil)
	}
	logging.WithRequestID(rt.logger, requestIDFromContext(r.Context())).Info("answer_served",
		slog.String("persona", contract.Persona),
		slog.Int("sources", len(contract.Sources)))
	writeJSON(w, http.StatusOK, contract)
}

// validateContract runs the full contract gate, closed root included, over an
// externally produced document so other producers can conformance-test their
// output against the same rules the pipeline enforces. With ?chunk=true only
// the relaxed subset for intermediate streaming chunks is applied.
func (rt *Router) validateContract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxValidateBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "unable to read request body", nil)
		return
	}

	if r.URL.Query().Get("chunk") == "true" {
		rt.validateChunk(w, body)
		return
	}

	contract, report := rt.validator.ValidateBytes(body)
	if report != nil {
		if rt.metrics != nil {
			rt.metrics.RecordValidation(rt.service, violationKinds(report.Violations))
		}
		writeError(w, http.StatusUnprocessableEntity, "contract_rejected",
			"document failed contract validation", report.Violations)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordValidation(rt.service, nil)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"version": contract.Version,
	})
}

func (rt *Router) validateChunk(w http.ResponseWriter, body []byte) {
	var chunk domain.AnswerContract
	if err := json.Unmarshal(body, &chunk); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "chunk is not valid json", nil)
		return
	}

	if report := rt.validator.ValidateStreamingChunk(&chunk); report != nil {
		writeError(w, http.StatusUnprocessableEntity, "contract_rejected",
			"chunk failed the relaxed structural checks", report.Violations)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"version": chunk.Version,
	})
}

func (rt *Router) postRetrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
		return
	}

	req, ok := decodeAnswerRequest(w, r)
	if !ok {
		return
	}

	candidates, stats, err := rt.retriever.Retrieve(r.Context(), req)
	if err != nil {
		rt.writeMappedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Candidates []domain.RetrievalCandidate `json:"candidates"`
		Statistics domain.RetrievalStatistics  `json:"statistics"`
	}{
		Candidates: candidates,
		Statistics: stats,
	})
}

func (rt *Router) listPersonas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
		return
	}

	configs := rt.directory.List()
	out := make([]personaView, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, personaView{
			Name:           string(cfg.Persona),
			Namespaces:     cfg.Namespaces,
			ScoreThreshold: cfg.ScoreThreshold,
			MinResults:     cfg.MinResults,
			MaxResults:     cfg.MaxResults,
			Strategy:       string(cfg.Strategy),
			RerankEnabled:  cfg.RerankEnabled,
			CitationStyle:  string(cfg.Format.CitationStyle),
		})
	}
	writeJSON(w, http.StatusOK, map[string][]personaView{"personas": out})
}

// personaView hides detection signals and filter internals from clients.
type personaView struct {
	Name           string   `json:"name"`
	Namespaces     []string `json:"namespaces"`
	ScoreThreshold float64  `json:"score_threshold"`
	MinResults     int      `json:"min_results"`
	MaxResults     int      `json:"max_results"`
	Strategy       string   `json:"expansion_strategy"`
	RerankEnabled  bool     `json:"rerank_enabled"`
	CitationStyle  string   `json:"citation_style"`
}

func decodeAnswerRequest(w http.ResponseWriter, r *http.Request) (domain.AnswerRequest, bool) {
	var req domain.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid json", nil)
		return req, false
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "question is required", nil)
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
