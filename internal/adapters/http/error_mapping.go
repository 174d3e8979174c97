package httpadapter

import (
	"errors"
	"net/http"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

type errorResponse struct {
	Code       string             `json:"code"`
	Message    string             `json:"message"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

func (rt *Router) writeMappedError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		if rt.metrics != nil {
			rt.metrics.RecordValidation(rt.service, violationKinds(validationErr.Report.Violations))
		}
		writeError(w, http.StatusUnprocessableEntity, "contract_rejected",
			"generated answer failed contract validation", validationErr.Report.Violations)
		return
	}

	status, code := mapErrorToHTTPStatus(err)
	writeError(w, status, code, err.Error(), nil)
}

func mapErrorToHTTPStatus(err error) (int, string) {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case domain.IsKind(err, domain.ErrPersonaNotFound):
		return http.StatusBadRequest, "persona_not_found"
	case domain.IsKind(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable, "temporary"
	case domain.IsKind(err, domain.ErrEmbeddingFailure),
		domain.IsKind(err, domain.ErrRetrievalFailure),
		domain.IsKind(err, domain.ErrGenerationFailure):
		return http.StatusBadGateway, "upstream_failure"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func violationKinds(violations []domain.Violation) []string {
	kinds := make([]string, 0, len(violations))
	for _, v := range violations {
		kinds = append(kinds, v.Kind)
	}
	return kinds
}

func writeError(w http.ResponseWriter, status int, code, message string, violations []domain.Violation) {
	writeJSON(w, status, errorResponse{
		Code:       code,
		Message:    message,
		Violations: violations,
	})
}
