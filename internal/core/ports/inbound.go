package ports

import (
	"context"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

// QuestionAnswerer is the inbound contract for the full pipeline: expansion,
// retrieval, fusion, formatting, generation, and the single validation gate.
type QuestionAnswerer interface {
	Answer(ctx context.Context, req domain.AnswerRequest) (*domain.AnswerContract, error)
}

// ContextRetriever exposes the retrieval stages without answer generation.
type ContextRetriever interface {
	Retrieve(ctx context.Context, req domain.AnswerRequest) ([]domain.RetrievalCandidate, domain.RetrievalStatistics, error)
}

// PersonaDirectory is the inbound read model for the persona registry.
type PersonaDirectory interface {
	List() []domain.PersonaConfig
}
