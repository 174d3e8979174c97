package ports

import (
	"context"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

// Embedder converts query text into a fixed-dimension vector. Called exactly
// once per request; the vector is reused across all namespace searches.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher performs one ranked similarity search inside a namespace.
type VectorSearcher interface {
	Search(
		ctx context.Context,
		vector []float32,
		namespace string,
		filter domain.MetadataFilter,
		threshold float64,
		limit int,
	) ([]domain.RetrievalCandidate, error)
}

// Reranker scores candidate texts against the query with a secondary relevance
// model, returning one raw relevance logit per text, aligned by index.
type Reranker interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// AnswerGenerator turns the formatted context block into prose. The core
// treats it as an opaque text producer.
type AnswerGenerator interface {
	Generate(ctx context.Context, question, contextBlock string) (string, error)
}

// AuditPublisher emits answer lifecycle events for downstream consumers.
type AuditPublisher interface {
	PublishValidated(ctx context.Context, contract *domain.AnswerContract) error
	PublishRejected(ctx context.Context, question string, report domain.ValidationErrorReport) error
}

// PipelineObserver receives the statistics snapshot after each retrieval run
// so an exporter can turn it into metrics. Implementations must not block.
type PipelineObserver interface {
	ObserveRetrieval(persona string, stats domain.RetrievalStatistics)
}
