package metrics

import (
	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

// PipelineObserver exports retrieval statistics snapshots into the pipeline
// metric families. One instance per service; runs share it freely because the
// underlying collectors are safe for concurrent use.
type PipelineObserver struct {
	metrics *HTTPServerMetrics
	service string
}

func NewPipelineObserver(m *HTTPServerMetrics, service string) *PipelineObserver {
	return &PipelineObserver{metrics: m, service: service}
}

func (o *PipelineObserver) ObserveRetrieval(persona string, stats domain.RetrievalStatistics) {
	o.metrics.RecordStageDuration(o.service, "embed", stats.Timings.EmbedMS)
	o.metrics.RecordStageDuration(o.service, "search", stats.Timings.SearchMS)
	o.metrics.RecordStageDuration(o.service, "fusion", stats.Timings.FusionMS)
	o.metrics.RecordStageDuration(o.service, "format", stats.Timings.FormatMS)

	for _, namespace := range stats.FailedNamespaces {
		o.metrics.RecordNamespaceFailure(o.service, namespace)
	}
	if stats.RerankSkipped {
		o.metrics.RecordRerankSkipped(o.service)
	}
	if stats.BelowMinResults {
		o.metrics.RecordBelowMinResults(o.service, persona)
	}
	o.metrics.RecordReturnedCandidates(o.service, persona, stats.Returned)
}
