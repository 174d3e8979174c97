package usecase

import (
	"time"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

// Stage identifies one timed pipeline stage.
type Stage string

const (
	StageEmbed  Stage = "embed"
	StageSearch Stage = "search"
	StageFusion Stage = "fusion"
	StageFormat Stage = "format"
)

// StatsCollector accumulates timing and volume metrics for a single request.
// Each request owns its own instance; no synchronization is needed.
type StatsCollector struct {
	timings    map[Stage]time.Duration
	namespaces []string
	fetched    map[string]int
	failed     []string

	afterFusion     int
	returned        int
	droppedByBudget int
	belowMin        bool
	rerankSkipped   bool
}

func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		timings: make(map[Stage]time.Duration, 4),
		fetched: make(map[string]int),
	}
}

func (s *StatsCollector) Record(stage Stage, d time.Duration) {
	s.timings[stage] += d
}

func (s *StatsCollector) SetNamespaces(namespaces []string) {
	s.namespaces = append([]string(nil), namespaces...)
}

func (s *StatsCollector) AddFetched(namespace string, count int) {
	s.fetched[namespace] = count
}

func (s *StatsCollector) MarkNamespaceFailed(namespace string) {
	s.failed = append(s.failed, namespace)
}

func (s *StatsCollector) SetAfterFusion(n int)     { s.afterFusion = n }
func (s *StatsCollector) SetReturned(n int)        { s.returned = n }
func (s *StatsCollector) AddDroppedByBudget(n int) { s.droppedByBudget += n }
func (s *StatsCollector) MarkBelowMinResults()     { s.belowMin = true }
func (s *StatsCollector) MarkRerankSkipped()       { s.rerankSkipped = true }

// Snapshot builds the read-only statistics view over the final candidate set.
func (s *StatsCollector) Snapshot(final []domain.RetrievalCandidate) domain.RetrievalStatistics {
	stats := domain.RetrievalStatistics{
		NamespacesSearched:  append([]string(nil), s.namespaces...),
		FetchedPerNamespace: make(map[string]int, len(s.fetched)),
		FailedNamespaces:    append([]string(nil), s.failed...),
		AfterFusion:         s.afterFusion,
		Returned:            s.returned,
		DroppedByBudget:     s.droppedByBudget,
		BelowMinResults:     s.belowMin,
		RerankSkipped:       s.rerankSkipped,
		Timings: domain.StageTimings{
			EmbedMS:  s.timings[StageEmbed].Milliseconds(),
			SearchMS: s.timings[StageSearch].Milliseconds(),
			FusionMS: s.timings[StageFusion].Milliseconds(),
			FormatMS: s.timings[StageFormat].Milliseconds(),
		},
	}
	for ns, n := range s.fetched {
		stats.FetchedPerNamespace[ns] = n
	}
	if len(final) > 0 {
		var sum float64
		top := final[0].Effective()
		for _, c := range final {
			eff := c.Effective()
			if eff > top {
				top = eff
			}
			sum += eff
		}
		stats.TopScore = top
		stats.MeanScore = sum / float64(len(final))
	}
	return stats
}
