package usecase

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
)

// FusionSettings controls the weighted combination of the primary similarity
// score and the secondary rerank score.
type FusionSettings struct {
	WeightSemantic float64
	WeightRerank   float64
	TopN           int
}

// FuseWithReranker scores the candidates with the reranking collaborator,
// combines both relevance signals, re-sorts, re-numbers densely, and truncates
// to TopN. A reranker failure degrades gracefully: the candidates pass through
// on primary scores with the skip recorded in statistics.
func FuseWithReranker(
	ctx context.Context,
	reranker ports.Reranker,
	query string,
	candidates []domain.RetrievalCandidate,
	settings FusionSettings,
	stats *StatsCollector,
	logger *slog.Logger,
) []domain.RetrievalCandidate {
	if len(candidates) == 0 {
		stats.SetAfterFusion(0)
		return candidates
	}

	start := time.Now()
	defer func() { stats.Record(StageFusion, time.Since(start)) }()

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}

	logits, err := reranker.Score(ctx, query, texts)
	if err != nil || len(logits) != len(candidates) {
		stats.MarkRerankSkipped()
		stats.SetAfterFusion(len(candidates))
		attrs := []any{slog.Int("candidate_count", len(candidates))}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		} else {
			attrs = append(attrs, slog.Int("score_count", len(logits)))
		}
		logger.Warn("rerank_skipped", attrs...)
		return candidates
	}

	fused := make([]domain.RetrievalCandidate, len(candidates))
	copy(fused, candidates)
	for i := range fused {
		secondary := sigmoid(logits[i])
		final := fuseScore(fused[i].Score, secondary, settings.WeightSemantic, settings.WeightRerank)
		fused[i].RerankScore = &secondary
		fused[i].FinalScore = &final
	}

	// Stable sort: exact ties keep their pre-fusion rank order.
	sort.SliceStable(fused, func(i, j int) bool {
		return *fused[i].FinalScore > *fused[j].FinalScore
	})

	if settings.TopN > 0 && len(fused) > settings.TopN {
		fused = fused[:settings.TopN]
	}
	for i := range fused {
		fused[i].Rank = i + 1
	}
	stats.SetAfterFusion(len(fused))
	return fused
}

// fuseScore combines the two relevance signals with the configured weights.
func fuseScore(primary, secondary, weightSemantic, weightRerank float64) float64 {
	return weightSemantic*primary + weightRerank*secondary
}

// sigmoid squashes a raw relevance logit into (0,1).
func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
