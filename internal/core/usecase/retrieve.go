package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
)

// RetrievalUseCase fans a query out across the persona's namespaces, merges the
// partial results deterministically, and truncates to the effective budget.
type RetrievalUseCase struct {
	embedder ports.Embedder
	searcher ports.VectorSearcher
	timeout  time.Duration
	logger   *slog.Logger
}

func NewRetrievalUseCase(
	embedder ports.Embedder,
	searcher ports.VectorSearcher,
	timeout time.Duration,
	logger *slog.Logger,
) *RetrievalUseCase {
	return &RetrievalUseCase{
		embedder: embedder,
		searcher: searcher,
		timeout:  timeout,
		logger:   logger,
	}
}

type effectiveParams struct {
	namespaces []string
	threshold  float64
	minResults int
	maxResults int
	filter     domain.MetadataFilter
	rerank     bool
}

// resolveEffective applies caller overrides that stay within the persona's
// validated bounds; out-of-bounds overrides fall back to config defaults.
func resolveEffective(cfg domain.PersonaConfig, ov domain.RetrievalOverrides) effectiveParams {
	eff := effectiveParams{
		namespaces: cfg.Namespaces,
		threshold:  cfg.ScoreThreshold,
		minResults: cfg.MinResults,
		maxResults: cfg.MaxResults,
		filter:     cfg.Filter,
		rerank:     cfg.RerankEnabled,
	}
	if ov.MaxResults != nil && *ov.MaxResults >= 1 && *ov.MaxResults <= cfg.MaxResults {
		eff.maxResults = *ov.MaxResults
	}
	if ov.ScoreThreshold != nil && *ov.ScoreThreshold >= 0 && *ov.ScoreThreshold <= 1 {
		eff.threshold = *ov.ScoreThreshold
	}
	if len(ov.Namespaces) > 0 {
		allowed := make(map[string]struct{}, len(cfg.Namespaces))
		for _, ns := range cfg.Namespaces {
			allowed[ns] = struct{}{}
		}
		subset := make([]string, 0, len(ov.Namespaces))
		for _, ns := range ov.Namespaces {
			if _, ok := allowed[ns]; ok {
				subset = append(subset, ns)
			}
		}
		if len(subset) > 0 && len(subset) == len(ov.Namespaces) {
			eff.namespaces = subset
		}
	}
	if ov.RerankEnabled != nil {
		eff.rerank = *ov.RerankEnabled
	}
	return eff
}

// Retrieve embeds the query once, searches every effective namespace
// concurrently, and merges the candidate sets. A single namespace failure is
// absorbed and recorded; the request fails only when embedding fails or every
// namespace fails. Completion order never affects the final ordering.
func (uc *RetrievalUseCase) Retrieve(
	ctx context.Context,
	expandedQuery string,
	cfg domain.PersonaConfig,
	ov domain.RetrievalOverrides,
	stats *StatsCollector,
) ([]domain.RetrievalCandidate, effectiveParams, error) {
	eff := resolveEffective(cfg, ov)
	stats.SetNamespaces(eff.namespaces)

	if uc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.timeout)
		defer cancel()
	}

	embedStart := time.Now()
	vector, err := uc.embedder.EmbedQuery(ctx, expandedQuery)
	stats.Record(StageEmbed, time.Since(embedStart))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, eff, domain.WrapError(domain.ErrTimeout, "embed query", err)
		}
		return nil, eff, domain.WrapError(domain.ErrEmbeddingFailure, "embed query", err)
	}
	if len(vector) == 0 {
		return nil, eff, domain.WrapError(domain.ErrEmbeddingFailure, "embed query", fmt.Errorf("empty embedding"))
	}

	searchStart := time.Now()
	perNamespace := make([][]domain.RetrievalCandidate, len(eff.namespaces))
	searchErrs := make([]error, len(eff.namespaces))

	g, gctx := errgroup.WithContext(ctx)
	for i, namespace := range eff.namespaces {
		g.Go(func() error {
			candidates, searchErr := uc.searcher.Search(gctx, vector, namespace, eff.filter, eff.threshold, eff.maxResults)
			if searchErr != nil {
				// A failed namespace contributes zero candidates; not fatal.
				searchErrs[i] = searchErr
				return nil
			}
			for j := range candidates {
				candidates[j].Rank = j + 1
				candidates[j].Namespace = namespace
			}
			perNamespace[i] = candidates
			return nil
		})
	}
	_ = g.Wait()
	stats.Record(StageSearch, time.Since(searchStart))

	failed := 0
	deadlined := 0
	for i, searchErr := range searchErrs {
		if searchErr == nil {
			continue
		}
		failed++
		if errors.Is(searchErr, context.DeadlineExceeded) {
			deadlined++
		}
		stats.MarkNamespaceFailed(eff.namespaces[i])
		uc.logger.Warn("namespace_search_failed",
			slog.String("namespace", eff.namespaces[i]),
			slog.String("error", searchErr.Error()))
	}
	if failed == len(eff.namespaces) {
		if deadlined == failed {
			return nil, eff, domain.WrapError(domain.ErrTimeout, "search namespaces", context.DeadlineExceeded)
		}
		return nil, eff, domain.WrapError(domain.ErrRetrievalFailure, "search namespaces",
			fmt.Errorf("all %d namespace searches failed", failed))
	}
	for i, candidates := range perNamespace {
		if searchErrs[i] == nil {
			stats.AddFetched(eff.namespaces[i], len(candidates))
		}
	}

	merged := mergeNamespaceResults(perNamespace)
	if len(merged) > eff.maxResults {
		merged = merged[:eff.maxResults]
	}
	for i := range merged {
		merged[i].Rank = i + 1
	}
	if len(merged) < eff.minResults {
		// Quality hint only, never an error.
		stats.MarkBelowMinResults()
	}
	return merged, eff, nil
}

// mergeNamespaceResults flattens per-namespace result sets and sorts by primary
// score descending, breaking ties by namespace list order, then by original
// within-namespace rank.
func mergeNamespaceResults(perNamespace [][]domain.RetrievalCandidate) []domain.RetrievalCandidate {
	type keyed struct {
		cand    domain.RetrievalCandidate
		nsIndex int
		nsRank  int
	}
	total := 0
	for _, set := range perNamespace {
		total += len(set)
	}
	all := make([]keyed, 0, total)
	for nsIndex, set := range perNamespace {
		for _, cand := range set {
			all = append(all, keyed{cand: cand, nsIndex: nsIndex, nsRank: cand.Rank})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].cand.Score != all[j].cand.Score {
			return all[i].cand.Score > all[j].cand.Score
		}
		if all[i].nsIndex != all[j].nsIndex {
			return all[i].nsIndex < all[j].nsIndex
		}
		return all[i].nsRank < all[j].nsRank
	})
	out := make([]domain.RetrievalCandidate, 0, len(all))
	for _, k := range all {
		out = append(out, k.cand)
	}
	return out
}
