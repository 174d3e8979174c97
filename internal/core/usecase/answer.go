package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
	"github.com/kirillkom/knowledge-qa/internal/schema"
)

const refusalText = "The indexed sources do not contain enough evidence to answer this question. " +
	"Try rephrasing it, or widen the year range and content-type filters."

// AnswerConfig carries the pipeline knobs that are not persona-specific.
type AnswerConfig struct {
	MaxExpansionTerms    int
	FusionWeightSemantic float64
	FusionWeightRerank   float64
	FusionTopN           int
	ContextBudgetChars   int
	ModelID              string
}

// AnswerUseCase runs the full pipeline: persona resolution, expansion,
// retrieval, fusion, formatting, generation, assembly, and the single
// validation gate every answer must pass before leaving the system.
type AnswerUseCase struct {
	registry  *PersonaRegistry
	expander  *Expander
	retriever *RetrievalUseCase
	reranker  ports.Reranker
	generator ports.AnswerGenerator
	validator ContractValidator
	audit     ports.AuditPublisher
	observer  ports.PipelineObserver
	cfg       AnswerConfig
	logger    *slog.Logger
}

func NewAnswerUseCase(
	registry *PersonaRegistry,
	expander *Expander,
	retriever *RetrievalUseCase,
	reranker ports.Reranker,
	generator ports.AnswerGenerator,
	audit ports.AuditPublisher,
	observer ports.PipelineObserver,
	cfg AnswerConfig,
	logger *slog.Logger,
) *AnswerUseCase {
	return &AnswerUseCase{
		registry:  registry,
		expander:  expander,
		retriever: retriever,
		reranker:  reranker,
		generator: generator,
		validator: NewContractValidator(),
		audit:     audit,
		observer:  observer,
		cfg:       cfg,
		logger:    logger,
	}
}

// Retrieve exposes the retrieval stages without generation, for callers that
// assemble their own prompts.
func (uc *AnswerUseCase) Retrieve(ctx context.Context, req domain.AnswerRequest) ([]domain.RetrievalCandidate, domain.RetrievalStatistics, error) {
	candidates, persona, _, stats, err := uc.runRetrieval(ctx, req)
	if err != nil {
		return nil, domain.RetrievalStatistics{}, err
	}
	stats.SetReturned(len(candidates))
	snapshot := stats.Snapshot(candidates)
	uc.observe(string(persona.Persona), snapshot)
	return candidates, snapshot, nil
}

// Answer runs the pipeline end to end and returns either a validated contract
// or a typed error; a validation failure surfaces as *domain.ValidationError.
func (uc *AnswerUseCase) Answer(ctx context.Context, req domain.AnswerRequest) (*domain.AnswerContract, error) {
	started := time.Now()

	candidates, persona, expansion, stats, err := uc.runRetrieval(ctx, req)
	if err != nil {
		return nil, err
	}

	block, sources := FormatContext(candidates, FormatSettings{
		Style:          persona.Format.CitationStyle,
		ShowProvenance: persona.Format.ShowProvenance,
		SnippetChars:   persona.Format.SnippetChars,
		BudgetChars:    uc.cfg.ContextBudgetChars,
	}, stats)
	stats.SetReturned(len(sources))
	rendered := candidates[:len(sources)]
	snapshot := stats.Snapshot(rendered)
	uc.observe(string(persona.Persona), snapshot)

	answerText := refusalText
	if len(sources) > 0 {
		answerText, err = uc.generator.Generate(ctx, req.Question, block)
		if err != nil {
			return nil, domain.WrapError(domain.ErrGenerationFailure, "generate answer", err)
		}
		if strings.TrimSpace(answerText) == "" {
			return nil, domain.WrapError(domain.ErrGenerationFailure, "generate answer", fmt.Errorf("empty model response"))
		}
	}

	contract := uc.assemble(req, persona, expansion, rendered, sources, answerText, snapshot, started)

	validated, report := uc.validator.Validate(contract)
	if report != nil {
		uc.logger.Error("contract_rejected",
			slog.String("persona", string(persona.Persona)),
			slog.Int("violation_count", len(report.Violations)))
		if uc.audit != nil {
			if pubErr := uc.audit.PublishRejected(ctx, req.Question, *report); pubErr != nil {
				uc.logger.Warn("audit_publish_failed", slog.String("error", pubErr.Error()))
			}
		}
		return nil, &domain.ValidationError{Report: *report}
	}

	if uc.audit != nil {
		if pubErr := uc.audit.PublishValidated(ctx, validated); pubErr != nil {
			uc.logger.Warn("audit_publish_failed", slog.String("error", pubErr.Error()))
		}
	}
	return validated, nil
}

func (uc *AnswerUseCase) observe(persona string, snapshot domain.RetrievalStatistics) {
	if uc.observer != nil {
		uc.observer.ObserveRetrieval(persona, snapshot)
	}
}

func (uc *AnswerUseCase) runRetrieval(ctx context.Context, req domain.AnswerRequest) (
	[]domain.RetrievalCandidate,
	domain.PersonaConfig,
	domain.ExpansionResult,
	*StatsCollector,
	error,
) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, domain.PersonaConfig{}, domain.ExpansionResult{}, nil,
			domain.WrapError(domain.ErrInvalidInput, "answer", fmt.Errorf("question is empty"))
	}

	persona, err := uc.registry.Resolve(req.Question, req.Persona)
	if err != nil {
		return nil, domain.PersonaConfig{}, domain.ExpansionResult{}, nil, err
	}

	expansion := uc.expander.Expand(req.Question, persona.Strategy, uc.cfg.MaxExpansionTerms)
	stats := NewStatsCollector()

	candidates, eff, err := uc.retriever.Retrieve(ctx, expansion.Expanded, persona, req.Overrides, stats)
	if err != nil {
		return nil, persona, expansion, stats, err
	}

	if eff.rerank && uc.reranker != nil {
		topN := uc.cfg.FusionTopN
		if topN <= 0 || topN > eff.maxResults {
			topN = eff.maxResults
		}
		candidates = FuseWithReranker(ctx, uc.reranker, expansion.Expanded, candidates, FusionSettings{
			WeightSemantic: uc.cfg.FusionWeightSemantic,
			WeightRerank:   uc.cfg.FusionWeightRerank,
			TopN:           topN,
		}, stats, uc.logger)
	} else {
		stats.SetAfterFusion(len(candidates))
	}
	return candidates, persona, expansion, stats, nil
}

func (uc *AnswerUseCase) assemble(
	req domain.AnswerRequest,
	persona domain.PersonaConfig,
	expansion domain.ExpansionResult,
	rendered []domain.RetrievalCandidate,
	sources []domain.Source,
	answerText string,
	snapshot domain.RetrievalStatistics,
	started time.Time,
) *domain.AnswerContract {
	eff := resolveEffective(persona, req.Overrides)

	results := make([]domain.ResultSummary, 0, len(rendered))
	for _, cand := range rendered {
		results = append(results, domain.ResultSummary{
			Rank:      cand.Rank,
			ChunkID:   cand.ChunkID,
			Namespace: cand.Namespace,
			Score:     clamp01(cand.Effective()),
		})
	}

	confidence := clamp01(snapshot.TopScore)
	completeness := "complete"
	if snapshot.BelowMinResults || snapshot.DroppedByBudget > 0 {
		completeness = "partial"
	}

	fallback := domain.FallbackNotNeeded
	if len(sources) == 0 {
		fallback = domain.FallbackRefusal
	}

	unknowns := domain.Unknowns{
		UnsupportedClaims:   []string{},
		MissingContext:      []string{},
		ClarifyingQuestions: []string{},
	}
	if len(sources) == 0 {
		unknowns.MissingContext = append(unknowns.MissingContext,
			"no passages above the similarity threshold were retrieved for this query")
	}

	timing := time.Since(started).Milliseconds()
	contract := &domain.AnswerContract{
		Version: schema.Version,
		Persona: string(persona.Persona),
		Mode:    req.Mode,
		Answer: domain.AnswerBlock{
			Text:         answerText,
			Confidence:   &confidence,
			Completeness: completeness,
		},
		Sources: sources,
		RetrievalSummary: domain.RetrievalSummary{
			Query:            expansion.Expanded,
			RequestedResults: eff.maxResults,
			Namespaces:       snapshot.NamespacesSearched,
			Filter:           filterEcho(eff.filter),
			Results:          results,
			TimingMS:         &timing,
			Model:            uc.cfg.ModelID,
		},
		Unknowns: unknowns,
		Integrity: &domain.Integrity{
			CitationRequired:  true,
			CitationsProvided: len(sources) > 0,
			Confidence:        confidenceLevel(sources, snapshot.TopScore),
			FallbackBehavior:  fallback,
		},
		Provenance: &domain.GenerationProvenance{
			GeneratedAt:  time.Now().UTC(),
			RunID:        uuid.NewString(),
			ModelVersion: uc.cfg.ModelID,
		},
	}
	return contract
}

func filterEcho(filter domain.MetadataFilter) *domain.FilterEcho {
	if len(filter.RequiredTags) == 0 && len(filter.ContentTypes) == 0 &&
		filter.YearGTE == nil && filter.YearLTE == nil {
		return nil
	}
	return &domain.FilterEcho{
		RequiredTags: filter.RequiredTags,
		ContentTypes: filter.ContentTypes,
		YearGTE:      filter.YearGTE,
		YearLTE:      filter.YearLTE,
	}
}

func confidenceLevel(sources []domain.Source, topScore float64) domain.ConfidenceLevel {
	if len(sources) == 0 {
		return domain.ConfidenceUncertain
	}
	switch {
	case topScore >= 0.8:
		return domain.ConfidenceHigh
	case topScore >= 0.6:
		return domain.ConfidenceMedium
	case topScore >= 0.35:
		return domain.ConfidenceLow
	default:
		return domain.ConfidenceUncertain
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
