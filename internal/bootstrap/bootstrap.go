// Package bootstrap wires configuration, infrastructure adapters, and use
// cases into a runnable application.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/knowledge-qa/internal/config"
	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
	"github.com/kirillkom/knowledge-qa/internal/core/usecase"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/llm/ollama"
	natsqueue "github.com/kirillkom/knowledge-qa/internal/infrastructure/queue/nats"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/rerank"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/resilience"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/vector/pgvector"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/knowledge-qa/internal/schema"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Registry *usecase.PersonaRegistry
	AnswerUC *usecase.AnswerUseCase

	closeFn func()
}

// New wires the application. The observer may be nil when the caller exports
// no metrics, as the stdio MCP binary does.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, observer ports.PipelineObserver) (*App, error) {
	// The embedded contract schema is a published artifact; refuse to start
	// if it drifted out of shape.
	if _, err := schema.Load(ctx); err != nil {
		return nil, fmt.Errorf("load answer schema: %w", err)
	}

	personas, err := config.LoadPersonas(cfg.PersonasPath)
	if err != nil {
		return nil, fmt.Errorf("load personas: %w", err)
	}
	defaultPersona, err := domainPersona(cfg.DefaultPersona)
	if err != nil {
		return nil, err
	}
	registry, err := usecase.NewPersonaRegistry(personas, defaultPersona, cfg.DetectThreshold)
	if err != nil {
		return nil, fmt.Errorf("build persona registry: %w", err)
	}

	dictionaries, err := config.LoadDictionaries(cfg.ExpansionPath)
	if err != nil {
		return nil, fmt.Errorf("load expansion dictionaries: %w", err)
	}
	expander := usecase.NewExpander(
		dictionaries,
		cfg.ExpansionCacheSize,
		time.Duration(cfg.ExpansionCacheTTLSeconds)*time.Second,
	)

	runner := resilience.NewRunner(resilience.DefaultPolicy())

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		RequestsPerSecond: cfg.OllamaRPS,
		Runner:            runner,
	})
	embedder := ollama.NewEmbedder(ollamaClient)
	generator := ollama.NewGenerator(ollamaClient)

	var closers []func()

	searcher, closeSearcher, err := buildSearcher(cfg)
	if err != nil {
		return nil, err
	}
	if closeSearcher != nil {
		closers = append(closers, closeSearcher)
	}

	var reranker ports.Reranker
	if cfg.RerankEnabled {
		reranker = rerank.NewClient(cfg.RerankURL, rerank.Options{
			Model:  cfg.RerankModel,
			Runner: runner,
		})
	}

	var audit ports.AuditPublisher
	if cfg.NATSEnabled {
		publisher, err := natsqueue.NewWithOptions(cfg.NATSURL, natsqueue.Options{Runner: runner})
		if err != nil {
			return nil, fmt.Errorf("init audit publisher: %w", err)
		}
		closers = append(closers, publisher.Close)
		audit = publisher
	}

	retriever := usecase.NewRetrievalUseCase(
		embedder,
		searcher,
		time.Duration(cfg.RetrievalTimeoutMS)*time.Millisecond,
		logger,
	)

	answerUC := usecase.NewAnswerUseCase(
		registry,
		expander,
		retriever,
		reranker,
		generator,
		audit,
		observer,
		usecase.AnswerConfig{
			MaxExpansionTerms:    cfg.MaxExpansionTerms,
			FusionWeightSemantic: cfg.FusionWeightSemantic,
			FusionWeightRerank:   cfg.FusionWeightRerank,
			FusionTopN:           cfg.FusionTopN,
			ContextBudgetChars:   cfg.ContextBudgetChars,
			ModelID:              cfg.ModelID,
		},
		logger,
	)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		AnswerUC: answerUC,
		closeFn: func() {
			for _, closeFn := range closers {
				closeFn()
			}
		},
	}, nil
}

func domainPersona(name string) (domain.Persona, error) {
	persona, err := domain.ParsePersona(name)
	if err != nil {
		return "", fmt.Errorf("default persona: %w", err)
	}
	return persona, nil
}

func buildSearcher(cfg config.Config) (ports.VectorSearcher, func(), error) {
	switch cfg.VectorBackend {
	case "qdrant":
		return qdrant.New(cfg.QdrantURL, cfg.QdrantCollectionPrefix, 0), nil, nil
	case "pgvector":
		db, err := pgvector.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return pgvector.New(db, cfg.PostgresTable), func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
