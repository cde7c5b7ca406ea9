package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sveikata-ai/rag-engine/internal/config"
	"github.com/sveikata-ai/rag-engine/internal/core/ports"
	"github.com/sveikata-ai/rag-engine/internal/core/usecase"
	rediscache "github.com/sveikata-ai/rag-engine/internal/infrastructure/cache/redis"
	natsevents "github.com/sveikata-ai/rag-engine/internal/infrastructure/events/nats"
	keywordpg "github.com/sveikata-ai/rag-engine/internal/infrastructure/keyword/postgres"
	"github.com/sveikata-ai/rag-engine/internal/infrastructure/llm/ollama"
	"github.com/sveikata-ai/rag-engine/internal/infrastructure/resilience"
	snapshotpg "github.com/sveikata-ai/rag-engine/internal/infrastructure/snapshot/postgres"
	"github.com/sveikata-ai/rag-engine/internal/infrastructure/vector/qdrant"
	"github.com/sveikata-ai/rag-engine/internal/monitor"
)

type App struct {
	Config config.Config

	QueryService ports.QueryService
	Monitor      *monitor.Monitor

	closeFn func()
}

// New wires the full engine. Redis and NATS are optional: an empty URL leaves
// the answer cache and event publisher disabled. engineMetrics may be nil when
// no metrics registry is exposed.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, engineMetrics monitor.EngineMetrics) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := keywordpg.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	keywordStore := keywordpg.NewStore(db, logger)
	if err := keywordStore.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure keyword schema: %w", err)
	}
	snapshotStore := snapshotpg.NewStore(db)
	if err := snapshotStore.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure snapshot schema: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	ollamaClient := ollama.NewWithExecutor(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor)
	embedder := ollama.NewEmbedder(ollamaClient)
	generator := ollama.NewGenerator(ollamaClient)

	vectorStore := qdrant.NewWithExecutor(cfg.QdrantURL, cfg.QdrantCollection, executor)

	var answerCache ports.AnswerCache
	var cacheCloser func()
	if cfg.RedisURL != "" {
		cache, err := rediscache.New(cfg.RedisURL, cfg.AnswerCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("init answer cache: %w", err)
		}
		answerCache = cache
		cacheCloser = func() { _ = cache.Close() }
	}

	var events ports.EventPublisher
	var eventsCloser func()
	if cfg.NATSURL != "" {
		publisher, err := natsevents.New(cfg.NATSURL, cfg.NATSEventPrefix)
		if err != nil {
			return nil, fmt.Errorf("init event publisher: %w", err)
		}
		events = publisher
		eventsCloser = publisher.Close
	}

	mon := monitor.New(snapshotStore, events, logger, monitor.Options{
		FlushInterval:   cfg.MonitorFlushInterval,
		BucketRetention: cfg.MonitorBucketRetention,
		Metrics:         engineMetrics,
	})

	var extraRules []usecase.ReplacementRule
	if cfg.NormalizerRulesPath != "" {
		extraRules, err = usecase.LoadReplacementRules(cfg.NormalizerRulesPath)
		if err != nil {
			return nil, fmt.Errorf("load normalizer rules: %w", err)
		}
	}
	normalizer := usecase.NewNormalizer(0, extraRules)

	coordinator := usecase.NewRetrievalCoordinator(embedder, vectorStore, keywordStore, cfg.RAGAdapterTimeout, logger)

	answerUC := usecase.NewAnswerUseCase(
		normalizer,
		coordinator,
		generator,
		answerCache,
		mon,
		usecase.PipelineConfig{
			DefaultK:                  cfg.RAGTopK,
			DefaultMinConfidence:      cfg.RAGMinConfidence,
			ConfidenceFloor:           cfg.RAGConfidenceFloor,
			MaxAttempts:               cfg.RAGMaxAttempts,
			RetrySchedule:             cfg.RAGRetrySchedule,
			OverallTimeout:            cfg.RAGOverallTimeout,
			DefaultPrioritizedSources: cfg.PrioritizedSources(),
		},
		logger,
	)

	return &App{
		Config:       cfg,
		QueryService: answerUC,
		Monitor:      mon,

		closeFn: func() {
			if eventsCloser != nil {
				eventsCloser()
			}
			if cacheCloser != nil {
				cacheCloser()
			}
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
