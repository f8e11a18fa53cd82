package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"feedback-insights/internal/cache"
	"feedback-insights/internal/config"
	"feedback-insights/internal/db"
	"feedback-insights/internal/events"
	"feedback-insights/internal/openai"
	"feedback-insights/internal/repository"
	"feedback-insights/internal/services"
)

const cacheTTL = 5 * time.Minute

// App holds the wired components shared by the server and the CLI.
type App struct {
	Config *config.Config
	DB     *db.GormDB

	Documents *repository.DocumentRepositoryImpl
	Insights  *repository.InsightRepositoryImpl
	Links     *repository.LinkRepositoryImpl

	Cache *cache.InsightCache
	Bus   *events.Bus

	// Events is where writers publish: the local bus, or pg_notify when
	// LISTEN/NOTIFY fan-out is on.
	Events services.InvalidationSink

	Resolver  *services.InsightResolver
	Processor *services.DocumentProcessor
	Queries   *services.InsightQueryService
	Unlinker  *services.InsightLinkService

	listener *events.Listener
}

// New connects to the database and builds every service. The processor is
// created but not started.
func New(cfg *config.Config) (*App, error) {
	database, err := db.NewGorm(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		DB:        database,
		Documents: repository.NewDocumentRepository(database.DB),
		Insights:  repository.NewInsightRepository(database.DB),
		Links:     repository.NewLinkRepository(database.DB),
	}

	a.Cache, err = cache.New(cfg.CacheMaxCost, cacheTTL)
	if err != nil {
		database.Close()
		return nil, err
	}
	a.Bus = events.NewBus(a.Cache)

	embedder, err := NewEmbedder(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Events = a.invalidationSink()

	chat := openai.NewClient(cfg.OpenAIAPIKey,
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithChatModel(cfg.ChatModel),
	)

	a.Resolver = services.NewInsightResolver(embedder, a.Insights, a.Events, cfg.InsightMaxDistance,
		services.WithEnvironmentLock(cfg.InsightSerializeEnvironment),
	)
	a.Processor = services.NewDocumentProcessor(
		a.Documents,
		services.NewExtractionService(chat),
		a.Resolver,
		a.Events,
		cfg.AIAllowed,
		cfg.ProcessingWorkers,
		cfg.ProcessingQueueSize,
	)
	a.Queries = services.NewInsightQueryService(a.Insights, a.Links, a.Documents, a.Cache)
	a.Unlinker = services.NewInsightLinkService(a.Insights, a.Links, a.Events)

	return a, nil
}

// NewEmbedder returns the embedding provider selected by EMBEDDING_PROVIDER.
func NewEmbedder(cfg *config.Config) (services.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "compat":
		embedder, err := openai.NewCompatEmbedder(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		if err != nil {
			return nil, err
		}
		log.Printf("✓ Compatible embedding client initialized (%s, %s)", cfg.OpenAIBaseURL, cfg.EmbeddingModel)
		return embedder, nil
	case "openai", "":
		log.Printf("✓ OpenAI embedding client initialized (%s)", cfg.EmbeddingModel)
		return openai.NewClient(cfg.OpenAIAPIKey,
			openai.WithBaseURL(cfg.OpenAIBaseURL),
			openai.WithEmbeddingModel(cfg.EmbeddingModel, cfg.EmbeddingDimensions),
		), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}

func (a *App) notifying() bool {
	return a.Config.DBDriver == "postgres" && a.Config.InvalidationListen
}

// invalidationSink decides where writers publish. With LISTEN/NOTIFY every
// process, this one included, receives events through Listen; otherwise
// events go straight to the local bus.
func (a *App) invalidationSink() services.InvalidationSink {
	if !a.notifying() {
		return a.Bus
	}
	return events.NewNotifier(a.DB.DB, a.Config.InvalidationChannel)
}

// Listen opens the LISTEN session that feeds the local bus. Processes that
// serve reads must call it when notifications are on, or their cache never
// hears about writes. It does nothing otherwise.
func (a *App) Listen() error {
	if !a.notifying() || a.listener != nil {
		return nil
	}

	listener, err := events.NewListener(a.Config.DatabaseURL(), a.Config.InvalidationChannel, a.Bus)
	if err != nil {
		return err
	}
	a.listener = listener
	return nil
}

// RunListener forwards cross-process invalidations until ctx is done.
// It returns immediately when Listen has not opened a session.
func (a *App) RunListener(ctx context.Context) {
	if a.listener == nil {
		return
	}
	a.listener.Run(ctx)
}

func (a *App) Close() {
	if a.listener != nil {
		if err := a.listener.Close(); err != nil {
			log.Printf("⚠️  Failed to close invalidation listener: %v", err)
		}
	}
	if a.Cache != nil {
		a.Cache.Close()
	}
	if err := a.DB.Close(); err != nil {
		log.Printf("⚠️  Failed to close database: %v", err)
	}
}
