package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/kirillkom/marketplace-categorizer/internal/config"
	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
	"github.com/kirillkom/marketplace-categorizer/internal/core/ports"
	"github.com/kirillkom/marketplace-categorizer/internal/core/product"
	"github.com/kirillkom/marketplace-categorizer/internal/core/prompt"
	"github.com/kirillkom/marketplace-categorizer/internal/core/reconcile"
	"github.com/kirillkom/marketplace-categorizer/internal/core/shortlist"
	"github.com/kirillkom/marketplace-categorizer/internal/core/taxonomy"
	"github.com/kirillkom/marketplace-categorizer/internal/core/usecase"
	"github.com/kirillkom/marketplace-categorizer/internal/infrastructure/llm"
	"github.com/kirillkom/marketplace-categorizer/internal/infrastructure/queue/nats"
	"github.com/kirillkom/marketplace-categorizer/internal/infrastructure/resilience"
	"github.com/kirillkom/marketplace-categorizer/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config

	Storage    *localfs.Storage
	Taxonomies *taxonomy.Store
	Providers  *llm.Registry
	Executor   *resilience.Executor
	ClassifyUC *usecase.ClassifyUseCase

	closeFn func()
}

// New loads every taxonomy and wires the classification pipeline. recorder
// may be nil when the caller exports no metrics.
func New(ctx context.Context, cfg config.Config, recorder ports.ClassificationRecorder) (*App, error) {
	storage, err := localfs.New(localfs.Config{
		DataDir:          cfg.DataDir,
		MarketplacesFile: cfg.MarketplacesFile,
		PromptFile:       cfg.PromptFile,
	})
	if err != nil {
		return nil, fmt.Errorf("init taxonomy storage: %w", err)
	}

	store := taxonomy.NewStore(storage, taxonomy.StoreOptions{Strict: cfg.TaxonomyStrict})
	if err := store.Reload(ctx); err != nil {
		return nil, fmt.Errorf("load taxonomies: %w", err)
	}

	template, err := storage.ReadPromptTemplate(ctx)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load prompt template: %w", err)
		}
		slog.Warn("prompt_template_missing", "path", cfg.PromptFile, "fallback", "built-in")
	}

	providers, err := llm.NewRegistry(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init providers: %w", err)
	}

	cache, err := shortlist.NewCorpusCache(cfg.CorpusCacheSize)
	if err != nil {
		return nil, fmt.Errorf("init corpus cache: %w", err)
	}

	executor := resilience.NewExecutor(ResilienceConfig(cfg))

	classifyUC := usecase.NewClassifyUseCase(
		store,
		product.NewNormalizer(domain.DefaultFieldAliases(), product.Limits{
			Name:        cfg.NameCharLimit,
			Description: cfg.DescriptionCharLimit,
			Attribute:   cfg.AttributeCharLimit,
		}),
		shortlist.New(cfg.ShortlistK, shortlist.DefaultWeights(), cache),
		prompt.NewBuilder(template, cfg.PromptCharBudget),
		reconcile.NewReconciler(recorder),
		providers,
		executor,
		recorder,
		usecase.Options{
			ProviderTimeout:        cfg.ProviderTimeout,
			FailureMode:            usecase.FailureMode(cfg.ProviderFailureMode),
			ClassifyAllConcurrency: cfg.ClassifyAllConcurrency,
		},
	)

	slog.Info("categorizer_ready",
		"marketplaces", len(store.Names()),
		"providers", providers.Names(),
		"default_provider", providers.DefaultName(),
	)

	return &App{
		Config:     cfg,
		Storage:    storage,
		Taxonomies: store,
		Providers:  providers,
		Executor:   executor,
		ClassifyUC: classifyUC,
		closeFn:    func() {},
	}, nil
}

// NewQueue connects the worker to NATS. Reply publishes go through the app
// executor under the "nats.publish" breaker. The connection is closed by Close.
func (a *App) NewQueue(observer nats.JobObserver) (*nats.Queue, error) {
	queue, err := nats.New(a.Config.NATSURL, a.Config.NATSClassifySubject, nats.Options{
		ResultSubject:      a.Config.NATSResultSubject,
		QueueGroup:         a.Config.NATSQueueGroup,
		ResilienceExecutor: a.Executor,
		Observer:           observer,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	prev := a.closeFn
	a.closeFn = func() {
		queue.Close()
		prev()
	}
	return queue, nil
}

func ResilienceConfig(cfg config.Config) resilience.Config {
	rc := resilience.DefaultConfig()
	rc.RetryMaxAttempts = cfg.RetryMaxAttempts
	rc.RetryInitialBackoff = cfg.RetryInitialBackoff
	rc.BreakerEnabled = cfg.BreakerEnabled
	return rc
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
