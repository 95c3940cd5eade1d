package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
	"github.com/kirillkom/marketplace-categorizer/internal/core/ports"
	"github.com/kirillkom/marketplace-categorizer/internal/core/product"
	"github.com/kirillkom/marketplace-categorizer/internal/core/prompt"
	"github.com/kirillkom/marketplace-categorizer/internal/core/reconcile"
	"github.com/kirillkom/marketplace-categorizer/internal/core/shortlist"
)

type FailureMode string

const (
	// FailureModeError surfaces provider transport failures as *domain.ProviderError.
	FailureModeError FailureMode = "error"
	// FailureModeUnmapped turns them into UNMAPPED results.
	FailureModeUnmapped FailureMode = "unmapped"
)

const (
	defaultProviderTimeout   = 30 * time.Second
	defaultClassifyAllWorker = 4
)

type Options struct {
	ProviderTimeout        time.Duration
	FailureMode            FailureMode
	PromptOptions          domain.PromptOptions
	ClassifyAllConcurrency int
}

func (o Options) withDefaults() Options {
	if o.ProviderTimeout <= 0 {
		o.ProviderTimeout = defaultProviderTimeout
	}
	if o.FailureMode != FailureModeUnmapped {
		o.FailureMode = FailureModeError
	}
	if o.PromptOptions.ResponseFormat == "" {
		o.PromptOptions.ResponseFormat = domain.ResponseFormatJSON
	}
	if o.ClassifyAllConcurrency <= 0 {
		o.ClassifyAllConcurrency = defaultClassifyAllWorker
	}
	return o
}

type ClassifyUseCase struct {
	catalog     ports.MarketplaceCatalog
	normalizer  *product.Normalizer
	shortlister *shortlist.Shortlister
	prompts     *prompt.Builder
	reconciler  *reconcile.Reconciler
	providers   ports.ProviderRegistry
	policy      ports.ProviderCallPolicy
	recorder    ports.ClassificationRecorder
	opts        Options
}

// NewClassifyUseCase wires the classification pipeline. policy and recorder
// may be nil.
func NewClassifyUseCase(
	catalog ports.MarketplaceCatalog,
	normalizer *product.Normalizer,
	shortlister *shortlist.Shortlister,
	prompts *prompt.Builder,
	reconciler *reconcile.Reconciler,
	providers ports.ProviderRegistry,
	policy ports.ProviderCallPolicy,
	recorder ports.ClassificationRecorder,
	opts Options,
) *ClassifyUseCase {
	if policy == nil {
		policy = directCall{}
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &ClassifyUseCase{
		catalog:     catalog,
		normalizer:  normalizer,
		shortlister: shortlister,
		prompts:     prompts,
		reconciler:  reconciler,
		providers:   providers,
		policy:      policy,
		recorder:    recorder,
		opts:        opts.withDefaults(),
	}
}

// Classify maps one product onto one marketplace taxonomy.
func (uc *ClassifyUseCase) Classify(ctx context.Context, req domain.ClassifyRequest) (*domain.ClassificationResult, error) {
	if strings.TrimSpace(req.Marketplace) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "classify", errors.New("marketplace is required"))
	}
	tax, err := uc.catalog.Taxonomy(req.Marketplace)
	if err != nil {
		return nil, err
	}
	provider, err := uc.providers.Provider(req.Provider)
	if err != nil {
		return nil, err
	}
	record, err := uc.normalizer.Normalize(req.Product)
	if err != nil {
		return nil, err
	}
	return uc.classifyRecord(ctx, tax, record, provider, req.IncludeConfidence)
}

// ClassifyAll runs the pipeline for every loaded marketplace and returns the
// results in registry order. A non-empty req.Marketplace narrows it to one.
func (uc *ClassifyUseCase) ClassifyAll(ctx context.Context, req domain.ClassifyRequest) ([]domain.ClassificationResult, error) {
	if strings.TrimSpace(req.Marketplace) != "" {
		res, err := uc.Classify(ctx, req)
		if err != nil {
			return nil, err
		}
		return []domain.ClassificationResult{*res}, nil
	}

	provider, err := uc.providers.Provider(req.Provider)
	if err != nil {
		return nil, err
	}
	record, err := uc.normalizer.Normalize(req.Product)
	if err != nil {
		return nil, err
	}

	// one snapshot for the whole fan-out; a concurrent reload is not observed
	taxonomies := uc.catalog.Taxonomies()
	results := make([]domain.ClassificationResult, len(taxonomies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.opts.ClassifyAllConcurrency)
	for i, tax := range taxonomies {
		g.Go(func() error {
			res, err := uc.classifyRecord(gctx, tax, record, provider, req.IncludeConfidence)
			if err != nil {
				return fmt.Errorf("classify for %s: %w", tax.Marketplace, err)
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Shortlist exposes the heuristic stage alone; it never calls a provider.
func (uc *ClassifyUseCase) Shortlist(marketplace string, payload map[string]any, k int) ([]domain.ScoredCandidate, error) {
	tax, err := uc.catalog.Taxonomy(marketplace)
	if err != nil {
		return nil, err
	}
	record, err := uc.normalizer.Normalize(payload)
	if err != nil {
		return nil, err
	}
	return uc.shortlister.ShortlistK(record, tax, k), nil
}

func (uc *ClassifyUseCase) classifyRecord(
	ctx context.Context,
	tax *domain.Taxonomy,
	record domain.ProductRecord,
	provider ports.LLMProvider,
	includeConfidence bool,
) (*domain.ClassificationResult, error) {
	started := time.Now()

	candidates := uc.shortlister.Shortlist(record, tax)
	uc.recorder.ObserveShortlist(tax.Marketplace, len(candidates))

	result := &domain.ClassificationResult{
		Marketplace:          tax.Marketplace,
		Status:               domain.StatusUnmapped,
		CandidatesConsidered: candidates,
	}
	if len(candidates) == 0 {
		result.Reason = domain.ReasonEmptyShortlist
		uc.finish(result, record, started)
		return result, nil
	}

	built, err := uc.prompts.Build(prompt.Request{
		Marketplace:       tax.Marketplace,
		Product:           record,
		Candidates:        candidates,
		IncludeConfidence: includeConfidence,
	})
	if err != nil {
		return nil, err
	}
	// the builder keeps a prefix of the shortlist when trimming to budget
	result.CandidatesConsidered = candidates[:len(built.Candidates)]
	result.Provider = provider.Name()

	var outcome reconcile.Outcome
	err = uc.policy.Do(ctx, provider.Name(), func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, uc.opts.ProviderTimeout)
		defer cancel()

		out, err := uc.reconciler.Reconcile(callCtx, provider, built.Text, built.Candidates, uc.opts.PromptOptions)
		if err != nil {
			return err
		}
		outcome = out
		return nil
	})
	if err != nil {
		if uc.opts.FailureMode == FailureModeUnmapped && ctx.Err() == nil {
			slog.Warn("provider_call_degraded",
				"marketplace", tax.Marketplace,
				"provider", provider.Name(),
				"error", err,
			)
			result.Reason = domain.ReasonProviderDegraded
			uc.finish(result, record, started)
			return result, nil
		}
		slog.Error("provider_call_failed",
			"marketplace", tax.Marketplace,
			"provider", provider.Name(),
			"error", err,
		)
		return nil, err
	}

	result.Status = outcome.Status
	result.Reason = outcome.Reason
	if outcome.Status == domain.StatusMatched && outcome.Leaf != nil {
		result.CategoryID = outcome.Leaf.ID
		result.CategoryName = outcome.Leaf.Name
		result.CategoryPath = outcome.Leaf.PathString()
		if includeConfidence {
			result.Confidence = outcome.Confidence
		}
	}
	uc.finish(result, record, started)
	return result, nil
}

func (uc *ClassifyUseCase) finish(result *domain.ClassificationResult, record domain.ProductRecord, started time.Time) {
	elapsed := time.Since(started)
	uc.recorder.ObserveClassification(result.Marketplace, result.Provider, result.Status, elapsed)
	slog.Info("classification_completed",
		"marketplace", result.Marketplace,
		"sku", record.SKU,
		"status", string(result.Status),
		"category_id", result.CategoryID,
		"reason", result.Reason,
		"provider", result.Provider,
		"candidates", len(result.CandidatesConsidered),
		"duration_ms", float64(elapsed.Microseconds())/1000.0,
	)
}

type directCall struct{}

func (directCall) Do(ctx context.Context, _ string, call func(context.Context) error) error {
	return call(ctx)
}

type noopRecorder struct{}

func (noopRecorder) ObserveClassification(string, string, domain.ClassificationStatus, time.Duration) {
}
func (noopRecorder) ObserveShortlist(string, int)                       {}
func (noopRecorder) ObserveProviderCall(string, string, time.Duration) {}
func (noopRecorder) ObserveParseStrategy(string)                        {}
