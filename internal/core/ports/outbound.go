package ports

import (
	"context"
	"time"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
)

// LLMProvider sends a rendered prompt to a language-model backend and returns
// the raw completion text. Transport failures are reported as *domain.ProviderError.
type LLMProvider interface {
	Name() string
	SendPrompt(ctx context.Context, prompt string, opts domain.PromptOptions) (string, error)
}

// TaxonomySource lists marketplaces and reads their raw taxonomy documents.
// Documents are decoded JSON-like values: map[string]any, []any, string, json.Number.
type TaxonomySource interface {
	ListMarketplaces(ctx context.Context) ([]domain.MarketplaceSpec, error)
	ReadTaxonomy(ctx context.Context, spec domain.MarketplaceSpec) (any, error)
}

// PromptTemplateSource returns the opaque classification instruction template.
type PromptTemplateSource interface {
	ReadPromptTemplate(ctx context.Context) (string, error)
}

// ClassificationRecorder receives pipeline telemetry.
type ClassificationRecorder interface {
	ObserveClassification(marketplace, provider string, status domain.ClassificationStatus, duration time.Duration)
	ObserveShortlist(marketplace string, size int)
	ObserveProviderCall(provider, outcome string, duration time.Duration)
	ObserveParseStrategy(strategy string)
}

// ClassifyJobHandler processes one queued classification job.
type ClassifyJobHandler func(ctx context.Context, req domain.ClassifyRequest) ([]domain.ClassificationResult, error)

// JobQueue consumes queued classification jobs and delivers their replies.
type JobQueue interface {
	SubscribeClassifyJobs(ctx context.Context, handler ClassifyJobHandler) error
}

// ProviderRegistry resolves providers by name. An empty name selects the
// deployment default.
type ProviderRegistry interface {
	Provider(name string) (LLMProvider, error)
	DefaultName() string
	Names() []string
}

// ProviderCallPolicy runs one provider call under retry and circuit-breaking
// rules. call may be invoked more than once.
type ProviderCallPolicy interface {
	Do(ctx context.Context, provider string, call func(context.Context) error) error
}
