package ports

import (
	"context"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
)

// ProductClassifier is the inbound contract for category mapping.
type ProductClassifier interface {
	Classify(ctx context.Context, req domain.ClassifyRequest) (*domain.ClassificationResult, error)
	ClassifyAll(ctx context.Context, req domain.ClassifyRequest) ([]domain.ClassificationResult, error)
}

// MarketplaceCatalog is the inbound read model over loaded taxonomies.
type MarketplaceCatalog interface {
	Marketplaces() []domain.MarketplaceSummary
	Taxonomy(marketplace string) (*domain.Taxonomy, error)
	// Taxonomies returns every loaded taxonomy in registry order, all taken
	// from the same snapshot.
	Taxonomies() []*domain.Taxonomy
}

// TaxonomyReloader re-reads every marketplace taxonomy and swaps them in atomically.
type TaxonomyReloader interface {
	Reload(ctx context.Context) error
}
