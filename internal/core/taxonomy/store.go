package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
	"github.com/kirillkom/marketplace-categorizer/internal/core/ports"
)

type StoreOptions struct {
	// Strict aborts a reload on the first marketplace that fails to load.
	// Otherwise failing marketplaces are skipped and logged.
	Strict bool
	// LoadConcurrency bounds parallel taxonomy reads during a reload.
	LoadConcurrency int
}

// Store holds the loaded taxonomies of every marketplace. Readers always see a
// complete snapshot; Reload builds a new one and swaps it in atomically.
type Store struct {
	source ports.TaxonomySource
	opts   StoreOptions

	current  atomic.Pointer[snapshot]
	revision atomic.Uint64
	reloads  singleflight.Group
}

type snapshot struct {
	order  []string
	byName map[string]*domain.Taxonomy
}

func NewStore(source ports.TaxonomySource, opts StoreOptions) *Store {
	if opts.LoadConcurrency <= 0 {
		opts.LoadConcurrency = 4
	}
	s := &Store{source: source, opts: opts}
	s.current.Store(&snapshot{byName: map[string]*domain.Taxonomy{}})
	return s
}

// Reload reads every marketplace from the source. Concurrent callers share one
// reload.
func (s *Store) Reload(ctx context.Context) error {
	_, err, _ := s.reloads.Do("reload", func() (any, error) {
		return nil, s.reload(ctx)
	})
	return err
}

func (s *Store) reload(ctx context.Context) error {
	specs, err := s.source.ListMarketplaces(ctx)
	if err != nil {
		return domain.WrapError(domain.ErrTaxonomyLoad, "list marketplaces", err)
	}

	revision := s.revision.Load() + 1
	loaded := make([]*domain.Taxonomy, len(specs))
	failures := make([]error, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.LoadConcurrency)
	for i, spec := range specs {
		g.Go(func() error {
			tax, err := s.loadOne(gctx, spec, revision)
			if err != nil {
				if s.opts.Strict || errors.Is(err, context.Canceled) {
					return err
				}
				failures[i] = err
				return nil
			}
			loaded[i] = tax
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	next := &snapshot{byName: make(map[string]*domain.Taxonomy, len(specs))}
	for i, tax := range loaded {
		if failures[i] != nil {
			slog.Warn("taxonomy_load_skipped", "marketplace", specs[i].Name, "error", failures[i])
			continue
		}
		key := lookupKey(tax.Marketplace)
		if _, dup := next.byName[key]; dup {
			dupErr := domain.WrapError(domain.ErrTaxonomyLoad, "load taxonomy "+tax.Marketplace, errors.New("duplicate marketplace name"))
			if s.opts.Strict {
				return dupErr
			}
			slog.Warn("taxonomy_load_skipped", "marketplace", tax.Marketplace, "error", dupErr)
			continue
		}
		next.byName[key] = tax
		next.order = append(next.order, tax.Marketplace)
	}

	s.revision.Store(revision)
	s.current.Store(next)
	slog.Info("taxonomy_reloaded", "revision", revision, "marketplaces", len(next.order))
	return nil
}

func (s *Store) loadOne(ctx context.Context, spec domain.MarketplaceSpec, revision uint64) (*domain.Taxonomy, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, domain.WrapError(domain.ErrTaxonomyLoad, "load taxonomy", errors.New("marketplace without name"))
	}
	spec.Name = name

	doc, err := s.source.ReadTaxonomy(ctx, spec)
	if err != nil {
		if domain.IsKind(err, domain.ErrTaxonomyLoad) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrTaxonomyLoad, "read taxonomy "+name, err)
	}
	leaves, err := Load(spec, doc)
	if err != nil {
		return nil, err
	}
	return &domain.Taxonomy{
		Marketplace: name,
		Revision:    revision,
		Leaves:      leaves,
	}, nil
}

// Taxonomy returns the loaded taxonomy of a marketplace. Lookup is
// case-insensitive. The returned value is shared and must not be modified.
func (s *Store) Taxonomy(marketplace string) (*domain.Taxonomy, error) {
	snap := s.current.Load()
	tax, ok := snap.byName[lookupKey(marketplace)]
	if !ok {
		return nil, domain.WrapError(domain.ErrUnknownMarketplace, "lookup taxonomy", fmt.Errorf("marketplace %q", marketplace))
	}
	return tax, nil
}

// Names returns marketplace names in registry order.
func (s *Store) Names() []string {
	snap := s.current.Load()
	out := make([]string, len(snap.order))
	copy(out, snap.order)
	return out
}

func (s *Store) Taxonomies() []*domain.Taxonomy {
	snap := s.current.Load()
	out := make([]*domain.Taxonomy, 0, len(snap.order))
	for _, name := range snap.order {
		out = append(out, snap.byName[lookupKey(name)])
	}
	return out
}

func (s *Store) Marketplaces() []domain.MarketplaceSummary {
	snap := s.current.Load()
	out := make([]domain.MarketplaceSummary, 0, len(snap.order))
	for _, name := range snap.order {
		tax := snap.byName[lookupKey(name)]
		out = append(out, domain.MarketplaceSummary{
			Name:     tax.Marketplace,
			Leaves:   len(tax.Leaves),
			Revision: tax.Revision,
		})
	}
	return out
}

func lookupKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
