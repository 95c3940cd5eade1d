package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
	"github.com/kirillkom/marketplace-categorizer/internal/core/ports"
	"github.com/kirillkom/marketplace-categorizer/internal/core/product"
	"github.com/kirillkom/marketplace-categorizer/internal/core/prompt"
	"github.com/kirillkom/marketplace-categorizer/internal/core/reconcile"
	"github.com/kirillkom/marketplace-categorizer/internal/core/shortlist"
	"github.com/kirillkom/marketplace-categorizer/internal/core/taxonomy"
)

type fakeCatalog struct {
	taxonomies []*domain.Taxonomy
}

func (c *fakeCatalog) Marketplaces() []domain.MarketplaceSummary {
	out := make([]domain.MarketplaceSummary, 0, len(c.taxonomies))
	for _, tax := range c.taxonomies {
		out = append(out, domain.MarketplaceSummary{Name: tax.Marketplace, Leaves: len(tax.Leaves)})
	}
	return out
}

func (c *fakeCatalog) Taxonomies() []*domain.Taxonomy { return c.taxonomies }

func (c *fakeCatalog) Taxonomy(marketplace string) (*domain.Taxonomy, error) {
	for _, tax := range c.taxonomies {
		if strings.EqualFold(tax.Marketplace, marketplace) {
			return tax, nil
		}
	}
	return nil, domain.WrapError(domain.ErrUnknownMarketplace, "lookup taxonomy", fmt.Errorf("marketplace %q", marketplace))
}

// echoProvider answers with the first listed candidate whose name appears in
// the prompt as "name=<want>".
type echoProvider struct {
	name  string
	want  string
	calls atomic.Int32
	err   error
	delay time.Duration

	mu      sync.Mutex
	prompts []string
}

func (p *echoProvider) Name() string { return p.name }

func (p *echoProvider) SendPrompt(ctx context.Context, text string, _ domain.PromptOptions) (string, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.prompts = append(p.prompts, text)
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.delay):
		}
	}
	if p.err != nil {
		return "", p.err
	}
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(line, "name="+p.want+" |") {
			continue
		}
		id := strings.TrimPrefix(strings.Fields(line)[1], "id=")
		return fmt.Sprintf(`Sure: {"category_id": %q, "category_name": %q, "confidence": 0.9}`, id, p.want), nil
	}
	return "no idea", nil
}

type fakeRegistry struct {
	providers map[string]ports.LLMProvider
	def       string
}

func (r *fakeRegistry) Provider(name string) (ports.LLMProvider, error) {
	if name == "" {
		name = r.def
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "select provider", fmt.Errorf("unknown provider %q", name))
	}
	return p, nil
}

func (r *fakeRegistry) DefaultName() string { return r.def }

func (r *fakeRegistry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	return out
}

type retryPolicy struct {
	attempts int
	calls    atomic.Int32
}

func (p *retryPolicy) Do(ctx context.Context, _ string, call func(context.Context) error) error {
	var err error
	for i := 0; i < p.attempts; i++ {
		p.calls.Add(1)
		if err = call(ctx); err == nil {
			return nil
		}
	}
	return err
}

func acmeTaxonomy() *domain.Taxonomy {
	return &domain.Taxonomy{
		Marketplace: "acme",
		Revision:    1,
		Leaves: []domain.LeafCategory{
			{ID: "111", Name: "Trail Running", Path: []string{"Footwear", "Outdoor", "Trail Running"}, Depth: 3},
			{ID: "112", Name: "Hiking Boots", Path: []string{"Footwear", "Outdoor", "Hiking Boots"}, Depth: 3},
			{ID: "12", Name: "Sandals", Path: []string{"Footwear", "Sandals"}, Depth: 2},
			{ID: "21", Name: "Mice", Path: []string{"Electronics", "Mice"}, Depth: 2},
		},
	}
}

func trailShoePayload() map[string]any {
	return map[string]any{
		"name":        "Trail Running Shoe",
		"brand":       "Acme",
		"description": "Waterproof trail shoe",
	}
}

func newUseCase(catalog ports.MarketplaceCatalog, provider ports.LLMProvider, policy ports.ProviderCallPolicy, opts Options) *ClassifyUseCase {
	return NewClassifyUseCase(
		catalog,
		product.NewNormalizer(domain.DefaultFieldAliases(), product.Limits{}),
		shortlist.New(3, shortlist.DefaultWeights(), nil),
		prompt.NewBuilder("", 0),
		reconcile.NewReconciler(nil),
		&fakeRegistry{providers: map[string]ports.LLMProvider{provider.Name(): provider}, def: provider.Name()},
		policy,
		nil,
		opts,
	)
}

func TestClassifyEndToEndTrailRunning(t *testing.T) {
	provider := &echoProvider{name: "echo", want: "Trail Running"}
	uc := newUseCase(&fakeCatalog{taxonomies: []*domain.Taxonomy{acmeTaxonomy()}}, provider, nil, Options{})

	res, err := uc.Classify(context.Background(), domain.ClassifyRequest{Marketplace: "acme", Product: trailShoePayload()})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Status != domain.StatusMatched || res.CategoryID != "111" || res.CategoryName != "Trail Running" {
		t.Fatalf("expected MATCHED 111, got %+v", res)
	}
	if res.CategoryPath != "Footwear > Outdoor > Trail Running" {
		t.Fatalf("unexpected path %q", res.CategoryPath)
	}
	if res.Provider != "echo" {
		t.Fatalf("unexpected provider %q", res.Provider)
	}
	if res.Confidence != nil {
		t.Fatalf("confidence returned without being requested")
	}
	if len(res.CandidatesConsidered) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(res.CandidatesConsidered))
	}
	top := res.CandidatesConsidered[0]
	if top.Leaf.ID != "111" || top.Score <= 0 {
		t.Fatalf("expected trail running shortlisted first with a score, got %+v", top)
	}
	if got := provider.calls.Load(); got != 1 {
		t.Fatalf("expected one provider call, got %d", got)
	}
}

func TestClassifyReturnsConfidenceWhenAsked(t *testing.T) {
	provider := &echoProvider{name: "echo", want: "Trail Running"}
	uc := newUseCase(&fakeCatalog{taxonomies: []*domain.Taxonomy{acmeTaxonomy()}}, provider, nil, Options{})

	res, err := uc.Classify(context.Background(), domain.ClassifyRequest{
		Marketplace:       "acme",
		Product:           trailShoePayload(),
		IncludeConfidence: true,
	})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Confidence == nil || *res.Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %v", res.Confidence)
	}
	if !strings.Contains(provider.prompts[0], `"confidence"`) {
		t.Fatalf("prompt does not ask for confidence")
	}
}

func TestClassifyEmptyTaxonomySkipsProvider(t *testing.T) {
	provider := &echoProvider{name: "echo", want: "anything"}
	empty := &domain.Taxonomy{Marketplace: "empty", Revision: 1}
	uc := newUseCase(&fakeCatalog{taxonomies: []*domain.Taxonomy{empty}}, provider, nil, Options{})

	res, err := uc.Classify(context.Background(), domain.ClassifyRequest{Marketplace: "empty", Product: trailShoePayload()})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Status != domain.StatusUnmapped || res.Reason != domain.ReasonEmptyShortlist {
		t.Fatalf("expected UNMAPPED empty_shortlist, got %+v", res)
	}
	if res.CategoryID != "" || res.CategoryName != "" {
		t.Fatalf("expected empty category on UNMAPPED, got %+v", res)
	}
	if got := provider.calls.Load(); got != 0 {
		t.Fatalf("expected zero provider calls, got %d", got)
	}
}

func TestClassifyUnknownMarketplace(t *testing.T) {
	provider := &echoProvider{name: "echo"}
	uc := newUseCase(&fakeCatalog{taxonomies: []*domain.Taxonomy{acmeTaxonomy()}}, provider, nil, Options{})

	res, err := uc.Classify(context.Background(), domain.ClassifyRequest{Marketplace: "ebay", Product: trailShoePayload()})
	if !domain.IsKind(err, domain.ErrUnknownMarketplace) {
		t.Fatalf("expected ErrUnknownMarketplace, got %v (%+v)", err, res)
	}
	if provider.calls.Load() != 0 {
		t.Fatalf("provider called for unknown marketplace")
	}
}

func TestClassifyInvalidInputs(t *testing.T) {
	provider := &echoProvider{name: "echo"}
	uc := newUseCase(&fakeCatalog{taxonomies: []*domain.Taxonomy{acmeTaxonomy()}}, provider, nil, Options{})

	_, err := uc.Classify(context.Background(), domain.ClassifyRequest{Marketplace: "acme", Product: map[string]any{"desc": "x"}})
	if !domain.IsKind(err, domain.ErrProductValidation) {
		t.Fatalf("expected ErrProductValidation, got %v", err)
	}
	_, err = uc.Classify(context.Background(), domain.ClassifyRequest{Marketplace: "acme", Product: trailShoePayload(), Provider: "nope"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown provider, got %v", err)
	}
	_, err = uc.Classify(context.Background(), domain.ClassifyRequest{Product: trailShoePayload()})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing marketplace, got %v", err)
	}
}

func TestClassifyMalformedAnswerIsUnmapped(t *testing.T) {
	provider := &echoProvider{name: "echo", want: "Not Listed"}
	uc := newUseCase(&fakeCatalog{taxonomies: []*domain.Taxonomy{acmeTaxonomy()}}, provider, nil, Options{})

	res, err := uc.Classify(context.Background(), domain.ClassifyRequest{Marketplace: "acme", Product: trailShoePayload()})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Status != domain.StatusUnmapped || res.Reason != domain.ReasonUnparseable {
		t.Fatalf("expected UNMAPPED unparseable, got %+v", res)
	}
	if len(res.CandidatesConsidered) == 0 {
		t.Fatalf("expected candidates on UNMAPPED result")
	}
}

func TestClassifyProviderTimeoutSurfacesProviderError(t *testing.T) {
	provider := &echoProvider{name: "slow", want: "Trail Running", delay: time.Second}
	uc := newUseCase(&fakeCatalog{taxonomies: []*domain.Taxonomy{acmeTaxonomy()}}, provider, nil, Options{
		ProviderTimeout: 10 * time.Millisecond,
	})

	started := time.Now()
	_, err := uc.Classify(context.Background(), domain.ClassifyRequest{Marketplace: "acme", Product: trailShoePayload()})
	perr, ok := domain.AsProviderError(err)
	if !ok {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if !perr.Retryable || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected retryable deadline error, got %+v", perr)
	}
	if time.Since(started) > 500*time.Millisecond {
		t.Fatalf("timeout did not abort the provider call")
	}
}

func TestClassifyUnmappedFailureMode(t *testing.T) {
	provider := &echoProvider{name: "down", err: errors.New("connection refused")}
	uc := newUseCase(&fakeCatalog{taxonomies: []*domain.Taxonomy{acmeTaxonomy()}}, provider, nil, Options{
		FailureMode: FailureModeUnmapped,
	})

	res, err := uc.Classify(context.Background(), domain.ClassifyRequest{Marketplace: "acme", Product: trailShoePayload()})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Status != domain.StatusUnmapped || res.Reason != domain.ReasonProviderDegraded {
		t.Fatalf("expected degraded UNMAPPED, got %+v", res)
	}
}

func TestClassifyRetriesThroughPolicy(t *testing.T) {
	provider := &echoProvider{name: "flaky", err: domain.WrapError(domain.ErrTemporary, "send", errors.New("503"))}
	policy := &retryPolicy{attempts: 3}
	uc := newUseCase(&fakeCatalog{taxonomies: []*domain.Taxonomy{acmeTaxonomy()}}, provider, policy, Options{})

	_, err := uc.Classify(context.Background(), domain.ClassifyRequest{Marketplace: "acme", Product: trailShoePayload()})
	if !domain.IsKind(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	if policy.calls.Load() != 3 || provider.calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got policy=%d provider=%d", policy.calls.Load(), provider.calls.Load())
	}
}

func TestClassifyCancellationAbortsProviderCall(t *testing.T) {
	provider := &echoProvider{name: "slow", want: "Trail Running", delay: time.Second}
	uc := newUseCase(&fakeCatalog{taxonomies: []*domain.Taxonomy{acmeTaxonomy()}}, provider, nil, Options{
		FailureMode: FailureModeUnmapped,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := uc.Classify(ctx, domain.ClassifyRequest{Marketplace: "acme", Product: trailShoePayload()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to surface, got %v", err)
	}
}

func TestClassifyAllKeepsRegistryOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	second := &domain.Taxonomy{
		Marketplace: "bandq",
		Revision:    1,
		Leaves: []domain.LeafCategory{
			{ID: "B-7", Name: "Trail Running", Path: []string{"Sport", "Running", "Trail Running"}, Depth: 3},
			{ID: "B-8", Name: "Spades", Path: []string{"Garden", "Spades"}, Depth: 2},
		},
	}
	empty := &domain.Taxonomy{Marketplace: "empty", Revision: 1}
	provider := &echoProvider{name: "echo", want: "Trail Running"}
	uc := newUseCase(&fakeCatalog{taxonomies: []*domain.Taxonomy{acmeTaxonomy(), second, empty}}, provider, nil, Options{
		ClassifyAllConcurrency: 2,
	})

	results, err := uc.ClassifyAll(context.Background(), domain.ClassifyRequest{Product: trailShoePayload()})
	if err != nil {
		t.Fatalf("ClassifyAll() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	want := []struct {
		marketplace string
		id          string
		status      domain.ClassificationStatus
	}{
		{"acme", "111", domain.StatusMatched},
		{"bandq", "B-7", domain.StatusMatched},
		{"empty", "", domain.StatusUnmapped},
	}
	for i, w := range want {
		if results[i].Marketplace != w.marketplace || results[i].CategoryID != w.id || results[i].Status != w.status {
			t.Fatalf("result %d = %+v, want %+v", i, results[i], w)
		}
	}
	if got := provider.calls.Load(); got != 2 {
		t.Fatalf("expected 2 provider calls, got %d", got)
	}
}

func TestClassifyAllWithMarketplaceNarrowsToOne(t *testing.T) {
	provider := &echoProvider{name: "echo", want: "Trail Running"}
	uc := newUseCase(&fakeCatalog{taxonomies: []*domain.Taxonomy{acmeTaxonomy()}}, provider, nil, Options{})

	results, err := uc.ClassifyAll(context.Background(), domain.ClassifyRequest{Marketplace: "ACME", Product: trailShoePayload()})
	if err != nil {
		t.Fatalf("ClassifyAll() error = %v", err)
	}
	if len(results) != 1 || results[0].CategoryID != "111" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestShortlistDoesNotCallProvider(t *testing.T) {
	provider := &echoProvider{name: "echo"}
	uc := newUseCase(&fakeCatalog{taxonomies: []*domain.Taxonomy{acmeTaxonomy()}}, provider, nil, Options{})

	cands, err := uc.Shortlist("acme", trailShoePayload(), 2)
	if err != nil {
		t.Fatalf("Shortlist() error = %v", err)
	}
	if len(cands) != 2 || cands[0].Leaf.ID != "111" {
		t.Fatalf("unexpected shortlist: %+v", cands)
	}
	if provider.calls.Load() != 0 {
		t.Fatalf("shortlist called the provider")
	}
}

type reloadableSource struct {
	mu    sync.Mutex
	names []string
	docs  map[string]any
}

func (s *reloadableSource) setMarketplaces(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = names
}

func (s *reloadableSource) ListMarketplaces(context.Context) ([]domain.MarketplaceSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MarketplaceSpec, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, domain.MarketplaceSpec{Name: name})
	}
	return out, nil
}

func (s *reloadableSource) ReadTaxonomy(_ context.Context, spec domain.MarketplaceSpec) (any, error) {
	return s.docs[spec.Name], nil
}

// gatedProvider holds its first call until release is closed.
type gatedProvider struct {
	*echoProvider
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (p *gatedProvider) SendPrompt(ctx context.Context, text string, opts domain.PromptOptions) (string, error) {
	p.once.Do(func() { close(p.entered) })
	select {
	case <-p.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return p.echoProvider.SendPrompt(ctx, text, opts)
}

func TestClassifyAllUsesOneSnapshotAcrossReload(t *testing.T) {
	source := &reloadableSource{docs: map[string]any{
		"a": []any{map[string]any{"id": "a1", "name": "Trail Running"}},
		"b": []any{map[string]any{"id": "b1", "name": "Trail Running"}},
	}}
	source.setMarketplaces("a", "b")
	store := taxonomy.NewStore(source, taxonomy.StoreOptions{})
	if err := store.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	provider := &gatedProvider{
		echoProvider: &echoProvider{name: "echo", want: "Trail Running"},
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	uc := newUseCase(store, provider, nil, Options{ClassifyAllConcurrency: 1, ProviderTimeout: 5 * time.Second})

	type outcome struct {
		results []domain.ClassificationResult
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		results, err := uc.ClassifyAll(context.Background(), domain.ClassifyRequest{Product: trailShoePayload()})
		done <- outcome{results, err}
	}()

	<-provider.entered
	source.setMarketplaces("a")
	if err := store.Reload(context.Background()); err != nil {
		close(provider.release)
		t.Fatalf("second Reload() error = %v", err)
	}
	if _, err := store.Taxonomy("b"); !domain.IsKind(err, domain.ErrUnknownMarketplace) {
		close(provider.release)
		t.Fatalf("expected b to be gone after reload, got %v", err)
	}
	close(provider.release)

	out := <-done
	if out.err != nil {
		t.Fatalf("ClassifyAll() error = %v", out.err)
	}
	if len(out.results) != 2 {
		t.Fatalf("expected results for both marketplaces, got %+v", out.results)
	}
	if out.results[1].Marketplace != "b" || out.results[1].CategoryID != "b1" || !out.results[1].Matched() {
		t.Fatalf("unexpected result for b: %+v", out.results[1])
	}
}
