package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
	"github.com/kirillkom/marketplace-categorizer/internal/core/ports"
)

// Outcome is the reconciled answer of one provider call. Leaf is nil unless
// Status is MATCHED.
type Outcome struct {
	Status     domain.ClassificationStatus
	Leaf       *domain.LeafCategory
	Confidence *float64
	Reason     string
	Parser     string
}

func unmapped(reason, parser string) Outcome {
	return Outcome{Status: domain.StatusUnmapped, Reason: reason, Parser: parser}
}

type Reconciler struct {
	parsers  []Parser
	recorder ports.ClassificationRecorder
}

// NewReconciler uses DefaultParsers when none are given. recorder may be nil.
func NewReconciler(recorder ports.ClassificationRecorder, parsers ...Parser) *Reconciler {
	if len(parsers) == 0 {
		parsers = DefaultParsers()
	}
	return &Reconciler{parsers: parsers, recorder: recorder}
}

// Reconcile sends prompt to provider exactly once and maps the response onto
// one of candidates. Malformed or out-of-set answers yield UNMAPPED; only a
// failed call returns an error, always a *domain.ProviderError.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	provider ports.LLMProvider,
	prompt string,
	candidates []domain.LeafCategory,
	opts domain.PromptOptions,
) (Outcome, error) {
	started := time.Now()
	raw, err := provider.SendPrompt(ctx, prompt, opts)
	if err != nil {
		r.observeCall(provider.Name(), "error", time.Since(started))
		return Outcome{}, asProviderError(provider.Name(), err)
	}
	r.observeCall(provider.Name(), "ok", time.Since(started))

	out := r.Resolve(raw, candidates)
	if r.recorder != nil && out.Parser != "" {
		r.recorder.ObserveParseStrategy(out.Parser)
	}
	if out.Status == domain.StatusUnmapped {
		slog.Info("provider_answer_unmapped",
			"provider", provider.Name(),
			"reason", out.Reason,
			"parser", out.Parser,
			"response_chars", len(raw),
		)
	}
	return out, nil
}

// Resolve runs the parser chain over raw and validates the selection.
func (r *Reconciler) Resolve(raw string, candidates []domain.LeafCategory) Outcome {
	if strings.TrimSpace(raw) == "" {
		return unmapped(domain.ReasonEmptyResponse, "")
	}

	var (
		sel    Selection
		parser string
	)
	for _, p := range r.parsers {
		if s, ok := p.Parse(raw); ok {
			sel, parser = s, p.Name()
			break
		}
	}
	if parser == "" {
		return unmapped(domain.ReasonUnparseable, "none")
	}

	leaf, reason := match(sel, candidates)
	if leaf == nil {
		return unmapped(reason, parser)
	}
	return Outcome{
		Status:     domain.StatusMatched,
		Leaf:       leaf,
		Confidence: clampConfidence(sel.Confidence),
		Parser:     parser,
	}
}

// match accepts an id only if it is a candidate. Without an id, a name that
// matches exactly one candidate case-insensitively is accepted.
func match(sel Selection, candidates []domain.LeafCategory) (*domain.LeafCategory, string) {
	if sel.ID != "" {
		for i := range candidates {
			if candidates[i].ID == sel.ID {
				leaf := candidates[i]
				return &leaf, ""
			}
		}
		return nil, domain.ReasonNotACandidate
	}

	var found *domain.LeafCategory
	for i := range candidates {
		if !strings.EqualFold(candidates[i].Name, sel.Name) {
			continue
		}
		if found != nil {
			return nil, domain.ReasonAmbiguousName
		}
		leaf := candidates[i]
		found = &leaf
	}
	if found == nil {
		return nil, domain.ReasonNotACandidate
	}
	return found, ""
}

// clampConfidence reads values in (1, 100] as percentages and clamps the
// result to [0, 1].
func clampConfidence(c *float64) *float64 {
	if c == nil {
		return nil
	}
	v := *c
	if v > 1 && v <= 100 {
		v /= 100
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return &v
}

func asProviderError(provider string, err error) error {
	if perr, ok := domain.AsProviderError(err); ok {
		if perr.Provider == "" {
			perr.Provider = provider
		}
		return perr
	}
	return &domain.ProviderError{
		Provider:  provider,
		Operation: "send_prompt",
		Retryable: errors.Is(err, context.DeadlineExceeded) || domain.IsKind(err, domain.ErrTemporary),
		Err:       err,
	}
}

func (r *Reconciler) observeCall(provider, outcome string, d time.Duration) {
	if r.recorder != nil {
		r.recorder.ObserveProviderCall(provider, outcome, d)
	}
}
