package prompt

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
	"github.com/kirillkom/marketplace-categorizer/internal/core/product"
)

const DefaultCharBudget = 12000

const (
	placeholderProduct      = "{{product}}"
	placeholderCandidates   = "{{candidates}}"
	placeholderOutputFormat = "{{output_format}}"
	placeholderMarketplace  = "{{marketplace}}"
)

// DefaultTemplate is used when no template file is configured.
const DefaultTemplate = `You are a product categorization assistant for the {{marketplace}} marketplace.
Pick the single most specific category for the product below.

## Product
{{product}}

## Candidate categories
{{candidates}}

## Output
{{output_format}}
`

type Request struct {
	Marketplace       string
	Product           domain.ProductRecord
	Candidates        []domain.ScoredCandidate
	IncludeConfidence bool
}

// Prompt is a rendered prompt and the candidates it lists. Only these
// candidates are valid answers.
type Prompt struct {
	Text       string
	Candidates []domain.LeafCategory
}

type Builder struct {
	template string
	budget   int
}

// NewBuilder treats template as opaque text. Placeholders it lacks are
// appended as labeled sections.
func NewBuilder(template string, charBudget int) *Builder {
	if strings.TrimSpace(template) == "" {
		template = DefaultTemplate
	}
	if charBudget <= 0 {
		charBudget = DefaultCharBudget
	}
	return &Builder{template: completeTemplate(template), budget: charBudget}
}

// Build renders the prompt within the character budget. Over budget it
// shortens the description, then drops attributes, then drops the
// lowest-ranked candidates, keeping at least one.
func (b *Builder) Build(req Request) (Prompt, error) {
	const op = "build prompt"
	if len(req.Candidates) == 0 {
		return Prompt{}, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("no candidates"))
	}

	prod := req.Product
	cands := req.Candidates

	text := b.render(req.Marketplace, prod, cands, req.IncludeConfidence)
	if over := utf8.RuneCountInString(text) - b.budget; over > 0 && prod.Description != "" {
		keep := utf8.RuneCountInString(prod.Description) - over
		if keep <= 0 {
			prod.Description = ""
		} else {
			prod.Description = product.TruncateAtSpace(prod.Description, keep)
		}
		text = b.render(req.Marketplace, prod, cands, req.IncludeConfidence)
	}
	if utf8.RuneCountInString(text) > b.budget && len(prod.Attributes) > 0 {
		prod.Attributes = nil
		text = b.render(req.Marketplace, prod, cands, req.IncludeConfidence)
	}
	for utf8.RuneCountInString(text) > b.budget && len(cands) > 1 {
		cands = cands[:len(cands)-1]
		text = b.render(req.Marketplace, prod, cands, req.IncludeConfidence)
	}
	if n := utf8.RuneCountInString(text); n > b.budget {
		return Prompt{}, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("prompt needs %d chars, budget is %d", n, b.budget))
	}

	leaves := make([]domain.LeafCategory, 0, len(cands))
	for _, c := range cands {
		leaves = append(leaves, c.Leaf)
	}
	return Prompt{Text: text, Candidates: leaves}, nil
}

func (b *Builder) render(marketplace string, p domain.ProductRecord, cands []domain.ScoredCandidate, confidence bool) string {
	r := strings.NewReplacer(
		placeholderMarketplace, marketplace,
		placeholderProduct, productBlock(p),
		placeholderCandidates, candidateList(cands),
		placeholderOutputFormat, outputFormat(confidence),
	)
	return r.Replace(b.template)
}

func completeTemplate(tpl string) string {
	sections := []struct {
		placeholder string
		title       string
	}{
		{placeholderProduct, "Product"},
		{placeholderCandidates, "Candidate categories"},
		{placeholderOutputFormat, "Output"},
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(tpl, "\n"))
	for _, s := range sections {
		if strings.Contains(tpl, s.placeholder) {
			continue
		}
		fmt.Fprintf(&b, "\n\n## %s\n%s", s.title, s.placeholder)
	}
	b.WriteString("\n")
	return b.String()
}

func productBlock(p domain.ProductRecord) string {
	var b strings.Builder
	line := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%s: %s\n", label, value)
	}
	line("Name", p.Name)
	line("Brand", p.Brand)
	line("SKU", p.SKU)
	line("Description", p.Description)
	if len(p.Attributes) > 0 {
		keys := make([]string, 0, len(p.Attributes))
		for k := range p.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Attributes:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  - %s: %s\n", k, p.Attributes[k])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func candidateList(cands []domain.ScoredCandidate) string {
	lines := make([]string, 0, len(cands))
	for _, c := range cands {
		lines = append(lines, fmt.Sprintf("- id=%s | name=%s | path=%s", c.Leaf.ID, c.Leaf.Name, c.Leaf.PathString()))
	}
	return strings.Join(lines, "\n")
}

func outputFormat(confidence bool) string {
	shape := `{"category_id": "<id>", "category_name": "<name>"}`
	if confidence {
		shape = `{"category_id": "<id>", "category_name": "<name>", "confidence": <number between 0 and 1>}`
	}
	return "Choose exactly one category from the candidate list above. Use its id and name verbatim; never invent an id.\n" +
		"Reply with a single JSON object and nothing else:\n" + shape
}
