package prompt

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
)

func candidates(n int) []domain.ScoredCandidate {
	out := make([]domain.ScoredCandidate, 0, n)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		out = append(out, domain.ScoredCandidate{
			Leaf: domain.LeafCategory{
				ID:    "cat-" + id,
				Name:  "Leaf " + id,
				Path:  []string{"Root Group", "Branch", "Leaf " + id},
				Depth: 3,
			},
			Score: float64(n - i),
		})
	}
	return out
}

func shoe() domain.ProductRecord {
	return domain.ProductRecord{
		SKU:         "SKU-1",
		Name:        "Trail Running Shoe",
		Brand:       "Acme",
		Description: "Waterproof trail shoe with a grippy outsole",
		Attributes:  map[string]string{"size": "42", "color": "blue"},
	}
}

func TestBuildEmbedsProductCandidatesAndFormat(t *testing.T) {
	b := NewBuilder("", 0)
	p, err := b.Build(Request{Marketplace: "acme", Product: shoe(), Candidates: candidates(2)})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	for _, want := range []string{
		"acme marketplace",
		"Name: Trail Running Shoe",
		"Brand: Acme",
		"SKU: SKU-1",
		"Description: Waterproof trail shoe with a grippy outsole",
		"  - color: blue\n  - size: 42",
		"- id=cat-a | name=Leaf a | path=Root Group > Branch > Leaf a",
		"- id=cat-b | name=Leaf b | path=Root Group > Branch > Leaf b",
		`"category_id"`,
		`"category_name"`,
	} {
		if !strings.Contains(p.Text, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p.Text)
		}
	}
	if strings.Contains(p.Text, "confidence") {
		t.Fatalf("confidence requested without IncludeConfidence")
	}
	if len(p.Candidates) != 2 || p.Candidates[0].ID != "cat-a" {
		t.Fatalf("unexpected prompt candidates: %+v", p.Candidates)
	}
}

func TestBuildAsksForConfidenceWhenRequested(t *testing.T) {
	p, err := NewBuilder("", 0).Build(Request{Product: shoe(), Candidates: candidates(1), IncludeConfidence: true})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(p.Text, `"confidence"`) {
		t.Fatalf("expected confidence in output format:\n%s", p.Text)
	}
}

func TestBuildAppendsMissingPlaceholders(t *testing.T) {
	p, err := NewBuilder("Classify this item for {{marketplace}}.", 0).Build(Request{
		Marketplace: "bandq",
		Product:     shoe(),
		Candidates:  candidates(1),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.HasPrefix(p.Text, "Classify this item for bandq.") {
		t.Fatalf("template text not kept:\n%s", p.Text)
	}
	for _, section := range []string{"## Product", "## Candidate categories", "## Output"} {
		if !strings.Contains(p.Text, section) {
			t.Fatalf("expected appended section %q:\n%s", section, p.Text)
		}
	}
}

func TestBuildDoesNotExpandPlaceholdersInProductText(t *testing.T) {
	prod := shoe()
	prod.Description = "literal {{candidates}} text"
	p, err := NewBuilder("", 0).Build(Request{Product: prod, Candidates: candidates(1)})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(p.Text, "literal {{candidates}} text") {
		t.Fatalf("product text was rewritten:\n%s", p.Text)
	}
}

func TestBuildShrinksDescriptionFirst(t *testing.T) {
	prod := shoe()
	prod.Description = strings.Repeat("lorem ipsum ", 200)
	full, err := NewBuilder("", 100000).Build(Request{Product: shoe(), Candidates: candidates(3)})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	budget := utf8.RuneCountInString(full.Text) + 50

	p, err := NewBuilder("", budget).Build(Request{Product: prod, Candidates: candidates(3)})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if n := utf8.RuneCountInString(p.Text); n > budget {
		t.Fatalf("prompt has %d chars, budget %d", n, budget)
	}
	if len(p.Candidates) != 3 {
		t.Fatalf("expected all candidates kept, got %d", len(p.Candidates))
	}
	if !strings.Contains(p.Text, "size: 42") {
		t.Fatalf("attributes dropped before description was exhausted")
	}
	if strings.Contains(p.Text, "ipsu\n") || strings.Contains(p.Text, "lor\n") {
		t.Fatalf("description cut mid-word:\n%s", p.Text)
	}
}

func TestBuildDropsLowestRankedCandidates(t *testing.T) {
	base, err := NewBuilder("", 100000).Build(Request{Product: domain.ProductRecord{Name: "X"}, Candidates: candidates(2)})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	budget := utf8.RuneCountInString(base.Text)

	p, err := NewBuilder("", budget).Build(Request{Product: domain.ProductRecord{Name: "X"}, Candidates: candidates(6)})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(p.Candidates) != 2 {
		t.Fatalf("expected 2 candidates within budget, got %d", len(p.Candidates))
	}
	if p.Candidates[0].ID != "cat-a" || p.Candidates[1].ID != "cat-b" {
		t.Fatalf("expected highest ranked kept, got %+v", p.Candidates)
	}
	if strings.Contains(p.Text, "cat-c") {
		t.Fatalf("dropped candidate still listed")
	}
}

func TestBuildFailsWhenBudgetCannotBeMet(t *testing.T) {
	_, err := NewBuilder("", 20).Build(Request{Product: shoe(), Candidates: candidates(2)})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestBuildRejectsEmptyShortlist(t *testing.T) {
	_, err := NewBuilder("", 0).Build(Request{Product: shoe()})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
