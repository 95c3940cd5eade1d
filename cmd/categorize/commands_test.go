package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
)

const sampleProduct = "../../data/samples/trail_runner.json"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(append([]string{"--data-dir", "../../data"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"MARKETPLACES_FILE", "PROMPT_FILE", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "SHORTLIST_K"} {
		t.Setenv(key, "")
	}
	t.Setenv("MODEL_PROVIDER", "ollama")
}

func TestMarketplacesListsSampleData(t *testing.T) {
	isolateEnv(t)

	out, err := run(t, "marketplaces")
	if err != nil {
		t.Fatalf("marketplaces error = %v", err)
	}
	for _, want := range []string{"Marketplace A", "Marketplace B", "Marketplace C"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestLeavesPrintsFlattenedPaths(t *testing.T) {
	isolateEnv(t)

	out, err := run(t, "leaves", "Marketplace C")
	if err != nil {
		t.Fatalf("leaves error = %v", err)
	}
	if !strings.Contains(out, "Footwear > Athletic Shoes > Trail Running Shoes") {
		t.Fatalf("flat taxonomy not nested:\n%s", out)
	}
	if strings.Contains(out, "\n2 ") {
		t.Fatalf("non-leaf node printed:\n%s", out)
	}

	if _, err := run(t, "leaves", "Marketplace Z"); !domain.IsKind(err, domain.ErrUnknownMarketplace) {
		t.Fatalf("expected unknown marketplace, got %v", err)
	}
}

func TestShortlistRanksTrailShoesFirst(t *testing.T) {
	isolateEnv(t)

	out, err := run(t, "shortlist", "Marketplace A", "--file", sampleProduct, "-k", "3")
	if err != nil {
		t.Fatalf("shortlist error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header and 3 candidates, got:\n%s", out)
	}
	if !strings.Contains(lines[1], "111") {
		t.Fatalf("expected trail running shoes first, got:\n%s", out)
	}
}

func TestClassifyCallsConfiguredProvider(t *testing.T) {
	isolateEnv(t)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !strings.Contains(req.Prompt, "Marketplace A") {
			t.Errorf("prompt does not name the marketplace")
		}
		_, _ = w.Write([]byte(`{"response": "{\"category_id\": \"111\", \"category_name\": \"Trail Running Shoes\"}"}`))
	}))
	defer server.Close()
	t.Setenv("OLLAMA_URL", server.URL)

	out, err := run(t, "classify", "Marketplace A", "--file", sampleProduct)
	if err != nil {
		t.Fatalf("classify error = %v", err)
	}
	var result domain.ClassificationResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if result.Status != domain.StatusMatched || result.CategoryID != "111" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.CategoryPath != "Sports & Outdoors > Running > Trail Running Shoes" {
		t.Fatalf("unexpected path %q", result.CategoryPath)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one provider call, got %d", calls.Load())
	}
}
