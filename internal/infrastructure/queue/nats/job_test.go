package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
)

func TestHandleJobPassesRequestAndWrapsResults(t *testing.T) {
	var got domain.ClassifyRequest
	handler := func(_ context.Context, req domain.ClassifyRequest) ([]domain.ClassificationResult, error) {
		got = req
		return []domain.ClassificationResult{{Marketplace: "A", Status: domain.StatusMatched, CategoryID: "3"}}, nil
	}

	body := `{"job_id": "j-1", "marketplace": "A", "provider": "ollama", "include_confidence": true,
		"product": {"title": "Trail Runner", "weight": 250}}`
	job, reply, err := handleJob(context.Background(), []byte(body), handler)
	if err != nil {
		t.Fatalf("handleJob() error = %v", err)
	}
	if job.JobID != "j-1" || reply.JobID != "j-1" || len(reply.Results) != 1 || reply.Error != "" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if got.Marketplace != "A" || got.Provider != "ollama" || !got.IncludeConfidence {
		t.Fatalf("request not forwarded: %+v", got)
	}
	if _, ok := got.Product["weight"].(json.Number); !ok {
		t.Fatalf("numbers should stay json.Number, got %T", got.Product["weight"])
	}
}

func TestHandleJobReportsErrorsInReply(t *testing.T) {
	failing := func(context.Context, domain.ClassifyRequest) ([]domain.ClassificationResult, error) {
		return nil, domain.WrapError(domain.ErrUnknownMarketplace, "classify", errors.New("Z"))
	}
	cases := []struct {
		name string
		body string
		kind error
	}{
		{"malformed json", `{"job_id":`, domain.ErrInvalidInput},
		{"missing product", `{"job_id": "j-2"}`, domain.ErrInvalidInput},
		{"handler failure", `{"job_id": "j-3", "marketplace": "Z", "product": {"name": "x"}}`, domain.ErrUnknownMarketplace},
	}
	for _, tc := range cases {
		_, reply, err := handleJob(context.Background(), []byte(tc.body), failing)
		if !domain.IsKind(err, tc.kind) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.kind, err)
		}
		if reply.Error == "" || reply.Results == nil {
			t.Fatalf("%s: reply must carry the error and an empty result list: %+v", tc.name, reply)
		}
		encoded, _ := json.Marshal(reply)
		var decoded map[string]any
		_ = json.Unmarshal(encoded, &decoded)
		if _, ok := decoded["results"].([]any); !ok {
			t.Fatalf("%s: results must encode as a list, got %s", tc.name, encoded)
		}
	}
}

func TestEncodeJobAssignsIDAndTimestamp(t *testing.T) {
	data, job, err := encodeJob(ClassifyJob{Product: map[string]any{"name": "x"}})
	if err != nil {
		t.Fatalf("encodeJob() error = %v", err)
	}
	if job.JobID == "" || job.SubmittedAt == nil {
		t.Fatalf("expected generated id and timestamp, got %+v", job)
	}
	var decoded ClassifyJob
	if err := json.Unmarshal(data, &decoded); err != nil || decoded.JobID != job.JobID {
		t.Fatalf("round trip lost job id: %v", err)
	}
	if _, _, err := encodeJob(ClassifyJob{JobID: "x"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty product, got %v", err)
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	if err := wrapTemporaryIfNeeded(fmt.Errorf("publish: %w", nats.ErrConnectionClosed)); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("closed connection should be temporary, got %v", err)
	}
	if err := wrapTemporaryIfNeeded(errors.New("bad subject")); domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("plain error must stay permanent")
	}
}
