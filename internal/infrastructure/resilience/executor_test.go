package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
)

func fastRetries(attempts int) Config {
	return Config{
		RetryMaxAttempts:    attempts,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}
}

func TestDoRetriesRetryableProviderError(t *testing.T) {
	exec := NewExecutor(fastRetries(3))

	attempts := 0
	err := exec.Do(context.Background(), "openai", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return &domain.ProviderError{Provider: "openai", StatusCode: 503, Retryable: true}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoDoesNotRetryAuthFailure(t *testing.T) {
	exec := NewExecutor(fastRetries(3))

	attempts := 0
	err := exec.Do(context.Background(), "anthropic", func(context.Context) error {
		attempts++
		return &domain.ProviderError{Provider: "anthropic", StatusCode: 401, Err: errors.New("invalid x-api-key")}
	})
	if !domain.IsKind(err, domain.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDefaultConfigMakesOneAttempt(t *testing.T) {
	exec := NewExecutor(Config{})

	attempts := 0
	_ = exec.Do(context.Background(), "ollama", func(context.Context) error {
		attempts++
		return &domain.ProviderError{Provider: "ollama", Retryable: true}
	})
	if attempts != 1 {
		t.Fatalf("expected a single attempt by default, got %d", attempts)
	}
}

func TestDoStopsRetryingWhenContextEnds(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    5,
		RetryInitialBackoff: time.Second,
		RetryMaxBackoff:     time.Second,
		BreakerEnabled:      false,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	attempts := 0
	started := time.Now()
	err := exec.Do(ctx, "gemini", func(context.Context) error {
		attempts++
		return &domain.ProviderError{Provider: "gemini", Retryable: true}
	})
	if err == nil || attempts != 1 {
		t.Fatalf("expected one failed attempt, got attempts=%d err=%v", attempts, err)
	}
	if time.Since(started) > 500*time.Millisecond {
		t.Fatalf("backoff ignored context deadline")
	}
}

func TestDoOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	down := &domain.ProviderError{Provider: "openai", StatusCode: 502, Retryable: true}
	for i := 0; i < 2; i++ {
		err := exec.Do(context.Background(), "openai", func(context.Context) error { return down })
		if !errors.Is(err, down) {
			t.Fatalf("expected provider error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Do(context.Background(), "openai", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call the provider")
		return nil
	})
	perr, ok := domain.AsProviderError(err)
	if !ok || perr.Operation != "circuit_breaker" {
		t.Fatalf("expected circuit breaker ProviderError, got %v", err)
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state cause, got %v", err)
	}

	// breakers are per provider
	if err := exec.Do(context.Background(), "gemini", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("other provider affected by open circuit: %v", err)
	}
}

func TestClassifyProviderError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClassification
	}{
		{"canceled", context.Canceled, ErrorClassification{}},
		{"rate limited", &domain.ProviderError{StatusCode: 429, Retryable: true}, ErrorClassification{Retryable: true, RecordFailure: true}},
		{"bad request", &domain.ProviderError{StatusCode: 400}, ErrorClassification{}},
		{"server error", &domain.ProviderError{StatusCode: 500, Retryable: true}, ErrorClassification{Retryable: true, RecordFailure: true}},
		{"temporary", domain.WrapError(domain.ErrTemporary, "op", errors.New("x")), ErrorClassification{Retryable: true, RecordFailure: true}},
		{"plain", errors.New("boom"), ErrorClassification{Retryable: false, RecordFailure: true}},
	}
	for _, tc := range cases {
		if got := ClassifyProviderError(tc.err); got != tc.want {
			t.Fatalf("%s: got %+v, want %+v", tc.name, got, tc.want)
		}
	}
}
