package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
)

// Client posts JSON to a language-model HTTP API and reports every failure as
// a *domain.ProviderError.
type Client struct {
	Provider   string
	BaseURL    string
	Headers    map[string]string
	HTTPClient *http.Client
}

func (c *Client) PostJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return c.fail(operation, 0, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return c.fail(operation, 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return c.fail(operation, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			return c.fail(operation, resp.StatusCode, fmt.Errorf("status %s", resp.Status))
		}
		return c.fail(operation, resp.StatusCode, fmt.Errorf("status %s: %s", resp.Status, msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.fail(operation, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) fail(operation string, status int, err error) error {
	return &domain.ProviderError{
		Provider:   c.Provider,
		Operation:  operation,
		StatusCode: status,
		Retryable:  IsRetryable(status, err),
		Err:        err,
	}
}

// IsRetryable reports whether a failed call may succeed when repeated:
// throttling, server-side errors, timeouts and network errors.
func IsRetryable(status int, err error) bool {
	if status > 0 {
		return IsRetryableHTTPStatus(status)
	}
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func IsRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
