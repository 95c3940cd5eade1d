package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrProductValidation):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnknownMarketplace):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrProvider):
		return providerStatus(err)
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// providerStatus separates an unavailable upstream (open circuit) and an
// upstream timeout from other provider failures.
func providerStatus(err error) int {
	if perr, ok := domain.AsProviderError(err); ok && perr.Operation == "circuit_breaker" {
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}
