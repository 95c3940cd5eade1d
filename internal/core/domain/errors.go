package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrTaxonomyLoad       = errors.New("taxonomy load failed")
	ErrUnknownMarketplace = errors.New("unknown marketplace")
	ErrProductValidation  = errors.New("product validation failed")
	ErrProvider           = errors.New("provider failure")
	ErrTemporary          = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ProviderError reports a transport-level failure of a language-model backend:
// network errors, timeouts, authentication and rate limiting.
// Malformed model output is never a ProviderError.
type ProviderError struct {
	Provider   string
	Operation  string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	msg := fmt.Sprintf("provider %s %s", e.Provider, e.Operation)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProvider}
	}
	return []error{ErrProvider, e.Err}
}

// AsProviderError extracts the ProviderError carried by err, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}
