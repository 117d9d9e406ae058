package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrValidation        = errors.New("validation failed")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrPollTimeout       = errors.New("provider polling timed out")
	ErrProviderFailure   = errors.New("provider failure")
)

// maxErrorBody caps how much of a provider response body is carried inside an
// error message.
const maxErrorBody = 4000

// ProviderError describes a non-retryable rejection from an upstream provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

// NewProviderError builds a ProviderError with the response body truncated.
func NewProviderError(provider string, statusCode int, body string) *ProviderError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &ProviderError{Provider: provider, StatusCode: statusCode, Body: body}
}

func (e *ProviderError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error {
	return ErrProviderFailure
}

// Retryable reports whether the status code is worth another attempt.
// 429 and all 5xx responses are treated as transient.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
