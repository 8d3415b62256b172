package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode defines Provider error codes
type ErrorCode string

const (
	// Authentication errors
	ErrCodeAuthFailed ErrorCode = "AUTH_FAILED" // Invalid or expired credentials

	// Rate limiting and quota
	ErrCodeRateLimited   ErrorCode = "RATE_LIMITED"   // Too many requests
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED" // Usage quota exceeded

	// Service availability
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeModelNotFound      ErrorCode = "MODEL_NOT_FOUND"

	// Network and request
	ErrCodeNetworkError          ErrorCode = "NETWORK_ERROR"
	ErrCodeInvalidRequest        ErrorCode = "INVALID_REQUEST"
	ErrCodeTimeout               ErrorCode = "TIMEOUT"
	ErrCodeContextWindowExceeded ErrorCode = "CONTEXT_WINDOW_EXCEEDED"
	ErrCodeEmptyResponse         ErrorCode = "EMPTY_RESPONSE"

	ErrCodeUnknown ErrorCode = "UNKNOWN"
)

// ProviderError is a structured error reported by the generation service.
type ProviderError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Provider   string    `json:"provider"`
	StatusCode int       `json:"status_code,omitempty"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, when the service says so
	Err        error     `json:"-"`
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Code, e.Message)
}

// Unwrap returns the underlying SDK or transport error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new ProviderError
func NewProviderError(code ErrorCode, message, provider string) *ProviderError {
	return &ProviderError{
		Code:     code,
		Message:  message,
		Provider: provider,
	}
}

// IsRateLimited reports whether err is a rate-limit signal from the service.
// Quota exhaustion is not a rate limit: waiting does not help.
func IsRateLimited(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeRateLimited
	}
	return false
}

// IsServiceError reports whether err was reported by the service (any code).
func IsServiceError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// CodeOf returns the error code of a ProviderError, or ErrCodeUnknown.
func CodeOf(err error) ErrorCode {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeUnknown
}

// RetryAfterOf returns the wait the service asked for on err, or 0.
func RetryAfterOf(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		return time.Duration(pe.RetryAfter) * time.Second
	}
	return 0
}
