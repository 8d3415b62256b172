// Package provider defines the text-generation service boundary.
package provider

import "context"

// Provider is an external text-generation service.
//
// Chat must return a *ProviderError for every failure the service itself
// reports, so callers can tell rate limiting apart from other service errors.
// Any other error is treated as unknown.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Chat sends a chat request and returns the completion.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
