package generation

import "errors"

// ErrUnknown wraps failures the service boundary could not classify.
// Callers map it to a user-visible error; it is never retried.
var ErrUnknown = errors.New("generation: unknown error")

// ErrNoProvider indicates that the client has no provider.
var ErrNoProvider = errors.New("generation: provider not configured")
