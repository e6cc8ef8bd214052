package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for provider operations.
var (
	// ErrUnknownProvider indicates the requested provider is not registered.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrUnavailable indicates the provider is marked unavailable by its
	// health check. Callers should fail over to the next ranked candidate.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrNoCandidates indicates no registered provider satisfies the
	// required capabilities.
	ErrNoCandidates = errors.New("no provider satisfies required capabilities")

	// ErrNoAdapter indicates no execution adapter is bound for a provider.
	ErrNoAdapter = errors.New("no adapter bound for provider")

	// ErrThrottled indicates the provider's rate limit has no capacity.
	ErrThrottled = errors.New("provider rate limit exceeded")
)

// Error wraps provider errors with context.
type Error struct {
	Provider  string // Provider id ("anthropic", "openai", etc.)
	Op        string // Operation that failed ("find", "execute")
	Err       error  // Underlying error
	Retryable bool   // Whether the error is likely transient
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new provider error.
func NewError(provider, op string, err error, retryable bool) *Error {
	return &Error{
		Provider:  provider,
		Op:        op,
		Err:       err,
		Retryable: retryable,
	}
}

// IsRetryable checks if an error is likely transient and worth retrying
// against another candidate.
func IsRetryable(err error) bool {
	var provErr *Error
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrThrottled)
}
