package provider

import "errors"

var (
	// ErrUnavailable means the provider is not installed, not configured,
	// or failed its probe. The executor advances the fallback chain without
	// consuming retry budget.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrUnsupported means the provider does not implement the requested
	// operation. Treated like ErrUnavailable by the executor.
	ErrUnsupported = errors.New("operation not supported by provider")
	// ErrTransient is retried with backoff against the same provider.
	ErrTransient = errors.New("transient provider error")
	// ErrRateLimited is retried with backoff against the same provider.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrInvalidResponse means the provider answered but the payload could
	// not be used. Retried like a transient error.
	ErrInvalidResponse = errors.New("provider returned invalid response")
)

// SkipsChain reports whether err should advance the fallback chain without
// counting as an attempt.
func SkipsChain(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrUnsupported)
}
