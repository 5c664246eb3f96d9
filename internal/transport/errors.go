package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotSupported marks an operation the platform behind a session has
// no equivalent for.
var ErrNotSupported = errors.New("operation not supported by this transport")

// RateLimitedError is the platform's authoritative "slow down" signal.
// RetryAfter is zero when the platform did not say how long to wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// AuthError means the credential was rejected. The account behind it
// must not keep retrying; the caller disables it.
type AuthError struct {
	Cause error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return "authentication failed: " + e.Cause.Error()
	}
	return "authentication failed"
}

func (e *AuthError) Unwrap() error { return e.Cause }

// IsRateLimited reports whether err carries a rate-limit rejection and,
// if so, the advertised retry-after.
func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// IsAuth reports whether err is a credential rejection.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
