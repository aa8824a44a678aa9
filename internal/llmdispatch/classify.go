package llmdispatch

import (
	"context"
	"errors"
	"net"
	"time"
)

// HTTPStatusCoder is implemented by provider errors that carry the
// upstream HTTP status code, letting classifiers work without importing
// any particular HTTP client package.
type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

// RetryAfterer is implemented by provider errors that carry an
// upstream-supplied retry delay, e.g. a 429's Retry-After header read by
// the Provider implementation and surfaced without Dispatcher needing to
// know about net/http. Do honors this over its own configured backoff
// when present, since a provider's own rate-limit guidance is more
// accurate than a guessed exponential curve.
type RetryAfterer interface {
	RetryAfter() (time.Duration, bool)
}

// retryAfterDelay extracts a provider-supplied retry delay from err, if
// any, clamped to maxDelay the same way the configured backoff is.
func retryAfterDelay(err error, maxDelay time.Duration) (time.Duration, bool) {
	var ra RetryAfterer
	if !errors.As(err, &ra) {
		return 0, false
	}
	d, ok := ra.RetryAfter()
	if !ok || d <= 0 {
		return 0, false
	}
	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}
	return d, true
}

// IsRetryableHTTPStatus reports whether an HTTP status code is worth
// retrying: request timeout, rate limited, or any server error.
func IsRetryableHTTPStatus(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}

// IsRetryableError is the default Classifier for Dispatcher.Chat: it
// retries on context deadline/cancellation propagated from a lower layer,
// timeout-flavored net errors, and any error surfacing a retryable HTTP
// status via HTTPStatusCoder.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return IsRetryableHTTPStatus(sc.HTTPStatusCode())
	}
	return false
}
