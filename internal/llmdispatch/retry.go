package llmdispatch

import (
	"context"
	"math/rand"
	"time"

	"github.com/aifleet/corelib/internal/clock"
	"github.com/aifleet/corelib/internal/corelog"
)

// RetryStrategy selects the backoff shape applied between attempts.
type RetryStrategy string

const (
	StrategyExponentialBackoff RetryStrategy = "exponential_backoff"
	StrategyLinearBackoff      RetryStrategy = "linear_backoff"
	StrategyFixedDelay         RetryStrategy = "fixed_delay"
)

// RetryConfig configures the retry decorator.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Strategy     RetryStrategy
	JitterFactor float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.Strategy == "" {
		c.Strategy = StrategyExponentialBackoff
	}
	if c.JitterFactor <= 0 {
		c.JitterFactor = 0.5
	}
	return c
}

// Classifier reports whether err should trigger a retry; the Go analogue
// of the source's retry_on_exceptions tuple.
type Classifier func(error) bool

// RetryAll is a Classifier that retries on any non-nil error.
func RetryAll(error) bool { return true }

// Retrier runs a function under RetryConfig, sleeping between attempts
// with a context-aware timer so cancellation aborts a pending backoff
// immediately.
type Retrier struct {
	clock clock.Clock
	log   *corelog.Logger
}

// NewRetrier builds a Retrier. clk and log may be nil, defaulting to the
// system clock and a no-op logger.
func NewRetrier(clk clock.Clock, log *corelog.Logger) *Retrier {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = corelog.Noop()
	}
	return &Retrier{clock: clk, log: log.With("component", "llmdispatch.Retrier")}
}

// Do runs fn, retrying per cfg whenever fn returns an error classifier
// accepts as retryable, up to cfg.MaxRetries additional attempts. It
// returns the first successful result, or the last error once attempts
// are exhausted or the classifier rejects an error as non-retryable.
func Do[T any](ctx context.Context, r *Retrier, cfg RetryConfig, classify Classifier, fn func(context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	if classify == nil {
		classify = RetryAll
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !classify(err) {
			return result, err
		}
		if attempt >= cfg.MaxRetries {
			r.log.Error("final retry attempt failed", "attempt", attempt, "max_retries", cfg.MaxRetries, "error", err)
			break
		}

		delay := calculateDelay(attempt, cfg)
		if d, ok := retryAfterDelay(err, cfg.MaxDelay); ok {
			delay = d
		}
		r.log.Warn("attempt failed, retrying", "attempt", attempt+1, "delay_seconds", delay.Seconds(), "error", err)
		if !r.sleep(ctx, delay) {
			var zero T
			return zero, ctx.Err()
		}
	}

	var zero T
	return zero, lastErr
}

func calculateDelay(attempt int, cfg RetryConfig) time.Duration {
	var delay time.Duration
	switch cfg.Strategy {
	case StrategyLinearBackoff:
		delay = cfg.BaseDelay * time.Duration(attempt+1)
	case StrategyFixedDelay:
		delay = cfg.BaseDelay
	default: // exponential
		delay = cfg.BaseDelay * time.Duration(1<<uint(attempt))
	}

	jitter := time.Duration(float64(delay) * cfg.JitterFactor * rand.Float64())
	total := delay + jitter
	if total > cfg.MaxDelay {
		total = cfg.MaxDelay
	}
	return total
}

func (r *Retrier) sleep(ctx context.Context, d time.Duration) bool {
	timer := r.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C():
		return true
	}
}
