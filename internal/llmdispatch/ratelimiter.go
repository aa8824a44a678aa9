// Package llmdispatch wraps outbound LLM provider calls with a
// per-(provider,model) rate limiter and a generic retry decorator, so a
// process never exceeds a configured requests-per-minute ceiling and
// transient failures are retried with jittered backoff.
package llmdispatch

import (
	"context"
	"time"

	"github.com/aifleet/corelib/internal/clock"
	"github.com/aifleet/corelib/internal/corelog"
)

// RateLimitConfig configures a RateLimiter. RequestsPerSecond is a
// sustained-rate floor expressed as a minimum interval between accepted
// requests; BurstAllowance is advisory only and not enforced by Acquire,
// matching the source it is modeled on.
type RateLimitConfig struct {
	RequestsPerMinute int
	RequestsPerSecond float64
	BurstAllowance    int
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 60
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = c.minSustainedRate()
	}
	return c
}

func (c RateLimitConfig) minSustainedRate() float64 {
	rps := float64(c.RequestsPerMinute) / 60.0
	if rps < 1.0/60.0 {
		return 1.0 / 60.0
	}
	return rps
}

// acquireCeiling bounds how long Acquire will throttle a caller on a
// synchronous path before giving up and letting the call through
// unthrottled.
const acquireCeiling = 5 * time.Second

// RateLimiter enforces a rolling requests-per-minute window plus a
// minimum-interval floor, serialized under a single mutex so concurrent
// callers are throttled in submission order.
type RateLimiter struct {
	cfg   RateLimitConfig
	clock clock.Clock
	log   *corelog.Logger

	mu           chanMutex
	requestTimes []time.Time
	lastRequest  time.Time
}

// NewRateLimiter builds a RateLimiter. clk and log may be nil, defaulting
// to the system clock and a no-op logger.
func NewRateLimiter(cfg RateLimitConfig, clk clock.Clock, log *corelog.Logger) *RateLimiter {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = corelog.Noop()
	}
	return &RateLimiter{
		cfg:   cfg.withDefaults(),
		clock: clk,
		log:   log.With("component", "llmdispatch.RateLimiter"),
		mu:    newChanMutex(),
	}
}

// Acquire blocks until issuing another request would not violate the
// configured rate limits, per the five-step algorithm: drop stale
// timestamps, enforce the rolling RPM window, enforce the minimum
// interval floor, then record the accepted request. It is safe for
// concurrent callers.
//
// Acquire imposes a short acquisition ceiling: if ctx is cancelled or
// acquireCeiling elapses before the limiter would naturally admit the
// call, Acquire logs a warning and returns immediately without throttling
// rather than blocking the caller indefinitely. Rate-limiter errors never
// propagate: Acquire always returns nil, including when ctx is cancelled.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	deadline, cancel := context.WithTimeout(ctx, acquireCeiling)
	defer cancel()

	if err := r.mu.Lock(deadline); err != nil {
		r.log.Warn("rate limiter acquisition ceiling reached waiting for lock; proceeding without throttling")
		return nil
	}
	defer r.mu.Unlock()

	now := r.clock.Now()
	cutoff := now.Add(-60 * time.Second)
	kept := r.requestTimes[:0]
	for _, t := range r.requestTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.requestTimes = kept

	if len(r.requestTimes) >= r.cfg.RequestsPerMinute {
		sleepFor := 60*time.Second - now.Sub(r.requestTimes[0])
		if sleepFor > 0 {
			r.log.Warn("rate limit reached, sleeping", "sleep_seconds", sleepFor.Seconds())
			if !r.sleepOrCeiling(deadline, sleepFor) {
				r.log.Warn("rate limiter acquisition ceiling reached during rpm wait; proceeding without throttling")
				return nil
			}
			now = r.clock.Now()
		}
	}

	minInterval := time.Duration(float64(time.Second) / r.cfg.RequestsPerSecond)
	if sinceLast := now.Sub(r.lastRequest); sinceLast < minInterval {
		sleepFor := minInterval - sinceLast
		if !r.sleepOrCeiling(deadline, sleepFor) {
			r.log.Warn("rate limiter acquisition ceiling reached during rps wait; proceeding without throttling")
			return nil
		}
		now = r.clock.Now()
	}

	r.requestTimes = append(r.requestTimes, now)
	r.lastRequest = now
	return nil
}

// sleepOrCeiling sleeps for d or returns false if ctx is cancelled first.
func (r *RateLimiter) sleepOrCeiling(ctx context.Context, d time.Duration) bool {
	timer := r.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C():
		return true
	}
}
