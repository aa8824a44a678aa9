// Package clock abstracts wall-clock access so the rate limiter, retry
// backoff, and telemetry batch timer can be driven deterministically in
// tests instead of sleeping for real.
package clock

import "time"

// Clock is the small time seam shared by the rate limiter, the retry
// decorator, and the job queue worker loop.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
}

// Timer mirrors the subset of *time.Timer callers need, so a fake clock
// can hand back a fake timer under the same interface.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// System is the production Clock backed by the real time package.
type System struct{}

func (System) Now() time.Time                       { return time.Now() }
func (System) Sleep(d time.Duration)                 { time.Sleep(d) }
func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (System) NewTimer(d time.Duration) Timer {
	return &systemTimer{t: time.NewTimer(d)}
}

type systemTimer struct{ t *time.Timer }

func (s *systemTimer) C() <-chan time.Time     { return s.t.C }
func (s *systemTimer) Stop() bool              { return s.t.Stop() }
func (s *systemTimer) Reset(d time.Duration) bool { return s.t.Reset(d) }
