package llmdispatch

import "context"

// chanMutex is a mutex whose Lock can be abandoned on context
// cancellation, unlike sync.Mutex. RateLimiter.Acquire needs this so a
// caller that hits the acquisition ceiling while waiting for the lock
// itself (not just for a throttling sleep) can still bail out instead of
// blocking forever behind a slow holder.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	c := make(chanMutex, 1)
	c <- struct{}{}
	return c
}

// Lock blocks until the mutex is acquired or ctx is done, whichever comes
// first.
func (m chanMutex) Lock(ctx context.Context) error {
	select {
	case <-m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m chanMutex) Unlock() {
	m <- struct{}{}
}
