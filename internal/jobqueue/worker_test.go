package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aifleet/corelib/internal/clock"
	"github.com/aifleet/corelib/internal/corelog"
)

// newTestPool uses the real system clock with a sub-millisecond retry
// delay: retry timing itself is not under test here (the rate limiter and
// retry-backoff tests own that), so a real, tiny sleep keeps these tests
// deterministic without racing a fake clock's Advance against a
// background goroutine's timer registration.
func newTestPool(t *testing.T, reg *Registry, cfg WorkerConfig) (*WorkerPool, *Queue) {
	t.Helper()
	q, err := New(NewMemoryStore(), clock.System{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pool := NewWorkerPool(q, reg, clock.System{}, nil, cfg)
	return pool, q
}

func TestWorkerProcessSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register("greet", func(ctx context.Context, jc *JobContext) (json.RawMessage, error) {
		return json.RawMessage(`{"greeting":"hi"}`), nil
	})
	pool, q := newTestPool(t, reg, WorkerConfig{})
	ctx := context.Background()

	id, _ := q.Submit(ctx, "greet", nil, SubmitOptions{})
	job, _ := q.GetPending(ctx)

	pool.process(ctx, corelog.Noop(), job)

	got, _ := q.Get(ctx, id)
	if got.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	var result map[string]string
	if err := json.Unmarshal(got.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["greeting"] != "hi" {
		t.Fatalf("result = %+v, want greeting=hi", result)
	}
	if got.Progress != 100 {
		t.Fatalf("progress = %d, want 100", got.Progress)
	}
}

func TestWorkerProcessMissingHandlerFailsWithoutRetry(t *testing.T) {
	reg := NewRegistry()
	pool, q := newTestPool(t, reg, WorkerConfig{MaxRetries: 3})
	ctx := context.Background()

	id, _ := q.Submit(ctx, "unregistered", nil, SubmitOptions{})
	job, _ := q.GetPending(ctx)

	pool.process(ctx, corelog.Noop(), job)

	got, _ := q.Get(ctx, id)
	if got.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.RetryCount() != 0 {
		t.Fatalf("retry count = %d, want 0 (missing handler should not retry)", got.RetryCount())
	}
}

func TestWorkerProcessRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	reg := NewRegistry()
	reg.Register("flaky", func(ctx context.Context, jc *JobContext) (json.RawMessage, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("transient failure")
		}
		return json.RawMessage(`{}`), nil
	})
	pool, q := newTestPool(t, reg, WorkerConfig{MaxRetries: 3, RetryDelay: time.Millisecond})
	ctx := context.Background()

	id, _ := q.Submit(ctx, "flaky", nil, SubmitOptions{})
	job, _ := q.GetPending(ctx)

	pool.process(ctx, corelog.Noop(), job)

	got, _ := q.Get(ctx, id)
	if got.Status != StatusPending {
		t.Fatalf("status after one retry = %q, want pending", got.Status)
	}
	if got.RetryCount() != 1 {
		t.Fatalf("retry count = %d, want 1", got.RetryCount())
	}

	job2, _ := q.GetPending(ctx)
	if job2 == nil || job2.ID != id {
		t.Fatalf("retried job not re-pushed onto pending list")
	}
	pool.process(ctx, corelog.Noop(), job2)

	final, _ := q.Get(ctx, id)
	if final.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed after successful retry", final.Status)
	}
}

func TestWorkerProcessExhaustsRetriesThenFails(t *testing.T) {
	reg := NewRegistry()
	reg.Register("always-fails", func(ctx context.Context, jc *JobContext) (json.RawMessage, error) {
		return nil, errors.New("permanent failure")
	})
	pool, q := newTestPool(t, reg, WorkerConfig{MaxRetries: 1, RetryDelay: time.Millisecond})
	ctx := context.Background()

	id, _ := q.Submit(ctx, "always-fails", nil, SubmitOptions{})

	job, _ := q.GetPending(ctx)
	pool.process(ctx, corelog.Noop(), job)

	job2, _ := q.GetPending(ctx)
	if job2 == nil {
		t.Fatalf("expected retried job back on pending list")
	}
	pool.process(ctx, corelog.Noop(), job2)

	final, _ := q.Get(ctx, id)
	if final.Status != StatusFailed {
		t.Fatalf("status = %q, want failed after exhausting retries", final.Status)
	}
}

func TestWorkerProcessRecoversPanic(t *testing.T) {
	reg := NewRegistry()
	reg.Register("panics", func(ctx context.Context, jc *JobContext) (json.RawMessage, error) {
		panic("boom")
	})
	pool, q := newTestPool(t, reg, WorkerConfig{MaxRetries: 1, RetryDelay: time.Millisecond})
	ctx := context.Background()

	id, _ := q.Submit(ctx, "panics", nil, SubmitOptions{})
	job, _ := q.GetPending(ctx)

	pool.process(ctx, corelog.Noop(), job)

	afterFirst, _ := q.Get(ctx, id)
	if afterFirst.Status != StatusPending {
		t.Fatalf("status after panic-triggered retry = %q, want pending", afterFirst.Status)
	}

	job2, _ := q.GetPending(ctx)
	if job2 == nil {
		t.Fatalf("expected retried job back on pending list after panic")
	}
	pool.process(ctx, corelog.Noop(), job2)

	got, _ := q.Get(ctx, id)
	if got.Status != StatusFailed {
		t.Fatalf("status = %q, want failed after exhausting retries on a panicking handler", got.Status)
	}
}

func TestWorkerPoolStartHonorsContextCancellation(t *testing.T) {
	reg := NewRegistry()
	pool, _ := newTestPool(t, reg, WorkerConfig{Concurrency: 2, PollInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	startDone := make(chan struct{})
	go func() {
		pool.Start(ctx)
		close(startDone)
	}()

	cancel()
	select {
	case <-startDone:
	case <-time.After(time.Second):
		t.Fatalf("WorkerPool.Start did not return within 1s of context cancellation")
	}
}
