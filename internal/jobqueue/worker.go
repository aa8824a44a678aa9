package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aifleet/corelib/internal/clock"
	"github.com/aifleet/corelib/internal/corelog"
)

// WorkerConfig tunes the poll-dispatch-retry loop.
type WorkerConfig struct {
	// Concurrency is the number of poller goroutines sharing the queue.
	// Defaults to 1.
	Concurrency int
	// PollInterval is how long a poller sleeps after finding the pending
	// queue empty. Defaults to 1s.
	PollInterval time.Duration
	// MaxRetries is how many times a failed job is requeued before it is
	// failed outright. Defaults to 3.
	MaxRetries int
	// RetryDelay is how long a worker sleeps after requeuing a failed job
	// before resuming its poll loop. Defaults to 5s.
	RetryDelay time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	return c
}

// WorkerPool runs one or more pollers against a Queue, dispatching jobs
// to handlers registered in a Registry.
type WorkerPool struct {
	queue    *Queue
	registry *Registry
	clock    clock.Clock
	log      *corelog.Logger
	cfg      WorkerConfig
}

// NewWorkerPool builds a WorkerPool. log and clk may be nil, defaulting
// to a no-op logger and the system clock.
func NewWorkerPool(queue *Queue, registry *Registry, clk clock.Clock, log *corelog.Logger, cfg WorkerConfig) *WorkerPool {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = corelog.Noop()
	}
	return &WorkerPool{
		queue:    queue,
		registry: registry,
		clock:    clk,
		log:      log.With("component", "jobqueue.WorkerPool"),
		cfg:      cfg.withDefaults(),
	}
}

// Start spawns cfg.Concurrency poller goroutines and blocks until ctx is
// cancelled and every poller has finished its current job. Each poller
// checks ctx.Done() only between jobs, matching "workers honor shutdown
// signals between jobs, not mid-job".
func (p *WorkerPool) Start(ctx context.Context) {
	var g errgroup.Group
	for i := 0; i < p.cfg.Concurrency; i++ {
		id := i
		g.Go(func() error {
			p.pollLoop(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *WorkerPool) pollLoop(ctx context.Context, workerID int) {
	log := p.log.With("worker_id", workerID)
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			return
		default:
		}

		job, err := p.queue.GetPending(ctx)
		if err != nil {
			log.Warn("get_pending failed", "error", err)
			p.sleep(ctx, p.cfg.PollInterval)
			continue
		}
		if job == nil {
			p.sleep(ctx, p.cfg.PollInterval)
			continue
		}

		p.process(ctx, log, job)
	}
}

func (p *WorkerPool) process(ctx context.Context, log *corelog.Logger, job *Job) {
	handler, ok := p.registry.Get(job.Type)
	if !ok {
		log.Warn("no handler registered for job type", "job_id", job.ID, "job_type", job.Type)
		if err := p.queue.Fail(ctx, job.ID, &MissingHandlerError{JobType: job.Type}); err != nil {
			log.Warn("failed to record missing-handler failure", "job_id", job.ID, "error", err)
		}
		return
	}

	if err := p.queue.UpdateProgress(ctx, job.ID, 10, "started"); err != nil {
		log.Warn("failed to record start progress", "job_id", job.ID, "error", err)
	}

	jc := &JobContext{
		Job: job,
		ReportProgress: func(ctx context.Context, progress int, message string) error {
			return p.queue.UpdateProgress(ctx, job.ID, progress, message)
		},
	}

	result, runErr := p.invoke(ctx, log, handler, jc)
	if runErr == nil {
		if err := p.queue.Complete(ctx, job.ID, result); err != nil {
			log.Warn("failed to complete job", "job_id", job.ID, "error", err)
		}
		return
	}

	p.handleFailure(ctx, log, job, runErr)
}

// invoke runs handler, converting a panic into a panicError so it flows
// through the same retry/fail path as a returned error.
func (p *WorkerPool) invoke(ctx context.Context, log *corelog.Logger, handler Handler, jc *JobContext) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("job handler panic", "job_id", jc.Job.ID, "job_type", jc.Job.Type, "panic", r)
			err = &panicError{val: r}
		}
	}()
	return handler(ctx, jc)
}

func (p *WorkerPool) handleFailure(ctx context.Context, log *corelog.Logger, job *Job, cause error) {
	retryCount := job.RetryCount()
	if retryCount < p.cfg.MaxRetries {
		next := retryCount + 1
		meta := map[string]any{
			RetryCountKey: next,
			LastErrorKey:  cause.Error(),
		}
		if err := p.queue.Requeue(ctx, job.ID, meta); err != nil {
			log.Warn("failed to requeue job for retry", "job_id", job.ID, "error", err)
		} else {
			log.Info("job requeued for retry", "job_id", job.ID, "retry_count", next, "error", cause)
		}
		p.sleep(ctx, p.cfg.RetryDelay)
		return
	}

	if err := p.queue.Fail(ctx, job.ID, fmt.Errorf("exhausted %d retries: %w", p.cfg.MaxRetries, cause)); err != nil {
		log.Warn("failed to record terminal failure", "job_id", job.ID, "error", err)
	}
}

// sleep blocks for d or until ctx is cancelled, whichever comes first.
func (p *WorkerPool) sleep(ctx context.Context, d time.Duration) {
	timer := p.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C():
	}
}
