// Package workerapp wires the job queue, LLM dispatcher, and telemetry
// pipeline into a single demo host process, the same role
// internal/inference/app plays for the teacher's HTTP gateway.
package workerapp

import (
	"context"
	"fmt"
	"os"

	"github.com/aifleet/corelib/internal/clock"
	"github.com/aifleet/corelib/internal/corelog"
	"github.com/aifleet/corelib/internal/jobqueue"
	"github.com/aifleet/corelib/internal/llmdispatch"
	"github.com/aifleet/corelib/internal/telemetry"
)

const chatJobType = "chat"

type App struct {
	Log    *corelog.Logger
	Config Config

	clock      clock.Clock
	queue      *jobqueue.Queue
	pool       *jobqueue.WorkerPool
	dispatcher *llmdispatch.Dispatcher
	telemetry  *telemetry.Handler
}

// New assembles an App from process environment variables.
func New() (*App, error) {
	cfg := LoadConfig(os.Getenv)

	log, err := corelog.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	store, err := newStore(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init job store: %w", err)
	}

	sysClock := clock.System{}

	queue, err := jobqueue.New(store, sysClock, log)
	if err != nil {
		return nil, fmt.Errorf("init queue: %w", err)
	}

	dispatcher := llmdispatch.NewDispatcher(mockProvider{}, llmdispatch.DispatcherConfig{
		RateLimits: llmdispatch.ModelLimits{{Substring: "mock", RPM: 120}},
		Classify:   llmdispatch.RetryAll,
	}, sysClock, log)

	registry := jobqueue.NewRegistry()
	registry.Register(chatJobType, chatJobHandler(dispatcher))

	pool := jobqueue.NewWorkerPool(queue, registry, sysClock, log, jobqueue.WorkerConfig{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
		MaxRetries:   cfg.WorkerMaxRetries,
		RetryDelay:   cfg.WorkerRetryDelay,
	})

	var sender telemetry.Sender
	if cfg.CollectorEndpoint != "" {
		sender = telemetry.NewCollectorClient(telemetry.CollectorConfig{
			Endpoint:       cfg.CollectorEndpoint,
			Insecure:       cfg.CollectorInsecure,
			ServiceName:    "corelib-worker",
			ServiceVersion: "dev",
		})
	} else {
		sender = noopSender{log: log}
	}
	telemetryHandler := telemetry.NewHandler(sender, telemetry.HandlerConfig{}, sysClock, log)

	return &App{
		Log:        log,
		Config:     cfg,
		clock:      sysClock,
		queue:      queue,
		pool:       pool,
		dispatcher: dispatcher,
		telemetry:  telemetryHandler,
	}, nil
}

// Run starts the worker pool and blocks until ctx is cancelled, then
// drains the telemetry pipeline before returning.
func (a *App) Run(ctx context.Context) error {
	a.telemetry.Enqueue(telemetry.Record{
		Time:     a.clock.Now(),
		Severity: telemetry.SeverityInfo,
		Body:     "worker starting",
		Attributes: []telemetry.Attribute{
			{Key: "concurrency", Value: a.Config.WorkerConcurrency},
		},
	})

	a.pool.Start(ctx)

	a.telemetry.Enqueue(telemetry.Record{
		Time:     a.clock.Now(),
		Severity: telemetry.SeverityInfo,
		Body:     "worker stopped",
	})
	a.telemetry.Close()

	return nil
}

func newStore(cfg Config, log *corelog.Logger) (jobqueue.Store, error) {
	if cfg.RedisAddr == "" {
		return jobqueue.NewMemoryStore(), nil
	}
	return jobqueue.NewRedisStore(jobqueue.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   "corelib:",
	}, log)
}

// noopSender discards telemetry records, used when no collector
// endpoint is configured.
type noopSender struct {
	log *corelog.Logger
}

func (n noopSender) Send(ctx context.Context, records []telemetry.Record) error {
	_ = ctx
	n.log.Debug("telemetry collector not configured, dropping batch", "count", len(records))
	return nil
}
