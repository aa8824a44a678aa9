package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aifleet/corelib/internal/clock"
	"github.com/aifleet/corelib/internal/corelog"
)

// Sender transmits a converted batch of records; CollectorClient is the
// production implementation, and tests substitute a fake.
type Sender interface {
	Send(ctx context.Context, records []Record) error
}

// HandlerConfig tunes the bounded queue and batching behavior.
type HandlerConfig struct {
	// QueueCapacity bounds the producer-facing channel. Enqueue drops a
	// record and returns false once the queue is full. Defaults to 1000.
	QueueCapacity int
	// BatchSize flushes the current batch once it reaches this many
	// records. Defaults to 100.
	BatchSize int
	// MaxAge is the period of the worker's flush timer: the current batch
	// is flushed every MaxAge (the period restarts after a count-triggered
	// flush), even if it has not reached BatchSize, so no record waits
	// longer than MaxAge. Defaults to 5s.
	MaxAge time.Duration
}

func (c HandlerConfig) withDefaults() HandlerConfig {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 5 * time.Second
	}
	return c
}

// Handler is the producer-facing half of the telemetry pipeline: it owns
// a bounded channel of Records and a single background worker goroutine
// that batches and transmits them.
type Handler struct {
	cfg    HandlerConfig
	queue  chan Record
	sender Sender
	clock  clock.Clock
	log    *corelog.Logger

	closed atomic.Bool
	wg     sync.WaitGroup

	mu    sync.Mutex
	batch []Record
}

// NewHandler builds a Handler and starts its background worker. clk and
// log may be nil, defaulting to the system clock and a no-op logger.
func NewHandler(sender Sender, cfg HandlerConfig, clk clock.Clock, log *corelog.Logger) *Handler {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = corelog.Noop()
	}
	cfg = cfg.withDefaults()
	h := &Handler{
		cfg:    cfg,
		queue:  make(chan Record, cfg.QueueCapacity),
		sender: sender,
		clock:  clk,
		log:    log.With("component", "telemetry.Handler"),
	}
	h.wg.Add(1)
	go h.run()
	return h
}

// Enqueue offers rec to the bounded queue without blocking. It returns
// false (and drops rec) if the queue is full or the handler has been
// closed.
func (h *Handler) Enqueue(rec Record) bool {
	if h.closed.Load() {
		return false
	}
	select {
	case h.queue <- rec:
		return true
	default:
		h.log.Warn("telemetry queue full, dropping record")
		return false
	}
}

// Flush forces the current batch to send immediately, regardless of age
// or size. Intended for tests and for callers who want a synchronous
// checkpoint.
func (h *Handler) Flush() {
	h.flush()
}

// Close stops accepting new records, drains and flushes whatever is
// queued, and waits for the worker goroutine to exit. Close is
// idempotent: a second call is a no-op. Once Close returns, Enqueue
// always returns false.
func (h *Handler) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	close(h.queue)
	h.wg.Wait()
}
