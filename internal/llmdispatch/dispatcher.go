package llmdispatch

import (
	"context"
	"strings"
	"sync"

	"github.com/aifleet/corelib/internal/clock"
	"github.com/aifleet/corelib/internal/corelog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ModelRPM maps a model-name substring to its requests-per-minute limit.
// On lookup, the longest matching substring wins; unmatched models
// default to 60 RPM. The table is data, maintained out of band.
type ModelRPM struct {
	Substring string
	RPM       int
}

// ModelLimits resolves a model name to a RequestsPerMinute ceiling.
type ModelLimits []ModelRPM

const defaultRPM = 60

// Lookup returns the RPM for model using longest-substring-match.
func (m ModelLimits) Lookup(model string) int {
	best := -1
	rpm := defaultRPM
	for _, entry := range m {
		if entry.Substring == "" || !strings.Contains(model, entry.Substring) {
			continue
		}
		if len(entry.Substring) > best {
			best = len(entry.Substring)
			rpm = entry.RPM
		}
	}
	return rpm
}

// ToolCall is a provider-agnostic rendering of a single tool invocation
// request surfaced by a model response.
type ToolCall struct {
	Name      string
	Arguments string
}

// Usage carries token accounting for a completed call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Request is the provider-agnostic chat call payload.
type Request struct {
	Provider string
	Model    string
	Messages []Message
}

// Message is one turn in a chat-style request.
type Message struct {
	Role    string
	Content string
}

// Response is the provider-agnostic chat call result.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Provider is the opaque synchronous call a Dispatcher wraps; it is
// expected to classify its own errors into a known retryable set (rate
// limited, service unavailable, deadline exceeded, ...).
type Provider interface {
	Chat(ctx context.Context, req Request) (Response, error)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	RateLimits ModelLimits
	Retry      RetryConfig
	Classify   Classifier
}

// Dispatcher composes a per-(provider,model) RateLimiter.Acquire with a
// Retrier.Do around a Provider's Chat call.
type Dispatcher struct {
	provider Provider
	cfg      DispatcherConfig
	clock    clock.Clock
	log      *corelog.Logger
	retrier  *Retrier
	tracer   trace.Tracer

	mu       sync.Mutex
	limiters map[string]*RateLimiter
}

// NewDispatcher builds a Dispatcher over provider. clk and log may be
// nil, defaulting to the system clock and a no-op logger.
func NewDispatcher(provider Provider, cfg DispatcherConfig, clk clock.Clock, log *corelog.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = corelog.Noop()
	}
	if cfg.Classify == nil {
		cfg.Classify = IsRetryableError
	}
	return &Dispatcher{
		provider: provider,
		cfg:      cfg,
		clock:    clk,
		log:      log.With("component", "llmdispatch.Dispatcher"),
		retrier:  NewRetrier(clk, log),
		tracer:   otel.Tracer("llmdispatch"),
		limiters: make(map[string]*RateLimiter),
	}
}

// Chat acquires the per-(provider,model) rate limiter exactly once, then
// retries the underlying provider call per cfg.Retry and cfg.Classify.
// The rate limiter is not re-acquired on retry: composition is
// acquire-once, retry-wrap.
func (d *Dispatcher) Chat(ctx context.Context, req Request) (Response, error) {
	ctx, span := d.tracer.Start(ctx, "llmdispatch.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", req.Provider),
		attribute.String("llm.model", req.Model),
	)

	limiter := d.limiterFor(req.Provider, req.Model)
	if err := limiter.Acquire(ctx); err != nil {
		return Response{}, err
	}

	return Do(ctx, d.retrier, d.cfg.Retry, d.cfg.Classify, func(ctx context.Context) (Response, error) {
		return d.provider.Chat(ctx, req)
	})
}

func (d *Dispatcher) limiterFor(provider, model string) *RateLimiter {
	key := provider + "::" + model
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.limiters[key]; ok {
		return l
	}
	rpm := d.cfg.RateLimits.Lookup(model)
	l := NewRateLimiter(RateLimitConfig{RequestsPerMinute: rpm}, d.clock, d.log)
	d.limiters[key] = l
	return l
}

