package llmdispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aifleet/corelib/internal/clock"
)

type stubProvider struct {
	calls    int
	failN    int
	lastErr  error
	response Response
}

func (s *stubProvider) Chat(ctx context.Context, req Request) (Response, error) {
	s.calls++
	if s.calls <= s.failN {
		return Response{}, s.lastErr
	}
	return s.response, nil
}

func TestDispatcherChatSucceeds(t *testing.T) {
	provider := &stubProvider{response: Response{Content: "hello"}}
	d := NewDispatcher(provider, DispatcherConfig{
		RateLimits: ModelLimits{{Substring: "gpt", RPM: 1000}},
		Retry:      RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond},
	}, clock.System{}, nil)

	resp, err := d.Chat(context.Background(), Request{Provider: "openai", Model: "gpt-4"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hello" {
		t.Fatalf("content = %q, want hello", resp.Content)
	}
	if provider.calls != 1 {
		t.Fatalf("calls = %d, want 1", provider.calls)
	}
}

func TestDispatcherChatRetriesOnClassifiedError(t *testing.T) {
	provider := &stubProvider{failN: 1, lastErr: errTransient, response: Response{Content: "ok"}}
	d := NewDispatcher(provider, DispatcherConfig{
		Retry:    RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, Strategy: StrategyFixedDelay},
		Classify: func(err error) bool { return errors.Is(err, errTransient) },
	}, clock.System{}, nil)

	resp, err := d.Chat(context.Background(), Request{Provider: "openai", Model: "gpt-4"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("content = %q, want ok", resp.Content)
	}
	if provider.calls != 2 {
		t.Fatalf("calls = %d, want 2", provider.calls)
	}
}

func TestDispatcherReusesLimiterPerProviderModel(t *testing.T) {
	provider := &stubProvider{response: Response{Content: "x"}}
	d := NewDispatcher(provider, DispatcherConfig{}, clock.System{}, nil)

	d.Chat(context.Background(), Request{Provider: "openai", Model: "gpt-4"})
	d.Chat(context.Background(), Request{Provider: "openai", Model: "gpt-4"})
	d.Chat(context.Background(), Request{Provider: "openai", Model: "gpt-3.5"})

	if len(d.limiters) != 2 {
		t.Fatalf("limiters = %d, want 2 distinct (provider,model) keys", len(d.limiters))
	}
}

func TestModelLimitsLongestSubstringWins(t *testing.T) {
	limits := ModelLimits{
		{Substring: "gpt", RPM: 60},
		{Substring: "gpt-4", RPM: 500},
		{Substring: "gpt-4-turbo", RPM: 1000},
	}
	if got := limits.Lookup("gpt-4-turbo-preview"); got != 1000 {
		t.Fatalf("Lookup longest match = %d, want 1000", got)
	}
	if got := limits.Lookup("gpt-4"); got != 500 {
		t.Fatalf("Lookup = %d, want 500", got)
	}
	if got := limits.Lookup("claude-3"); got != defaultRPM {
		t.Fatalf("Lookup unmatched = %d, want default %d", got, defaultRPM)
	}
}
