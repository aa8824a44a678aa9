package workerapp

import (
	"context"
	"fmt"
	"strings"

	"github.com/aifleet/corelib/internal/llmdispatch"
)

// mockProvider is a deterministic llmdispatch.Provider with no upstream
// dependency, standing in for a real model backend in the demo host.
type mockProvider struct{}

func (mockProvider) Chat(ctx context.Context, req llmdispatch.Request) (llmdispatch.Response, error) {
	_ = ctx
	var user string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if strings.EqualFold(req.Messages[i].Role, "user") {
			user = req.Messages[i].Content
			break
		}
	}
	if strings.TrimSpace(user) == "" {
		return llmdispatch.Response{Content: "mock: ok"}, nil
	}
	return llmdispatch.Response{
		Content: fmt.Sprintf("mock: %s", user),
		Usage:   llmdispatch.Usage{PromptTokens: len(user), CompletionTokens: len(user)},
	}, nil
}
