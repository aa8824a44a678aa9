package workerapp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aifleet/corelib/internal/jobqueue"
	"github.com/aifleet/corelib/internal/llmdispatch"
)

// chatJobInput is the payload shape accepted by the "chat" job type.
type chatJobInput struct {
	Provider string                `json:"provider"`
	Model    string                `json:"model"`
	Messages []llmdispatch.Message `json:"messages"`
}

// chatJobHandler adapts a Dispatcher into a jobqueue.Handler, so chat
// completions can be queued, retried, and rate-limited through the
// same worker pool as any other background job.
func chatJobHandler(dispatcher *llmdispatch.Dispatcher) jobqueue.Handler {
	return func(ctx context.Context, jc *jobqueue.JobContext) (json.RawMessage, error) {
		var in chatJobInput
		if err := json.Unmarshal(jc.Job.Input, &in); err != nil {
			return nil, fmt.Errorf("decode chat job input: %w", err)
		}

		if err := jc.ReportProgress(ctx, 25, "dispatching to provider"); err != nil {
			return nil, err
		}

		resp, err := dispatcher.Chat(ctx, llmdispatch.Request{
			Provider: in.Provider,
			Model:    in.Model,
			Messages: in.Messages,
		})
		if err != nil {
			return nil, err
		}

		if err := jc.ReportProgress(ctx, 90, "formatting result"); err != nil {
			return nil, err
		}

		return json.Marshal(resp)
	}
}
