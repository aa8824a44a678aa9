package jobqueue

import (
	"context"
	"encoding/json"
	"sync"
)

// JobContext is the handler-facing view of a running job: its immutable
// submission fields plus a ReportProgress callback so long-running
// handlers can push incremental progress without holding a reference to
// the Queue itself.
type JobContext struct {
	Job            *Job
	ReportProgress func(ctx context.Context, progress int, message string) error
}

// Handler processes one job and returns its result payload, or an error
// to trigger the retry/fail path. Handlers should respect ctx
// cancellation for graceful worker shutdown.
type Handler func(ctx context.Context, jc *JobContext) (json.RawMessage, error)

// Registry is a flat job-type -> Handler map, safe for concurrent
// registration and lookup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register associates jobType with handler, replacing any prior handler
// for the same type.
func (r *Registry) Register(jobType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = handler
}

// Get returns the handler for jobType, or (nil, false) if none is
// registered.
func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}
