// Package jobqueue implements the persistent job queue and worker pool:
// submit, track, and dispatch long-running work items with retry
// semantics against a shared external store. Handlers run under the
// worker pool's context; no per-job timeout is applied.
package jobqueue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is one node in the job lifecycle DAG. No transition leads out of
// StatusCompleted, StatusFailed, or StatusCancelled.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// RetryCountKey is the reserved metadata key the worker pool uses to track
// how many times a job has been retried.
const RetryCountKey = "retry_count"

// LastErrorKey is the reserved metadata key holding the most recent
// handler error message across retries.
const LastErrorKey = "last_error"

// Job is the durable record tracked by the queue. ID is assigned at
// submission and is immutable; Metadata["retry_count"] is reserved by the
// worker pool.
type Job struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Status          Status          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	TenantID        string          `json:"tenant_id,omitempty"`
	UserID          string          `json:"user_id,omitempty"`
	SessionID       string          `json:"session_id,omitempty"`
	Input           json.RawMessage `json:"input,omitempty"`
	Progress        int             `json:"progress"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	TTL             time.Duration   `json:"-"`
}

// NewID returns a fresh job identifier: 128 bits of randomness rendered
// as a UUID string, per spec.
func NewID() string {
	return uuid.NewString()
}

// Clamp restricts a progress value to the valid 0..100 range.
func Clamp(progress int) int {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}

// RetryCount reads the worker-reserved retry counter out of Metadata,
// defaulting to 0 when absent or of an unexpected type.
func (j *Job) RetryCount() int {
	if j == nil || j.Metadata == nil {
		return 0
	}
	switch v := j.Metadata[RetryCountKey].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Clone returns a deep-enough copy of j for callers that mutate the
// returned record without affecting a store's internal state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Metadata != nil {
		cp.Metadata = make(map[string]any, len(j.Metadata))
		for k, v := range j.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
