package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/aifleet/corelib/internal/clock"
	"github.com/aifleet/corelib/internal/corelog"
)

// SubmitOptions carries the optional scoping/metadata fields for Submit.
type SubmitOptions struct {
	TenantID  string
	UserID    string
	SessionID string
	Metadata  map[string]any
	TTL       time.Duration
}

// Queue is the public job-queue API: submit, track, and control jobs
// backed by a Store. It is safe for concurrent use; all serialization
// happens inside the Store's own atomic primitives.
type Queue struct {
	store Store
	clock clock.Clock
	log   *corelog.Logger
}

// New builds a Queue over store. log and clk may be nil, in which case a
// no-op logger and the system clock are used.
func New(store Store, clk clock.Clock, log *corelog.Logger) (*Queue, error) {
	if store == nil {
		return nil, &ConfigError{Field: "store", Reason: "must not be nil"}
	}
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = corelog.Noop()
	}
	return &Queue{store: store, clock: clk, log: log.With("component", "jobqueue.Queue")}, nil
}

// Submit creates a new pending job, persists it, and appends it to the
// FIFO pending queue. It fails only if the store is unreachable.
func (q *Queue) Submit(ctx context.Context, jobType string, input any, opts SubmitOptions) (string, error) {
	raw, err := marshalInput(input)
	if err != nil {
		return "", fmt.Errorf("jobqueue: marshal input: %w", err)
	}
	now := q.clock.Now()
	job := &Job{
		ID:        NewID(),
		Type:      jobType,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		TenantID:  opts.TenantID,
		UserID:    opts.UserID,
		SessionID: opts.SessionID,
		Input:     raw,
		Metadata:  opts.Metadata,
		TTL:       opts.TTL,
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		return "", fmt.Errorf("jobqueue: submit: %w", err)
	}
	if err := q.store.EnqueuePending(ctx, job.ID); err != nil {
		return "", fmt.Errorf("jobqueue: enqueue pending: %w", err)
	}
	for _, idx := range indexKeys(job) {
		if err := q.store.AddIndex(ctx, idx, job.ID); err != nil {
			q.log.Warn("failed to add job to index", "job_id", job.ID, "index", idx, "error", err)
		}
	}
	q.log.Info("job submitted", "job_id", job.ID, "type", jobType)
	return job.ID, nil
}

func marshalInput(input any) (json.RawMessage, error) {
	if input == nil {
		return nil, nil
	}
	if raw, ok := input.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(input)
}

// Get returns the current record for id, or nil if absent or expired.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	job, err := q.store.LoadJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: get %s: %w", id, err)
	}
	return job, nil
}

// GetPending atomically pops the next id off the pending list, loads its
// record, transitions it to processing, adds it to the processing set,
// and returns it. If the popped id has no record (it expired), GetPending
// returns (nil, nil) without retrying — callers poll again. An empty
// queue also returns (nil, nil).
func (q *Queue) GetPending(ctx context.Context) (*Job, error) {
	id, err := q.store.PopPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: pop pending: %w", err)
	}
	if id == "" {
		return nil, nil
	}
	job, err := q.store.LoadJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: load popped job %s: %w", id, err)
	}
	if job == nil {
		q.log.Warn("popped job id has no record; skipping", "job_id", id)
		return nil, nil
	}
	q.transitionStatus(ctx, job, StatusProcessing)
	if err := q.store.AddProcessing(ctx, job.ID); err != nil {
		q.log.Warn("failed to add job to processing set", "job_id", job.ID, "error", err)
	}
	if err := q.saveWithTTL(ctx, job); err != nil {
		q.log.Warn("failed to persist processing transition", "job_id", job.ID, "error", err)
	}
	return job, nil
}

// UpdateProgress clamps progress to 0..100 and stores it, along with an
// optional message. No-op if the record is absent.
func (q *Queue) UpdateProgress(ctx context.Context, id string, progress int, message string) error {
	job, err := q.store.LoadJob(ctx, id)
	if err != nil {
		return fmt.Errorf("jobqueue: update_progress load %s: %w", id, err)
	}
	if job == nil {
		return nil
	}
	job.Progress = Clamp(progress)
	if message != "" {
		job.ProgressMessage = message
	}
	job.UpdatedAt = q.clock.Now()
	return q.saveWithTTL(ctx, job)
}

// Complete marks a job completed, sets progress to 100, stores result,
// and removes it from the processing set.
func (q *Queue) Complete(ctx context.Context, id string, result any) error {
	job, err := q.store.LoadJob(ctx, id)
	if err != nil {
		return fmt.Errorf("jobqueue: complete load %s: %w", id, err)
	}
	if job == nil {
		return nil
	}
	raw, err := marshalInput(result)
	if err != nil {
		return fmt.Errorf("jobqueue: marshal result: %w", err)
	}
	q.transitionStatus(ctx, job, StatusCompleted)
	job.Progress = 100
	job.Result = raw
	if err := q.store.RemoveProcessing(ctx, job.ID); err != nil {
		q.log.Warn("failed to remove job from processing set", "job_id", job.ID, "error", err)
	}
	return q.saveWithTTL(ctx, job)
}

// Fail marks a job failed with the given error string and removes it
// from the processing set.
func (q *Queue) Fail(ctx context.Context, id string, cause error) error {
	job, err := q.store.LoadJob(ctx, id)
	if err != nil {
		return fmt.Errorf("jobqueue: fail load %s: %w", id, err)
	}
	if job == nil {
		return nil
	}
	q.transitionStatus(ctx, job, StatusFailed)
	if cause != nil {
		job.Error = cause.Error()
	}
	if err := q.store.RemoveProcessing(ctx, job.ID); err != nil {
		q.log.Warn("failed to remove job from processing set", "job_id", job.ID, "error", err)
	}
	return q.saveWithTTL(ctx, job)
}

// Requeue transitions a job back to pending for a worker retry, merging
// metadata (typically an incremented retry_count and last_error), and
// re-pushes the id onto the pending list so a subsequent GetPending finds
// it — the behavior spec.md mandates over the source's inconsistent
// re-queue handling.
func (q *Queue) Requeue(ctx context.Context, id string, metadata map[string]any) error {
	job, err := q.store.LoadJob(ctx, id)
	if err != nil {
		return fmt.Errorf("jobqueue: requeue load %s: %w", id, err)
	}
	if job == nil {
		return nil
	}
	q.transitionStatus(ctx, job, StatusPending)
	if job.Metadata == nil {
		job.Metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		job.Metadata[k] = v
	}
	if err := q.store.RemoveProcessing(ctx, job.ID); err != nil {
		q.log.Warn("failed to remove job from processing set on requeue", "job_id", job.ID, "error", err)
	}
	if err := q.saveWithTTL(ctx, job); err != nil {
		return err
	}
	return q.store.EnqueuePending(ctx, job.ID)
}

// Cancel transitions a pending or processing job to cancelled. It is
// idempotent: a second call on an already-terminal job returns false
// without mutating state.
func (q *Queue) Cancel(ctx context.Context, id string) (bool, error) {
	job, err := q.store.LoadJob(ctx, id)
	if err != nil {
		return false, fmt.Errorf("jobqueue: cancel load %s: %w", id, err)
	}
	if job == nil {
		return false, nil
	}
	if job.Status != StatusPending && job.Status != StatusProcessing {
		return false, nil
	}
	q.transitionStatus(ctx, job, StatusCancelled)
	if err := q.store.RemovePending(ctx, id); err != nil {
		q.log.Warn("failed to remove job from pending list on cancel", "job_id", id, "error", err)
	}
	if err := q.store.RemoveProcessing(ctx, id); err != nil {
		q.log.Warn("failed to remove job from processing set on cancel", "job_id", id, "error", err)
	}
	if err := q.saveWithTTL(ctx, job); err != nil {
		return false, err
	}
	return true, nil
}

// List returns jobs matching filter, newest-first by created_at, limited
// to filter.Limit (default 100). When only Status is set, the status
// index is used; multiple filters are applied as a conjunction after
// loading.
func (q *Queue) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	ids, err := q.candidateIDs(ctx, filter)
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.store.LoadJob(ctx, id)
		if err != nil {
			q.log.Warn("failed to load candidate job", "job_id", id, "error", err)
			continue
		}
		if job == nil {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.TenantID != "" && job.TenantID != filter.TenantID {
			continue
		}
		if filter.UserID != "" && job.UserID != filter.UserID {
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (q *Queue) candidateIDs(ctx context.Context, filter ListFilter) ([]string, error) {
	switch {
	case filter.Status != "":
		return q.store.IndexMembers(ctx, statusIndex(filter.Status))
	case filter.TenantID != "":
		return q.store.IndexMembers(ctx, tenantIndex(filter.TenantID))
	case filter.UserID != "":
		return q.store.IndexMembers(ctx, userIndex(filter.UserID))
	default:
		return q.store.AllJobIDs(ctx)
	}
}

// CleanupOld scans the completed/failed/cancelled status indices and
// deletes records whose CreatedAt is older than olderThan, pruning their
// index memberships. It returns the number of records deleted.
func (q *Queue) CleanupOld(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := q.clock.Now().Add(-olderThan)
	deleted := 0

	for _, status := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		idx := statusIndex(status)
		ids, err := q.store.IndexMembers(ctx, idx)
		if err != nil {
			return deleted, fmt.Errorf("jobqueue: cleanup_old index %s: %w", idx, err)
		}
		for _, id := range ids {
			job, err := q.store.LoadJob(ctx, id)
			if err != nil {
				q.log.Warn("cleanup_old: failed to load job", "job_id", id, "error", err)
				continue
			}
			if job == nil {
				// expired already; prune the stale index entry.
				_ = q.store.RemoveIndex(ctx, idx, id)
				continue
			}
			if job.CreatedAt.After(cutoff) {
				continue
			}
			if err := q.store.DeleteJob(ctx, id); err != nil {
				q.log.Warn("cleanup_old: failed to delete job", "job_id", id, "error", err)
				continue
			}
			for _, key := range indexKeys(job) {
				_ = q.store.RemoveIndex(ctx, key, id)
			}
			deleted++
		}
	}
	if deleted > 0 {
		q.log.Info("cleaned up old jobs", "count", deleted)
	}
	return deleted, nil
}

// transitionStatus moves job to next, removing it from its old status
// index so a job never accumulates membership in more than one status
// index at a time. The caller is responsible for adding the new status
// index membership (saveWithTTL does this for every index indexKeys
// reports against the job's post-transition state).
func (q *Queue) transitionStatus(ctx context.Context, job *Job, next Status) {
	if job.Status != next {
		if err := q.store.RemoveIndex(ctx, statusIndex(job.Status), job.ID); err != nil {
			q.log.Warn("failed to remove old status index membership", "job_id", job.ID, "status", job.Status, "error", err)
		}
	}
	job.Status = next
}

// saveWithTTL persists job, preserving its remaining TTL so a mutation
// never implicitly extends a record's lifetime beyond the default when no
// prior TTL exists, and re-syncs the status index for the transition.
func (q *Queue) saveWithTTL(ctx context.Context, job *Job) error {
	if remaining, err := q.store.JobTTL(ctx, job.ID); err == nil && remaining > 0 {
		job.TTL = remaining
	}
	job.UpdatedAt = q.clock.Now()
	if err := q.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("jobqueue: save %s: %w", job.ID, err)
	}
	for _, key := range indexKeys(job) {
		if err := q.store.AddIndex(ctx, key, job.ID); err != nil {
			q.log.Warn("failed to refresh index membership", "job_id", job.ID, "index", key, "error", err)
		}
	}
	return nil
}
