package jobqueue

import (
	"context"
	"time"
)

// ListFilter narrows a List call. Zero-valued fields are ignored. When
// only Status is set, implementations should use the status index; when
// multiple fields are set, implementations load then filter as a
// conjunction.
type ListFilter struct {
	Status   Status
	TenantID string
	UserID   string
	Limit    int
}

// Store is the external key-value store contract spec'd in the
// "Persisted state layout" section: atomic string set with TTL, get,
// atomic list push/pop, set add/remove, key delete, key scan by pattern,
// TTL read, and ping. jobqueue.Queue is a thin orchestration layer over
// this interface; RedisStore and MemoryStore both satisfy it.
type Store interface {
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// SaveJob persists job, preserving or setting its TTL. When job.TTL is
	// zero the store's default TTL is used.
	SaveJob(ctx context.Context, job *Job) error

	// LoadJob returns the job, or (nil, nil) if absent or expired.
	LoadJob(ctx context.Context, id string) (*Job, error)

	// DeleteJob removes a job record outright (used by CleanupOld).
	DeleteJob(ctx context.Context, id string) error

	// JobTTL returns the remaining time-to-live on a job record, or <=0
	// if the key has no TTL or does not exist.
	JobTTL(ctx context.Context, id string) (time.Duration, error)

	// EnqueuePending appends id to the FIFO pending list.
	EnqueuePending(ctx context.Context, id string) error

	// PopPending atomically pops the oldest id off the pending list,
	// returning ("", nil) if the list is empty.
	PopPending(ctx context.Context) (string, error)

	// RemovePending removes id from the pending list wherever it
	// appears (used by Cancel); a linear scan is acceptable.
	RemovePending(ctx context.Context, id string) error

	// AddProcessing / RemoveProcessing maintain the processing-set
	// visibility index.
	AddProcessing(ctx context.Context, id string) error
	RemoveProcessing(ctx context.Context, id string) error

	// AddIndex / RemoveIndex maintain the status/tenant/user indices.
	AddIndex(ctx context.Context, index, id string) error
	RemoveIndex(ctx context.Context, index, id string) error
	IndexMembers(ctx context.Context, index string) ([]string, error)

	// AllJobIDs returns every job id currently stored (used by List when
	// no filter narrows the scan), via the store's key-scan primitive.
	AllJobIDs(ctx context.Context) ([]string, error)
}

// indexKeys returns the status/tenant/user index names a job currently
// belongs to.
func indexKeys(j *Job) []string {
	keys := []string{statusIndex(j.Status)}
	if j.TenantID != "" {
		keys = append(keys, tenantIndex(j.TenantID))
	}
	if j.UserID != "" {
		keys = append(keys, userIndex(j.UserID))
	}
	return keys
}

func statusIndex(s Status) string  { return "status:" + string(s) }
func tenantIndex(t string) string  { return "tenant:" + t }
func userIndex(u string) string    { return "user:" + u }

const defaultTTL = 24 * time.Hour
