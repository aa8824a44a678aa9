package jobqueue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aifleet/corelib/internal/clock"
)

func newTestQueue(t *testing.T) (*Queue, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	q, err := New(NewMemoryStore(), fake, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q, fake
}

func TestSubmitAndGet(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, "greet", map[string]string{"name": "ada"}, SubmitOptions{TenantID: "t1", UserID: "u1"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id == "" {
		t.Fatalf("Submit returned empty id")
	}

	job, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job == nil {
		t.Fatalf("Get returned nil for submitted job")
	}
	if job.Status != StatusPending {
		t.Fatalf("status = %q, want pending", job.Status)
	}
	if job.TenantID != "t1" || job.UserID != "u1" {
		t.Fatalf("scoping fields not preserved: %+v", job)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	q, _ := newTestQueue(t)
	job, err := q.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job != nil {
		t.Fatalf("Get on missing id returned non-nil: %+v", job)
	}
}

func TestGetPendingEmptyQueueReturnsNil(t *testing.T) {
	q, _ := newTestQueue(t)
	job, err := q.GetPending(context.Background())
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if job != nil {
		t.Fatalf("GetPending on empty queue returned %+v, want nil", job)
	}
}

func TestGetPendingTransitionsToProcessing(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, _ := q.Submit(ctx, "greet", nil, SubmitOptions{})
	job, err := q.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if job == nil || job.ID != id {
		t.Fatalf("GetPending returned %+v, want job %s", job, id)
	}
	if job.Status != StatusProcessing {
		t.Fatalf("status = %q, want processing", job.Status)
	}

	pending, err := q.List(ctx, ListFilter{Status: StatusPending})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending index still contains job after GetPending: %+v", pending)
	}

	processing, err := q.List(ctx, ListFilter{Status: StatusProcessing})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(processing) != 1 || processing[0].ID != id {
		t.Fatalf("processing index = %+v, want one entry for %s", processing, id)
	}
}

func TestFIFOOrdering(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first, _ := q.Submit(ctx, "t", nil, SubmitOptions{})
	second, _ := q.Submit(ctx, "t", nil, SubmitOptions{})

	got1, _ := q.GetPending(ctx)
	got2, _ := q.GetPending(ctx)
	if got1.ID != first || got2.ID != second {
		t.Fatalf("FIFO violated: got %s, %s; want %s, %s", got1.ID, got2.ID, first, second)
	}
}

func TestUpdateProgressClamps(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	id, _ := q.Submit(ctx, "t", nil, SubmitOptions{})

	if err := q.UpdateProgress(ctx, id, 150, "almost done"); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	job, _ := q.Get(ctx, id)
	if job.Progress != 100 {
		t.Fatalf("progress = %d, want clamped to 100", job.Progress)
	}
	if job.ProgressMessage != "almost done" {
		t.Fatalf("progress message not stored: %+v", job)
	}
}

func TestUpdateProgressOnMissingJobIsNoop(t *testing.T) {
	q, _ := newTestQueue(t)
	if err := q.UpdateProgress(context.Background(), "missing", 50, ""); err != nil {
		t.Fatalf("UpdateProgress on missing job returned error: %v", err)
	}
}

func TestCompleteSetsResultAndRemovesFromProcessing(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	id, _ := q.Submit(ctx, "t", nil, SubmitOptions{})
	q.GetPending(ctx)

	if err := q.Complete(ctx, id, map[string]string{"ok": "true"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	job, _ := q.Get(ctx, id)
	if job.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", job.Status)
	}
	if job.Progress != 100 {
		t.Fatalf("progress = %d, want 100", job.Progress)
	}
	var result map[string]string
	if err := json.Unmarshal(job.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["ok"] != "true" {
		t.Fatalf("result not preserved: %+v", result)
	}

	processing, _ := q.List(ctx, ListFilter{Status: StatusProcessing})
	if len(processing) != 0 {
		t.Fatalf("completed job still in processing index: %+v", processing)
	}
}

func TestFailSetsErrorAndRemovesFromProcessing(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	id, _ := q.Submit(ctx, "t", nil, SubmitOptions{})
	q.GetPending(ctx)

	if err := q.Fail(ctx, id, errBoom); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	job, _ := q.Get(ctx, id)
	if job.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}
	if job.Error != errBoom.Error() {
		t.Fatalf("error = %q, want %q", job.Error, errBoom.Error())
	}
}

func TestRequeueReturnsJobToPendingWithMetadata(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	id, _ := q.Submit(ctx, "t", nil, SubmitOptions{})
	q.GetPending(ctx)

	if err := q.Requeue(ctx, id, map[string]any{RetryCountKey: 1, LastErrorKey: "boom"}); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	job, _ := q.Get(ctx, id)
	if job.Status != StatusPending {
		t.Fatalf("status = %q, want pending", job.Status)
	}
	if job.RetryCount() != 1 {
		t.Fatalf("retry count = %d, want 1", job.RetryCount())
	}

	again, err := q.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending after requeue: %v", err)
	}
	if again == nil || again.ID != id {
		t.Fatalf("requeued job was not re-pushed onto the pending list: %+v", again)
	}
}

func TestCancelPendingJob(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	id, _ := q.Submit(ctx, "t", nil, SubmitOptions{})

	ok, err := q.Cancel(ctx, id)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !ok {
		t.Fatalf("Cancel returned false for a pending job")
	}

	job, _ := q.Get(ctx, id)
	if job.Status != StatusCancelled {
		t.Fatalf("status = %q, want cancelled", job.Status)
	}

	next, _ := q.GetPending(ctx)
	if next != nil {
		t.Fatalf("cancelled job still poppable from pending list: %+v", next)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	id, _ := q.Submit(ctx, "t", nil, SubmitOptions{})

	first, err := q.Cancel(ctx, id)
	if err != nil || !first {
		t.Fatalf("first Cancel = (%v, %v), want (true, nil)", first, err)
	}
	second, err := q.Cancel(ctx, id)
	if err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if second {
		t.Fatalf("second Cancel on an already-cancelled job returned true")
	}
}

func TestCancelOnTerminalJobReturnsFalse(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	id, _ := q.Submit(ctx, "t", nil, SubmitOptions{})
	q.GetPending(ctx)
	q.Complete(ctx, id, nil)

	ok, err := q.Cancel(ctx, id)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ok {
		t.Fatalf("Cancel on a completed job returned true")
	}
}

func TestListFiltersByTenantAndUser(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	q.Submit(ctx, "t", nil, SubmitOptions{TenantID: "acme", UserID: "alice"})
	q.Submit(ctx, "t", nil, SubmitOptions{TenantID: "acme", UserID: "bob"})
	q.Submit(ctx, "t", nil, SubmitOptions{TenantID: "globex", UserID: "carol"})

	acme, err := q.List(ctx, ListFilter{TenantID: "acme"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(acme) != 2 {
		t.Fatalf("tenant filter returned %d jobs, want 2", len(acme))
	}

	alice, err := q.List(ctx, ListFilter{TenantID: "acme", UserID: "alice"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(alice) != 1 {
		t.Fatalf("conjunction filter returned %d jobs, want 1", len(alice))
	}
}

func TestListNewestFirst(t *testing.T) {
	q, fake := newTestQueue(t)
	ctx := context.Background()

	first, _ := q.Submit(ctx, "t", nil, SubmitOptions{})
	fake.Advance(time.Minute)
	second, _ := q.Submit(ctx, "t", nil, SubmitOptions{})

	jobs, err := q.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != second || jobs[1].ID != first {
		t.Fatalf("List not newest-first: %+v", jobs)
	}
}

func TestCleanupOldDeletesOnlyTerminalJobsPastThreshold(t *testing.T) {
	q, fake := newTestQueue(t)
	ctx := context.Background()

	oldID, _ := q.Submit(ctx, "t", nil, SubmitOptions{})
	q.GetPending(ctx)
	q.Complete(ctx, oldID, nil)

	fake.Advance(2 * time.Hour)

	freshID, _ := q.Submit(ctx, "t", nil, SubmitOptions{})
	q.GetPending(ctx)
	q.Complete(ctx, freshID, nil)

	deleted, err := q.CleanupOld(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupOld: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	if job, _ := q.Get(ctx, oldID); job != nil {
		t.Fatalf("old completed job survived cleanup: %+v", job)
	}
	if job, _ := q.Get(ctx, freshID); job == nil {
		t.Fatalf("fresh completed job was incorrectly cleaned up")
	}
}

func TestCleanupOldOnEmptyStoreIsNoop(t *testing.T) {
	q, _ := newTestQueue(t)
	deleted, err := q.CleanupOld(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("CleanupOld: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("deleted = %d, want 0", deleted)
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errBoom = testError("boom")
