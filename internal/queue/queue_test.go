package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"conductor/internal/persistence"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	require.NoError(t, persistence.Reset())
	dbPath := filepath.Join(t.TempDir(), "conductor.db")
	require.NoError(t, persistence.Initialize(dbPath))
	t.Cleanup(func() { _ = persistence.Reset() })

	policy := DefaultRetryPolicy
	policy.InitialDelay = time.Millisecond
	policy.MaxDelay = 5 * time.Millisecond
	policy.Jitter = false
	return New(policy)
}

func TestEnqueueDedupsByJobID(t *testing.T) {
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(Tasks, "job-1", map[string]string{"a": "1"}))
	require.NoError(t, q.Enqueue(Tasks, "job-1", map[string]string{"a": "2"}))

	jobs, err := q.Claim(Tasks, "test-worker", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Contains(t, string(jobs[0].Payload), `"a":"1"`)
}

func TestEnqueueAtDelaysDelivery(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.EnqueueAt(Tasks, "job-future", nil, time.Now().Add(time.Hour)))

	jobs, err := q.Claim(Tasks, "test-worker", 10)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestClaimIsExclusive(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Enqueue(Subtasks, "job-1", nil))

	first, err := q.Claim(Subtasks, "worker-a", 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := q.Claim(Subtasks, "worker-b", 10)
	require.NoError(t, err)
	require.Empty(t, second)
}

func TestFailReschedulesUntilExhausted(t *testing.T) {
	q := newTestQueue(t)
	q.policy.MaxAttempts = 2
	require.NoError(t, q.Enqueue(Notifications, "job-1", nil))

	jobs, err := q.Claim(Notifications, "worker", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.NoError(t, q.Fail(jobs[0], errors.New("transient")))

	// still retryable: run_at pushed into the future, not immediately claimable
	again, err := q.Claim(Notifications, "worker", 10)
	require.NoError(t, err)
	require.Empty(t, again)

	time.Sleep(20 * time.Millisecond)
	again, err = q.Claim(Notifications, "worker", 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, 1, again[0].Attempts)

	require.NoError(t, q.Fail(again[0], errors.New("still failing")))

	var deadCount int
	row := q.db.QueryRow(`SELECT COUNT(*) FROM queue_jobs WHERE status = 'dead'`)
	require.NoError(t, row.Scan(&deadCount))
	require.Equal(t, 1, deadCount)
}

func TestRunDispatchesToHandlerAndCompletes(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Enqueue(CodeReview, "job-1", nil))

	var handled atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := q.Run(ctx, CodeReview, 2, 5*time.Millisecond, func(_ context.Context, _ Job) error {
		handled.Add(1)
		return nil
	})
	require.ErrorIs(t, err, ErrQueueClosed)
	require.Equal(t, int32(1), handled.Load())
}
