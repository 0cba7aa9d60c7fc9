// Package queue implements a durable, SQLite-backed job queue: delayed
// delivery, dedup by job ID, and retry with exponential backoff. The
// teacher's pkg/dispatch is an in-memory channel router with none of
// these properties, so this package pairs the teacher's persistence
// idiom (internal/persistence) with its retry/backoff idiom to get a
// queue that survives a process restart.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"conductor/internal/logx"
	"conductor/internal/metrics"
	"conductor/internal/persistence"
)

// Names of the well-known queues conductor routes jobs through.
const (
	Tasks         = "tasks"
	Subtasks      = "subtasks"
	Notifications = "notifications"
	CodeReview    = "code_review"
)

// RetryPolicy configures exponential backoff with jitter, mirroring the
// shape of the teacher's resilience/retry.Config.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultRetryPolicy matches spec §4.3/§7 (N=3, base 5s, cap 60s), not
// the teacher's own retry.DefaultConfig.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:   3,
	InitialDelay:  5 * time.Second,
	MaxDelay:      60 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// CalculateDelay returns the delay to wait before attempt number `attempt`
// (1-indexed; attempt 1 is the first retry after the initial failure).
func (p RetryPolicy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-1)))
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter && delay > 0 {
		jitter := time.Duration(rand.Int63n(int64(delay) / 5)) //nolint:gosec // queue backoff jitter, not security sensitive
		delay += jitter
	}
	return delay
}

// Job is one unit of work claimed off a queue.
type Job struct {
	ID         int64
	QueueName  string
	JobID      string
	Payload    []byte
	Attempts   int
	MaxAttempts int
}

// Handler processes one job. Returning a non-nil error schedules a retry
// (until MaxAttempts is exhausted, at which point the job is marked dead).
type Handler func(ctx context.Context, job Job) error

// Queue is a durable job queue bound to the persistence singleton database.
type Queue struct {
	db      *sql.DB
	policy  RetryPolicy
	Metrics metrics.Recorder
	logger  *logx.Logger
}

// New constructs a Queue bound to the current persistence database. Call
// persistence.Initialize before constructing a Queue.
func New(policy RetryPolicy) *Queue {
	return &Queue{
		db:      persistence.GetDB(),
		policy:  policy,
		Metrics: metrics.Nop(),
		logger:  logx.NewLogger("queue"),
	}
}

// Depth reports the number of pending jobs on queueName.
func (q *Queue) Depth(queueName string) (int, error) {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM queue_jobs WHERE queue_name = ? AND status = 'pending'`, queueName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return n, nil
}

// Enqueue schedules a job for immediate delivery. If a job with the same
// (queueName, jobID) already exists, this is a no-op — the caller's
// operation is idempotent under at-least-once webhook/event redelivery.
func (q *Queue) Enqueue(queueName, jobID string, payload any) error {
	return q.EnqueueAt(queueName, jobID, payload, time.Time{})
}

// EnqueueAt schedules a job for delivery no earlier than runAt. A zero
// runAt means "as soon as a worker is free."
func (q *Queue) EnqueueAt(queueName, jobID string, payload any, runAt time.Time) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	if runAt.IsZero() {
		runAt = time.Now().UTC()
	}

	_, err = q.db.Exec(`
		INSERT INTO queue_jobs (queue_name, job_id, payload, status, max_attempts, run_at)
		VALUES (?, ?, ?, 'pending', ?, ?)
		ON CONFLICT(queue_name, job_id) DO NOTHING
	`, queueName, jobID, string(body), q.policy.MaxAttempts, runAt)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Claim atomically reserves up to `limit` pending, due jobs on a queue for
// worker. SQLite's enforced single-writer connection makes the
// select-then-update pair race-free without a separate application lock.
func (q *Queue) Claim(queueName, worker string, limit int) ([]Job, error) {
	tx, err := q.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort rollback on every return path

	rows, err := tx.Query(`
		SELECT id, job_id, payload, attempts, max_attempts
		FROM queue_jobs
		WHERE queue_name = ? AND status = 'pending' AND run_at <= ?
		ORDER BY run_at ASC
		LIMIT ?
	`, queueName, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query claimable jobs: %w", err)
	}

	var claimed []Job
	for rows.Next() {
		var j Job
		var payload string
		if err := rows.Scan(&j.ID, &j.JobID, &payload, &j.Attempts, &j.MaxAttempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan claimable job: %w", err)
		}
		j.QueueName = queueName
		j.Payload = []byte(payload)
		claimed = append(claimed, j)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate claimable jobs: %w", err)
	}
	rows.Close()

	for _, j := range claimed {
		if _, err := tx.Exec(`
			UPDATE queue_jobs SET status = 'claimed', claimed_by = ?, claimed_at = ?, updated_at = ? WHERE id = ?
		`, worker, time.Now().UTC(), time.Now().UTC(), j.ID); err != nil {
			return nil, fmt.Errorf("mark job claimed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return claimed, nil
}

// Complete marks a claimed job done.
func (q *Queue) Complete(jobID int64) error {
	_, err := q.db.Exec(`UPDATE queue_jobs SET status = 'done', updated_at = ? WHERE id = ?`, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Fail records a job failure. If attempts remain, the job is rescheduled
// with backoff; otherwise it is marked dead.
func (q *Queue) Fail(job Job, cause error) error {
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		_, err := q.db.Exec(`
			UPDATE queue_jobs SET status = 'dead', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?
		`, attempts, cause.Error(), time.Now().UTC(), job.ID)
		if err != nil {
			return fmt.Errorf("mark job dead: %w", err)
		}
		q.logger.Error("job %s/%s exhausted %d attempts, last error: %v", job.QueueName, job.JobID, attempts, cause)
		return nil
	}

	delay := q.policy.CalculateDelay(attempts)
	runAt := time.Now().UTC().Add(delay)
	_, err := q.db.Exec(`
		UPDATE queue_jobs SET status = 'pending', attempts = ?, last_error = ?, run_at = ?, updated_at = ? WHERE id = ?
	`, attempts, cause.Error(), runAt, time.Now().UTC(), job.ID)
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	q.logger.Warn("job %s/%s failed (attempt %d/%d), retrying at %s: %v",
		job.QueueName, job.JobID, attempts, job.MaxAttempts, runAt.Format(time.RFC3339), cause)
	return nil
}

// ErrQueueClosed is returned by Run once its context is cancelled.
var ErrQueueClosed = errors.New("queue: consumer stopped")

// Run polls queueName every pollInterval, claiming up to concurrency jobs
// at a time and dispatching each to handler on its own goroutine, bounded
// by a semaphore of size concurrency. Run blocks until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, queueName string, concurrency int, pollInterval time.Duration, handler Handler) error {
	worker := fmt.Sprintf("%s-consumer", queueName)
	sem := make(chan struct{}, concurrency)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ErrQueueClosed
		case <-ticker.C:
			if depth, err := q.Depth(queueName); err == nil {
				q.Metrics.SetQueueDepth(queueName, float64(depth))
			}
			free := concurrency - len(sem)
			if free <= 0 {
				continue
			}
			jobs, err := q.Claim(queueName, worker, free)
			if err != nil {
				q.logger.Error("claim failed on queue %s: %v", queueName, err)
				continue
			}
			for _, job := range jobs {
				sem <- struct{}{}
				go func(j Job) {
					defer func() { <-sem }()
					if err := handler(ctx, j); err != nil {
						if ferr := q.Fail(j, err); ferr != nil {
							q.logger.Error("failed to record failure for job %d: %v", j.ID, ferr)
						}
						return
					}
					if cerr := q.Complete(j.ID); cerr != nil {
						q.logger.Error("failed to mark job %d complete: %v", j.ID, cerr)
					}
				}(job)
			}
		}
	}
}
