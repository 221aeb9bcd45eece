// Package queue holds the durable named job queues. Jobs carry deterministic
// ids derived from business identifiers, so re-publishing the same trigger
// never enqueues duplicate work.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrJobNotFound = errors.New("job not found")

const DefaultMaxAttempts = 5

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Job struct {
	// ID is the idempotency key: enqueueing an id that already exists is a
	// no-op.
	ID            string          `json:"id"`
	Queue         string          `json:"queue"`
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	// Priority: lower number runs sooner.
	Priority int `json:"priority"`
	// Delay defers the first attempt; only meaningful at enqueue time.
	Delay       time.Duration `json:"delay,omitempty"`
	MaxAttempts int           `json:"max_attempts"`
	// RepeatEvery re-arms the job after each completion; used by the
	// maintenance sweeps.
	RepeatEvery  time.Duration   `json:"repeat_every,omitempty"`
	AttemptsMade int             `json:"attempts_made"`
	Status       Status          `json:"status"`
	RunAt        time.Time       `json:"run_at"`
	Result       json.RawMessage `json:"result,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Stats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// Queue is the durable store behind the worker pools. Claim hands out at most
// one copy of a job at a time; a claimed job stays invisible until it is
// completed, retried or marked failed.
type Queue interface {
	// Enqueue inserts the job, reporting false when the id already exists.
	Enqueue(ctx context.Context, job Job) (bool, error)
	// Claim pops the runnable job with the lowest priority number, earliest
	// run time. Returns nil when the queue has nothing due.
	Claim(ctx context.Context, queueName string) (*Job, error)
	// Complete records the handler's return value. Repeating jobs are
	// re-armed instead of finishing.
	Complete(ctx context.Context, jobID string, result []byte) error
	// Retry schedules another attempt.
	Retry(ctx context.Context, jobID string, runAt time.Time, lastError string) error
	// MarkFailed finishes the job as failed; it stays inspectable.
	MarkFailed(ctx context.Context, jobID string, lastError string) error
	JobByID(ctx context.Context, jobID string) (*Job, error)
	Stats(ctx context.Context, queueName string) (Stats, error)
	// Purge drops every job in the queue. Admin only; the surrounding system
	// owns the authorization check.
	Purge(ctx context.Context, queueName string) (int64, error)
}

// Backoff is the retry delay before attempt n+1: exponential, capped at one
// minute.
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 5 {
		attempts = 5
	}
	delay := time.Duration(1<<attempts) * time.Second
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

func normalize(job Job) Job {
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	now := time.Now().UTC()
	job.Status = StatusPending
	job.RunAt = now.Add(job.Delay)
	job.CreatedAt = now
	return job
}
