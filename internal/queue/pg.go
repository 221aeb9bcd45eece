package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgQueue stores jobs in the jobs table. Claims use FOR UPDATE SKIP LOCKED so
// competing workers never double-run a job.
type PgQueue struct {
	pool *pgxpool.Pool
}

func NewPgQueue(pool *pgxpool.Pool) *PgQueue {
	return &PgQueue{pool: pool}
}

func (q *PgQueue) Enqueue(ctx context.Context, job Job) (bool, error) {
	job = normalize(job)
	tag, err := q.pool.Exec(ctx, `
		INSERT INTO jobs (id, queue_name, job_type, correlation_id, payload, priority,
		                  max_attempts, repeat_every_ms, status, run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (id) DO NOTHING`,
		job.ID, job.Queue, job.Type, job.CorrelationID, []byte(job.Payload), job.Priority,
		job.MaxAttempts, job.RepeatEvery.Milliseconds(), job.Status, job.RunAt, job.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("enqueue job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *PgQueue) Claim(ctx context.Context, queueName string) (*Job, error) {
	row := q.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = $2, attempts = attempts + 1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue_name = $1 AND status = $3 AND run_at <= NOW()
			ORDER BY priority, run_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, queue_name, job_type, correlation_id, payload, priority,
		          max_attempts, repeat_every_ms, attempts, status, run_at, created_at`,
		queueName, StatusActive, StatusPending,
	)

	job, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var job Job
	var payload []byte
	var repeatMs int64
	err := row.Scan(&job.ID, &job.Queue, &job.Type, &job.CorrelationID, &payload, &job.Priority,
		&job.MaxAttempts, &repeatMs, &job.AttemptsMade, &job.Status, &job.RunAt, &job.CreatedAt)
	if err != nil {
		return nil, err
	}
	job.Payload = payload
	job.RepeatEvery = time.Duration(repeatMs) * time.Millisecond
	return &job, nil
}

func (q *PgQueue) Complete(ctx context.Context, jobID string, result []byte) error {
	// Repeating jobs go back to pending for their next tick; one-shot jobs
	// finish with the handler's return value.
	tag, err := q.pool.Exec(ctx, `
		UPDATE jobs
		SET status    = CASE WHEN repeat_every_ms > 0 THEN $2 ELSE $3 END,
		    run_at    = CASE WHEN repeat_every_ms > 0
		                     THEN NOW() + make_interval(secs => repeat_every_ms / 1000.0)
		                     ELSE run_at END,
		    attempts  = CASE WHEN repeat_every_ms > 0 THEN 0 ELSE attempts END,
		    result    = $4,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1`,
		jobID, StatusPending, StatusCompleted, result,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete %s: %w", jobID, ErrJobNotFound)
	}
	return nil
}

func (q *PgQueue) Retry(ctx context.Context, jobID string, runAt time.Time, lastError string) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, run_at = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1`,
		jobID, StatusPending, runAt, lastError,
	)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("retry %s: %w", jobID, ErrJobNotFound)
	}
	return nil
}

func (q *PgQueue) MarkFailed(ctx context.Context, jobID string, lastError string) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1`,
		jobID, StatusFailed, lastError,
	)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fail %s: %w", jobID, ErrJobNotFound)
	}
	return nil
}

func (q *PgQueue) JobByID(ctx context.Context, jobID string) (*Job, error) {
	row := q.pool.QueryRow(ctx, `
		SELECT id, queue_name, job_type, correlation_id, payload, priority,
		       max_attempts, repeat_every_ms, attempts, status, run_at, created_at
		FROM jobs WHERE id = $1`, jobID,
	)
	job, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("load job: %w", err)
	}
	return job, nil
}

func (q *PgQueue) Stats(ctx context.Context, queueName string) (Stats, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM jobs
		WHERE queue_name = $1
		GROUP BY status`, queueName,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := Stats{Queue: queueName}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusActive:
			stats.Active = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

func (q *PgQueue) Purge(ctx context.Context, queueName string) (int64, error) {
	tag, err := q.pool.Exec(ctx, `DELETE FROM jobs WHERE queue_name = $1`, queueName)
	if err != nil {
		return 0, fmt.Errorf("purge queue: %w", err)
	}
	return tag.RowsAffected(), nil
}
