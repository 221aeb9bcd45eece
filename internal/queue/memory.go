package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue implements the Queue contract in process, for tests and the
// memory store mode.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string]*Job
	seq  map[string]int // insertion order tiebreak
	next int
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		jobs: make(map[string]*Job),
		seq:  make(map[string]int),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job Job) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.jobs[job.ID]; exists {
		return false, nil
	}
	job = normalize(job)
	q.next++
	q.jobs[job.ID] = &job
	q.seq[job.ID] = q.next
	return true, nil
}

func (q *MemoryQueue) Claim(_ context.Context, queueName string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	var due []*Job
	for _, job := range q.jobs {
		if job.Queue == queueName && job.Status == StatusPending && !job.RunAt.After(now) {
			due = append(due, job)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority < due[j].Priority
		}
		if !due[i].RunAt.Equal(due[j].RunAt) {
			return due[i].RunAt.Before(due[j].RunAt)
		}
		return q.seq[due[i].ID] < q.seq[due[j].ID]
	})

	job := due[0]
	job.Status = StatusActive
	job.AttemptsMade++
	claimed := *job
	return &claimed, nil
}

func (q *MemoryQueue) Complete(_ context.Context, jobID string, result []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Result = result
	job.LastError = ""
	if job.RepeatEvery > 0 {
		job.Status = StatusPending
		job.RunAt = time.Now().UTC().Add(job.RepeatEvery)
		job.AttemptsMade = 0
		return nil
	}
	job.Status = StatusCompleted
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, jobID string, runAt time.Time, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusPending
	job.RunAt = runAt
	job.LastError = lastError
	return nil
}

func (q *MemoryQueue) MarkFailed(_ context.Context, jobID string, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusFailed
	job.LastError = lastError
	return nil
}

func (q *MemoryQueue) JobByID(_ context.Context, jobID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (q *MemoryQueue) Stats(_ context.Context, queueName string) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{Queue: queueName}
	for _, job := range q.jobs {
		if job.Queue != queueName {
			continue
		}
		switch job.Status {
		case StatusPending:
			stats.Pending++
		case StatusActive:
			stats.Active++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (q *MemoryQueue) Purge(_ context.Context, queueName string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var purged int64
	for id, job := range q.jobs {
		if job.Queue == queueName {
			delete(q.jobs, id)
			delete(q.seq, id)
			purged++
		}
	}
	return purged, nil
}
