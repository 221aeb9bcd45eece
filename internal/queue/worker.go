package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Pritam499/e-commerce-sub001/internal/events"
	"github.com/Pritam499/e-commerce-sub001/internal/fault"
	"github.com/Pritam499/e-commerce-sub001/pkg/contracts"
)

// HandlerFunc executes one job and may hand back a result the completion
// event carries to the orchestrator.
type HandlerFunc func(ctx context.Context, job Job) ([]byte, error)

// QueueSpec sizes one queue's worker slots.
type QueueSpec struct {
	Name           string
	Workers        int
	HandlerTimeout time.Duration
	PollInterval   time.Duration
}

// Pool runs the per-queue worker loops. Each worker slot pulls one job at a
// time, executes the handler registered for the job type, and reports the
// outcome as a bus event so the orchestrator can take the next step.
type Pool struct {
	queue    Queue
	bus      *events.Bus
	logger   *slog.Logger
	metrics  *Metrics
	handlers map[string]HandlerFunc
	specs    []QueueSpec
}

func NewPool(q Queue, bus *events.Bus, logger *slog.Logger, metrics *Metrics, specs []QueueSpec) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:    q,
		bus:      bus,
		logger:   logger,
		metrics:  metrics,
		handlers: make(map[string]HandlerFunc),
		specs:    specs,
	}
}

// Register binds a handler to a job type. Not safe to call after Run.
func (p *Pool) Register(jobType string, h HandlerFunc) {
	p.handlers[jobType] = h
}

// Run starts every worker slot and blocks until ctx is done.
func (p *Pool) Run(ctx context.Context) {
	for _, spec := range p.specs {
		for i := 0; i < spec.Workers; i++ {
			go p.workerLoop(ctx, spec)
		}
	}
	<-ctx.Done()
}

func (p *Pool) workerLoop(ctx context.Context, spec QueueSpec) {
	poll := spec.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	for {
		ran, err := p.RunOnce(ctx, spec)
		if err != nil {
			p.logger.Error("claim job failed", "queue", spec.Name, "err", err)
		}
		if ran {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(poll):
		}
	}
}

// RunOnce claims and executes at most one job. Tests drive the pipeline with
// it directly to stay deterministic.
func (p *Pool) RunOnce(ctx context.Context, spec QueueSpec) (bool, error) {
	job, err := p.queue.Claim(ctx, spec.Name)
	if err != nil || job == nil {
		return false, err
	}
	p.execute(ctx, spec, *job)
	return true, nil
}

func (p *Pool) execute(ctx context.Context, spec QueueSpec, job Job) {
	handler, ok := p.handlers[job.Type]
	if !ok {
		p.finishFailed(ctx, job, fault.Terminal("no_handler", fmt.Errorf("no handler for job type %s", job.Type)))
		return
	}

	hctx := ctx
	if spec.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, spec.HandlerTimeout)
		defer cancel()
	}

	started := time.Now()
	result, err := handler(hctx, job)
	elapsed := time.Since(started)

	if err == nil {
		if cerr := p.queue.Complete(ctx, job.ID, result); cerr != nil {
			p.logger.Error("complete job failed", "job_id", job.ID, "err", cerr)
		}
		p.metrics.observe(job.Queue, job.Type, "completed", elapsed)
		p.publishOutcome(ctx, job, contracts.JobCompletedEvent(job.Type), contracts.JobCompletedData{
			JobID:   job.ID,
			JobType: job.Type,
			Result:  result,
		})
		return
	}

	if fault.Retryable(err) && job.AttemptsMade < job.MaxAttempts {
		runAt := time.Now().UTC().Add(Backoff(job.AttemptsMade))
		p.logger.Warn("job attempt failed, retrying",
			"job_id", job.ID, "type", job.Type, "attempt", job.AttemptsMade, "err", err)
		if rerr := p.queue.Retry(ctx, job.ID, runAt, err.Error()); rerr != nil {
			p.logger.Error("schedule retry failed", "job_id", job.ID, "err", rerr)
		}
		p.metrics.observe(job.Queue, job.Type, "retried", elapsed)
		return
	}

	p.metrics.observe(job.Queue, job.Type, "failed", elapsed)
	p.finishFailed(ctx, job, err)
}

func (p *Pool) finishFailed(ctx context.Context, job Job, err error) {
	p.logger.Error("job failed", "job_id", job.ID, "type", job.Type,
		"attempts", job.AttemptsMade, "kind", fault.KindOf(err).String(), "err", err)

	if ferr := p.queue.MarkFailed(ctx, job.ID, err.Error()); ferr != nil {
		p.logger.Error("mark job failed", "job_id", job.ID, "err", ferr)
	}

	reason := fault.CodeOf(err)
	if reason == "" {
		reason = err.Error()
	}
	p.publishOutcome(ctx, job, contracts.JobFailedEvent(job.Type), contracts.JobFailedData{
		JobID:    job.ID,
		JobType:  job.Type,
		Reason:   reason,
		Kind:     fault.KindOf(err).String(),
		Attempts: job.AttemptsMade,
	})
}

func (p *Pool) publishOutcome(ctx context.Context, job Job, eventType string, payload any) {
	if p.bus == nil {
		return
	}
	evt, err := contracts.NewEvent(eventType, job.CorrelationID, payload)
	if err != nil {
		p.logger.Error("build job outcome event", "job_id", job.ID, "err", err)
		return
	}
	evt.Source = "worker:" + job.Queue
	if err := p.bus.Publish(ctx, evt); err != nil {
		p.logger.Error("publish job outcome", "job_id", job.ID, "err", err)
	}
}
