package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/pushhub/internal/queue"
)

// Handler performs one kind of job. Returning nil acknowledges the job,
// a queue.Permanent error drops it, a queue.Deferred error runs it again
// later without counting an attempt, any other error schedules a retry.
type Handler interface {
	Perform(ctx context.Context, job queue.Job) error
}

type HandlerFunc func(ctx context.Context, job queue.Job) error

func (f HandlerFunc) Perform(ctx context.Context, job queue.Job) error {
	return f(ctx, job)
}

// Dropper is implemented by handlers that want to know when a job ran
// out of retries.
type Dropper interface {
	Dropped(ctx context.Context, job queue.Job, err error)
}

// JobQueue is the consumer side of the job queue.
type JobQueue interface {
	Claim(ctx context.Context, limit int) ([]queue.Claimed, error)
	Ack(ctx context.Context, c queue.Claimed) error
	Retry(ctx context.Context, c queue.Claimed, at time.Time) error
	Defer(ctx context.Context, c queue.Claimed, at time.Time) error
	Reap(ctx context.Context) (int, error)
}

type registration struct {
	handler Handler
	policy  queue.Policy
}

// Registry maps job kinds to their handler and retry policy.
type Registry struct {
	entries map[queue.Kind]registration
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[queue.Kind]registration)}
}

func (r *Registry) Register(kind queue.Kind, h Handler, policy queue.Policy) {
	r.entries[kind] = registration{handler: h, policy: policy}
}

// Runner executes claimed jobs and settles them on the queue.
type Runner struct {
	queue    JobQueue
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
}

func NewRunner(q JobQueue, registry *Registry, logger *slog.Logger) *Runner {
	return &Runner{
		queue:    q,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *Runner) Run(ctx context.Context, c queue.Claimed) {
	job := c.Job
	log := r.logger.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt)

	entry, ok := r.registry.entries[job.Kind]
	if !ok {
		log.Error("no handler for job kind, dropping")
		r.ack(ctx, c, log)
		return
	}

	start := r.now()
	err := perform(ctx, entry.handler, job)
	elapsed := r.now().Sub(start)

	switch {
	case err == nil:
		log.Debug("job done", "duration_ms", elapsed.Milliseconds())
		r.ack(ctx, c, log)

	case queue.IsPermanent(err):
		log.Warn("job failed permanently", "error", err)
		r.ack(ctx, c, log)

	case isDeferred(err):
		delay, _ := queue.DeferredBy(err)
		log.Info("job deferred", "error", err, "retry_in", delay.String())
		if err := r.queue.Defer(ctx, c, r.now().Add(delay)); err != nil {
			log.Error("failed to reschedule job", "error", err)
		}

	case entry.policy.Exhausted(job.Attempt):
		log.Warn("job dropped after retries", "error", err, "max_retries", entry.policy.MaxRetries)
		if d, ok := entry.handler.(Dropper); ok {
			d.Dropped(ctx, job, err)
		}
		r.ack(ctx, c, log)

	default:
		delay := entry.policy.Delay(job.Attempt)
		log.Info("job failed, retrying", "error", err, "retry_in", delay.String())
		if err := r.queue.Retry(ctx, c, r.now().Add(delay)); err != nil {
			// The claim expires and the reaper brings the job back.
			log.Error("failed to reschedule job", "error", err)
		}
	}
}

func isDeferred(err error) bool {
	_, ok := queue.DeferredBy(err)
	return ok
}

func (r *Runner) ack(ctx context.Context, c queue.Claimed, log *slog.Logger) {
	if err := r.queue.Ack(ctx, c); err != nil {
		log.Error("failed to ack job", "error", err)
	}
}

// perform runs the handler, turning a panic into an ordinary failure.
func perform(ctx context.Context, h Handler, job queue.Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return h.Perform(ctx, job)
}
