package worker

import (
	"context"
	"log/slog"
	"time"
)

// Dispatcher polls the job queue and feeds claimed jobs to the pool. It
// also reaps claims whose visibility deadline passed.
type Dispatcher struct {
	queue        JobQueue
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
	reapInterval time.Duration
	batchSize    int
}

func NewDispatcher(q JobQueue, pool *Pool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:        q,
		pool:         pool,
		logger:       logger,
		pollInterval: 100 * time.Millisecond,
		reapInterval: 30 * time.Second,
		batchSize:    10,
	}
}

// Start runs the polling loop until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher started")

	poll := time.NewTicker(d.pollInterval)
	defer poll.Stop()
	reap := time.NewTicker(d.reapInterval)
	defer reap.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-poll.C:
			d.poll(ctx)
		case <-reap.C:
			d.reap(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	limit := d.batchSize
	if free := d.pool.Capacity(); free < limit {
		limit = free
	}
	if limit <= 0 {
		return
	}

	claimed, err := d.queue.Claim(ctx, limit)
	if err != nil {
		d.logger.Error("failed to poll job queue", "error", err)
		return
	}

	for _, c := range claimed {
		if !d.pool.Submit(ctx, c) {
			return
		}
	}
}

func (d *Dispatcher) reap(ctx context.Context) {
	n, err := d.queue.Reap(ctx)
	if err != nil {
		d.logger.Error("failed to reap expired claims", "error", err)
		return
	}
	if n > 0 {
		d.logger.Warn("returned expired claims to the queue", "jobs", n)
	}
}
