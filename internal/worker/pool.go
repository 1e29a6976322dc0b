package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Priya8975/pushhub/internal/queue"
)

// Pool manages a fixed number of worker goroutines that run claimed jobs.
type Pool struct {
	numWorkers int
	jobs       chan queue.Claimed
	runner     *Runner
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewPool(numWorkers int, runner *Runner, logger *slog.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan queue.Claimed, numWorkers*2),
		runner:     runner,
		logger:     logger,
	}
}

// Start launches the workers. They run jobs until Stop closes the channel.
// Jobs are run with ctx, so cancelling it cuts outbound calls short.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit hands a claimed job to the pool, blocking while every worker is
// busy. It reports false if ctx ended first; the job then stays claimed
// until the reaper returns it to the queue.
func (p *Pool) Submit(ctx context.Context, c queue.Claimed) bool {
	select {
	case p.jobs <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// Capacity is the number of jobs the pool can take without blocking.
func (p *Pool) Capacity() int {
	return cap(p.jobs) - len(p.jobs)
}

// Stop closes the jobs channel and waits for the workers to finish. The
// dispatcher must have stopped submitting first.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for c := range p.jobs {
		select {
		case <-ctx.Done():
			// Left claimed; reaped after the visibility timeout.
			continue
		default:
			p.runner.Run(ctx, c)
		}
	}
}
