// Package queuetest records enqueued jobs in memory.
package queuetest

import (
	"context"
	"sync"

	"github.com/Priya8975/pushhub/internal/queue"
)

type Recorder struct {
	mu    sync.Mutex
	jobs  []queue.Job
	bulks int
	Err   error
}

func (r *Recorder) Enqueue(ctx context.Context, job queue.Job) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *Recorder) BulkEnqueue(ctx context.Context, jobs []queue.Job) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, jobs...)
	r.bulks++
	return nil
}

func (r *Recorder) Jobs() []queue.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.Job(nil), r.jobs...)
}

// Bulks counts BulkEnqueue calls.
func (r *Recorder) Bulks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bulks
}
