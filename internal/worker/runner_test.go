package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/pushhub/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu      sync.Mutex
	acked    []string
	retried  map[string]time.Time
	deferred map[string]time.Time
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{retried: make(map[string]time.Time), deferred: make(map[string]time.Time)}
}

func (q *fakeQueue) Claim(ctx context.Context, limit int) ([]queue.Claimed, error) { return nil, nil }
func (q *fakeQueue) Reap(ctx context.Context) (int, error)                         { return 0, nil }

func (q *fakeQueue) Ack(ctx context.Context, c queue.Claimed) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, c.Job.ID)
	return nil
}

func (q *fakeQueue) Retry(ctx context.Context, c queue.Claimed, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried[c.Job.ID] = at
	return nil
}

func (q *fakeQueue) Defer(ctx context.Context, c queue.Claimed, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deferred[c.Job.ID] = at
	return nil
}

type droppingHandler struct {
	err     error
	dropped []string
}

func (h *droppingHandler) Perform(ctx context.Context, job queue.Job) error { return h.err }

func (h *droppingHandler) Dropped(ctx context.Context, job queue.Job, err error) {
	h.dropped = append(h.dropped, job.ID)
}

func newTestRunner(q JobQueue, registry *Registry) (*Runner, time.Time) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	r := NewRunner(q, registry, testLogger())
	r.now = func() time.Time { return now }
	return r, now
}

func claimed(kind queue.Kind, attempt int) queue.Claimed {
	return queue.Claimed{Job: queue.Job{ID: "job-1", Kind: kind, Attempt: attempt}, Member: "m"}
}

func TestRunner_SuccessAcks(t *testing.T) {
	q := newFakeQueue()
	registry := NewRegistry()
	registry.Register(queue.KindDeliver, HandlerFunc(func(ctx context.Context, job queue.Job) error { return nil }), queue.Policy{MaxRetries: 3})
	r, _ := newTestRunner(q, registry)

	r.Run(context.Background(), claimed(queue.KindDeliver, 0))

	assert.Equal(t, []string{"job-1"}, q.acked)
	assert.Empty(t, q.retried)
}

func TestRunner_TransientFailureRetriesWithBackoff(t *testing.T) {
	q := newFakeQueue()
	registry := NewRegistry()
	h := &droppingHandler{err: ErrTransient}
	registry.Register(queue.KindDeliver, h, queue.Policy{MaxRetries: 3, Backoff: queue.LinearBackoff})
	r, now := newTestRunner(q, registry)

	r.Run(context.Background(), claimed(queue.KindDeliver, 1))

	assert.Empty(t, q.acked)
	require.Contains(t, q.retried, "job-1")
	assert.Equal(t, now.Add(10*time.Second), q.retried["job-1"])
	assert.Empty(t, h.dropped)
}

func TestRunner_ExhaustedRetriesDrop(t *testing.T) {
	q := newFakeQueue()
	registry := NewRegistry()
	h := &droppingHandler{err: ErrTransient}
	registry.Register(queue.KindDeliver, h, queue.Policy{MaxRetries: 3})
	r, _ := newTestRunner(q, registry)

	r.Run(context.Background(), claimed(queue.KindDeliver, 3))

	assert.Equal(t, []string{"job-1"}, q.acked)
	assert.Empty(t, q.retried)
	assert.Equal(t, []string{"job-1"}, h.dropped)
}

func TestRunner_DeferredDoesNotCountAttempt(t *testing.T) {
	q := newFakeQueue()
	registry := NewRegistry()
	h := &droppingHandler{err: queue.Deferred(ErrThrottled, 2*time.Second)}
	registry.Register(queue.KindDeliver, h, queue.Policy{MaxRetries: 3})
	r, now := newTestRunner(q, registry)

	// Already at the retry limit, yet a deferral is not a failure.
	r.Run(context.Background(), claimed(queue.KindDeliver, 3))

	assert.Empty(t, q.acked)
	assert.Empty(t, q.retried)
	assert.Empty(t, h.dropped)
	assert.Equal(t, now.Add(2*time.Second), q.deferred["job-1"])
}

func TestRunner_ZeroRetriesRunsOnce(t *testing.T) {
	q := newFakeQueue()
	registry := NewRegistry()
	registry.Register(queue.KindConfirm, &droppingHandler{err: ErrTransient}, queue.Policy{})
	r, _ := newTestRunner(q, registry)

	r.Run(context.Background(), claimed(queue.KindConfirm, 0))

	assert.Equal(t, []string{"job-1"}, q.acked)
	assert.Empty(t, q.retried)
}

func TestRunner_PermanentFailureAcksWithoutDropHook(t *testing.T) {
	q := newFakeQueue()
	registry := NewRegistry()
	h := &droppingHandler{err: queue.Permanent(errors.New("gone"))}
	registry.Register(queue.KindDeliver, h, queue.Policy{MaxRetries: 3})
	r, _ := newTestRunner(q, registry)

	r.Run(context.Background(), claimed(queue.KindDeliver, 0))

	assert.Equal(t, []string{"job-1"}, q.acked)
	assert.Empty(t, q.retried)
	assert.Empty(t, h.dropped)
}

func TestRunner_UnknownKindIsDropped(t *testing.T) {
	q := newFakeQueue()
	r, _ := newTestRunner(q, NewRegistry())

	r.Run(context.Background(), claimed("mystery", 0))

	assert.Equal(t, []string{"job-1"}, q.acked)
}

func TestRunner_PanicIsRetried(t *testing.T) {
	q := newFakeQueue()
	registry := NewRegistry()
	registry.Register(queue.KindDeliver, HandlerFunc(func(ctx context.Context, job queue.Job) error {
		panic("boom")
	}), queue.Policy{MaxRetries: 3})
	r, _ := newTestRunner(q, registry)

	r.Run(context.Background(), claimed(queue.KindDeliver, 0))

	assert.Contains(t, q.retried, "job-1")
}
