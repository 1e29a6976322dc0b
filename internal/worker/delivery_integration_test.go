package worker

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Priya8975/pushhub/internal/engine"
	"github.com/Priya8975/pushhub/internal/queue"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeline wires the Redis queue, host guard, runner, pool and dispatcher
// around a deliverer backed by the in-memory store.
type pipeline struct {
	fixture *deliveryFixture
	queue   *queue.RedisQueue
	guard   *engine.HostGuard
}

func startPipeline(t *testing.T) *pipeline {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := testLogger()
	guard := engine.NewHostGuard(client, logger)
	f := newDeliveryFixture(t, DelivererDeps{
		Guard:    guard,
		Throttle: engine.NewHostThrottle(client, logger),
	})
	f.deliverer.now = time.Now

	q := queue.NewRedisQueue(client)
	registry := NewRegistry()
	registry.Register(queue.KindDeliver, f.deliverer, queue.Policy{MaxRetries: 3, Backoff: queue.LinearBackoff})

	pool := NewPool(2, NewRunner(q, registry, logger), logger)
	dispatcher := NewDispatcher(q, pool, logger)
	dispatcher.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	done := make(chan struct{})
	go func() {
		dispatcher.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		pool.Stop()
	})

	return &pipeline{fixture: f, queue: q, guard: guard}
}

func (p *pipeline) enqueueDelivery(t *testing.T, subscriptionID string) {
	t.Helper()
	job, err := queue.NewJob(queue.KindDeliver, queue.DeliverArgs{SubscriptionID: subscriptionID, Payload: "<feed/>"})
	require.NoError(t, err)
	require.NoError(t, p.queue.Enqueue(context.Background(), job))
}

func TestPipeline_DeliversAndAcks(t *testing.T) {
	cb := newCallback(t, http.StatusOK)
	p := startPipeline(t)
	sub := p.fixture.subscription(cb.server.URL, "s3cret")

	p.enqueueDelivery(t, sub.ID)

	require.Eventually(t, func() bool {
		ready, inflight, err := p.queue.Depth(context.Background())
		return err == nil && ready == 0 && inflight == 0 && cb.calls.Load() == 1
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		stored, ok := p.fixture.store.Subscription(sub.ID)
		return ok && stored.LastSuccessfulDeliveryAt != nil
	}, time.Second, 10*time.Millisecond)
}

func TestPipeline_FailureIsRescheduled(t *testing.T) {
	cb := newCallback(t, http.StatusServiceUnavailable)
	p := startPipeline(t)
	sub := p.fixture.subscription(cb.server.URL, "")
	host, err := sub.CallbackHost()
	require.NoError(t, err)

	p.enqueueDelivery(t, sub.ID)

	require.Eventually(t, func() bool {
		ready, inflight, err := p.queue.Depth(context.Background())
		return err == nil && ready == 1 && inflight == 0
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), cb.calls.Load(), "retry waits for its backoff")
	assert.Equal(t, 1, p.guard.State(context.Background(), host).Failures)

	_, ok := p.fixture.store.Subscription(sub.ID)
	assert.True(t, ok)
}

func TestPipeline_RejectionRemovesSubscription(t *testing.T) {
	cb := newCallback(t, http.StatusNotFound)
	p := startPipeline(t)
	sub := p.fixture.subscription(cb.server.URL, "")
	host, err := sub.CallbackHost()
	require.NoError(t, err)

	p.enqueueDelivery(t, sub.ID)

	require.Eventually(t, func() bool {
		_, ok := p.fixture.store.Subscription(sub.ID)
		return !ok
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, engine.StateClosed, p.guard.State(context.Background(), host).State)
	assert.Zero(t, p.guard.State(context.Background(), host).Failures, "a rejection means the host answered")
}
