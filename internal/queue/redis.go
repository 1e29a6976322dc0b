package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ReadyKey    = "pushhub:jobs:ready"
	InflightKey = "pushhub:jobs:inflight"
)

// Enqueuer is the producer side of the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
	BulkEnqueue(ctx context.Context, jobs []Job) error
}

// Claimed is a job taken off the ready set. Member is the exact sorted set
// member so the claim can be acknowledged or retried.
type Claimed struct {
	Job    Job
	Member string
}

// claimScript moves up to ARGV[3] ready jobs (score <= ARGV[1]) into the
// inflight set with the visibility deadline ARGV[2] as score.
var claimScript = redis.NewScript(`
local members = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, m in ipairs(members) do
    redis.call('ZREM', KEYS[1], m)
    redis.call('ZADD', KEYS[2], ARGV[2], m)
end
return members
`)

// reapScript returns inflight jobs whose deadline passed to the ready set.
var reapScript = redis.NewScript(`
local members = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, m in ipairs(members) do
    redis.call('ZREM', KEYS[2], m)
    redis.call('ZADD', KEYS[1], ARGV[1], m)
end
return #members
`)

// RedisQueue is a durable at-least-once job queue on two Redis sorted sets.
// Ready jobs are scored by the time they may run; claimed jobs sit in the
// inflight set until acknowledged or until their visibility deadline passes.
type RedisQueue struct {
	client     *redis.Client
	visibility time.Duration
	now        func() time.Time
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:     client,
		visibility: 5 * time.Minute,
		now:        time.Now,
	}
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	return q.Schedule(ctx, job, q.now())
}

// Schedule adds the job to the ready set to run no earlier than at.
func (q *RedisQueue) Schedule(ctx context.Context, job Job, at time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	if err := q.client.ZAdd(ctx, ReadyKey, redis.Z{Score: score(at), Member: string(data)}).Err(); err != nil {
		return fmt.Errorf("queuing %s job: %w", job.Kind, err)
	}
	return nil
}

// BulkEnqueue adds all jobs in a single pipeline round trip.
func (q *RedisQueue) BulkEnqueue(ctx context.Context, jobs []Job) error {
	if len(jobs) == 0 {
		return nil
	}

	now := score(q.now())
	pipe := q.client.Pipeline()
	for _, job := range jobs {
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshaling job: %w", err)
		}
		pipe.ZAdd(ctx, ReadyKey, redis.Z{Score: now, Member: string(data)})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bulk queuing %d jobs: %w", len(jobs), err)
	}
	return nil
}

// Claim atomically takes up to limit ready jobs.
func (q *RedisQueue) Claim(ctx context.Context, limit int) ([]Claimed, error) {
	now := q.now()
	members, err := claimScript.Run(ctx, q.client, []string{ReadyKey, InflightKey},
		formatScore(now), formatScore(now.Add(q.visibility)), limit,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claiming jobs: %w", err)
	}

	claimed := make([]Claimed, 0, len(members))
	for _, m := range members {
		var job Job
		if err := json.Unmarshal([]byte(m), &job); err != nil {
			// Unreadable members would be reclaimed forever.
			q.client.ZRem(ctx, InflightKey, m)
			continue
		}
		claimed = append(claimed, Claimed{Job: job, Member: m})
	}
	return claimed, nil
}

// Ack removes a finished (or dropped) job from the inflight set.
func (q *RedisQueue) Ack(ctx context.Context, c Claimed) error {
	if err := q.client.ZRem(ctx, InflightKey, c.Member).Err(); err != nil {
		return fmt.Errorf("acking job %s: %w", c.Job.ID, err)
	}
	return nil
}

// Retry reschedules a claimed job with its attempt counter incremented.
func (q *RedisQueue) Retry(ctx context.Context, c Claimed, at time.Time) error {
	next := c.Job
	next.Attempt++
	return q.reschedule(ctx, c, next, at)
}

// Defer reschedules a claimed job without touching its attempt counter.
func (q *RedisQueue) Defer(ctx context.Context, c Claimed, at time.Time) error {
	return q.reschedule(ctx, c, c.Job, at)
}

func (q *RedisQueue) reschedule(ctx context.Context, c Claimed, next Job, at time.Time) error {
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, InflightKey, c.Member)
	pipe.ZAdd(ctx, ReadyKey, redis.Z{Score: score(at), Member: string(data)})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rescheduling job %s: %w", c.Job.ID, err)
	}
	return nil
}

// Reap returns jobs whose claim expired (worker crashed or stalled) to the
// ready set and reports how many were moved.
func (q *RedisQueue) Reap(ctx context.Context) (int, error) {
	n, err := reapScript.Run(ctx, q.client, []string{ReadyKey, InflightKey}, formatScore(q.now())).Int()
	if err != nil {
		return 0, fmt.Errorf("reaping inflight jobs: %w", err)
	}
	return n, nil
}

// Depth returns the number of ready and inflight jobs.
func (q *RedisQueue) Depth(ctx context.Context) (ready, inflight int64, err error) {
	ready, err = q.client.ZCard(ctx, ReadyKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("counting ready jobs: %w", err)
	}
	inflight, err = q.client.ZCard(ctx, InflightKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("counting inflight jobs: %w", err)
	}
	return ready, inflight, nil
}
