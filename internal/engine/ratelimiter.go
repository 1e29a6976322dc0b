package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// HostThrottle is a per-host sliding window rate limiter backed by a Redis
// sorted set per host. A Lua script drops entries older than the window,
// counts the rest and admits the request only while under the limit.
type HostThrottle struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
	window      time.Duration
	now         func() time.Time
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window + 1000)
    return 1
end
return 0
`)

func NewHostThrottle(redisClient *redis.Client, logger *slog.Logger) *HostThrottle {
	return &HostThrottle{
		redisClient: redisClient,
		logger:      logger,
		script:      slidingWindowScript,
		window:      time.Second,
		now:         time.Now,
	}
}

func throttleKey(host string) string {
	return fmt.Sprintf("pushhub:rl:%s", host)
}

// Allow reports whether another delivery to host fits in the per-second
// limit. A limit of zero or less disables throttling.
func (t *HostThrottle) Allow(ctx context.Context, host string, limit int) bool {
	if limit <= 0 {
		return true
	}

	result, err := t.script.Run(ctx, t.redisClient, []string{throttleKey(host)},
		t.now().UnixMilli(), t.window.Milliseconds(), limit, uuid.NewString(),
	).Int64()
	if err != nil {
		// Fail open: Redis trouble should not stall deliveries.
		t.logger.Error("host throttle script failed", "error", err, "callback_host", host)
		return true
	}

	if result == 0 {
		t.logger.Debug("host throttled", "callback_host", host, "limit", limit)
		return false
	}
	return true
}
