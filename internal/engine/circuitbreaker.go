package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Host availability states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// ErrHostUnavailable is returned by HostGuard.Do while a host's circuit is open.
var ErrHostUnavailable = errors.New("callback host temporarily unavailable")

// HostGuard tracks callback host availability in Redis so every worker
// process shares the same view of a failing host.
//
// - Closed: calls go through, consecutive failures are counted.
// - Open: calls are refused until the cooldown has elapsed.
// - Half-Open: calls go through again. Success closes, failure reopens.
type HostGuard struct {
	redisClient      *redis.Client
	logger           *slog.Logger
	failureThreshold int
	cooldownPeriod   time.Duration
	now              func() time.Time
}

// HostState is the availability of one callback host.
type HostState struct {
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	LastFailedAt string `json:"last_failed_at,omitempty"`
}

func NewHostGuard(redisClient *redis.Client, logger *slog.Logger) *HostGuard {
	return &HostGuard{
		redisClient:      redisClient,
		logger:           logger,
		failureThreshold: 5,
		cooldownPeriod:   30 * time.Second,
		now:              time.Now,
	}
}

func hostKey(host string) string {
	return fmt.Sprintf("pushhub:host:%s", host)
}

// Do runs fn unless host is marked unavailable, and records the outcome.
// A nil error from fn counts as the host being healthy, so callers must
// return nil for answers that are final (such as a permanent rejection).
func (g *HostGuard) Do(ctx context.Context, host string, fn func() error) error {
	if _, ok := g.allow(ctx, host); !ok {
		return fmt.Errorf("%s: %w", host, ErrHostUnavailable)
	}

	err := fn()
	if err != nil {
		g.recordFailure(ctx, host)
		return err
	}
	g.recordSuccess(ctx, host)
	return nil
}

func (g *HostGuard) allow(ctx context.Context, host string) (string, bool) {
	key := hostKey(host)

	data, err := g.redisClient.HGetAll(ctx, key).Result()
	if err != nil || len(data) == 0 {
		// Unknown host or Redis trouble: let the call through.
		return StateClosed, true
	}

	lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)

	switch data["state"] {
	case StateOpen:
		if g.cooledDown(lastFailedAt) {
			g.redisClient.HSet(ctx, key, "state", StateHalfOpen)
			g.logger.Info("host half-open", "callback_host", host)
			return StateHalfOpen, true
		}
		return StateOpen, false
	case StateHalfOpen:
		return StateHalfOpen, true
	default:
		return StateClosed, true
	}
}

func (g *HostGuard) cooledDown(lastFailedAt int64) bool {
	return g.now().Unix()-lastFailedAt >= int64(g.cooldownPeriod.Seconds())
}

func (g *HostGuard) recordSuccess(ctx context.Context, host string) {
	key := hostKey(host)

	state, _ := g.redisClient.HGet(ctx, key, "state").Result()
	if state == "" {
		// Never failed, nothing to reset.
		return
	}

	g.redisClient.HSet(ctx, key,
		"state", StateClosed,
		"failures", 0,
	)

	if state == StateHalfOpen {
		g.logger.Info("host recovered", "callback_host", host)
	}
}

func (g *HostGuard) recordFailure(ctx context.Context, host string) {
	key := hostKey(host)

	failures, err := g.redisClient.HIncrBy(ctx, key, "failures", 1).Result()
	if err != nil {
		g.logger.Error("failed to record host failure", "error", err, "callback_host", host)
		return
	}

	g.redisClient.HSet(ctx, key, "last_failed_at", g.now().Unix())

	state, _ := g.redisClient.HGet(ctx, key, "state").Result()

	switch {
	case state == StateHalfOpen:
		g.redisClient.HSet(ctx, key, "state", StateOpen)
		g.logger.Warn("host reopened (half-open probe failed)", "callback_host", host)
	case failures >= int64(g.failureThreshold):
		if state != StateOpen {
			g.logger.Warn("host marked unavailable",
				"callback_host", host,
				"failures", failures,
				"threshold", g.failureThreshold,
			)
		}
		g.redisClient.HSet(ctx, key, "state", StateOpen)
	case state == "":
		g.redisClient.HSet(ctx, key, "state", StateClosed)
	}
}

// State returns the availability of a callback host.
func (g *HostGuard) State(ctx context.Context, host string) HostState {
	data, err := g.redisClient.HGetAll(ctx, hostKey(host)).Result()
	if err != nil || len(data) == 0 {
		return HostState{State: StateClosed}
	}

	failures, _ := strconv.Atoi(data["failures"])
	lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)

	state := data["state"]
	if state == "" {
		state = StateClosed
	}
	if state == StateOpen && g.cooledDown(lastFailedAt) {
		state = StateHalfOpen
	}

	result := HostState{State: state, Failures: failures}
	if lastFailedAt > 0 {
		result.LastFailedAt = time.Unix(lastFailedAt, 0).UTC().Format(time.RFC3339)
	}
	return result
}
