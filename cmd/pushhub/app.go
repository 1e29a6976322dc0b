package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Priya8975/pushhub/internal/atom"
	"github.com/Priya8975/pushhub/internal/config"
	"github.com/Priya8975/pushhub/internal/domain"
	"github.com/Priya8975/pushhub/internal/engine"
	"github.com/Priya8975/pushhub/internal/hubclient"
	"github.com/Priya8975/pushhub/internal/ingest"
	"github.com/Priya8975/pushhub/internal/queue"
	"github.com/Priya8975/pushhub/internal/store"
	ws "github.com/Priya8975/pushhub/internal/websocket"
	"github.com/Priya8975/pushhub/internal/worker"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Retry limits per job kind. Confirmations are single attempt.
const (
	distributeRetries        = 5
	subscribeRemoteRetries   = 10
	unsubscribeRemoteRetries = 3
)

// app holds the connections and components shared by the commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	links  domain.Links
	pg     *store.PostgresStore
	redis  *redis.Client
	queue  *queue.RedisQueue
	guard  *engine.HostGuard
	hub    *ws.Hub
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	links, err := domain.NewLinks(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to PostgreSQL")

	rdb, err := store.NewRedis(ctx, cfg.RedisURL, cfg.NumWorkers)
	if err != nil {
		pg.Close()
		return nil, err
	}
	logger.Info("connected to Redis")

	return &app{
		cfg:    cfg,
		logger: logger,
		links:  links,
		pg:     pg,
		redis:  rdb,
		queue:  queue.NewRedisQueue(rdb),
		guard:  engine.NewHostGuard(rdb, logger),
		hub:    ws.NewHub(logger),
	}, nil
}

func (a *app) Close() {
	if err := a.redis.Close(); err != nil {
		a.logger.Warn("closing redis", "error", err)
	}
	a.pg.Close()
}

// jobPolicies are the retry policies of every job kind.
func jobPolicies(cfg *config.Config) map[queue.Kind]queue.Policy {
	return map[queue.Kind]queue.Policy{
		queue.KindConfirm:           {MaxRetries: 0},
		queue.KindDistribute:        {MaxRetries: distributeRetries, Backoff: queue.LinearBackoff},
		queue.KindRawDistribute:     {MaxRetries: distributeRetries, Backoff: queue.LinearBackoff},
		queue.KindDeliver:           {MaxRetries: cfg.DeliveryMaxRetries, Backoff: queue.LinearBackoff},
		queue.KindSubscribeRemote:   {MaxRetries: subscribeRemoteRetries, Backoff: queue.LinearBackoff},
		queue.KindUnsubscribeRemote: {MaxRetries: unsubscribeRemoteRetries, Backoff: queue.LinearBackoff},
	}
}

func (a *app) registry() *worker.Registry {
	httpClient := worker.NewHTTPClient(a.cfg.DeliveryConnectTimeout, a.cfg.DeliveryReadTimeout)

	fanout := engine.NewFanOutEngine(a.pg, a.pg, atom.NewRenderer(a.links), a.queue, a.logger)
	deliverer := worker.NewDeliverer(httpClient, worker.DelivererDeps{
		Subscriptions: a.pg,
		Accounts:      a.pg,
		Blocks:        a.pg,
		Guard:         a.guard,
		Throttle:      engine.NewHostThrottle(a.redis, a.logger),
		Events:        a.hub,
	}, a.links, a.cfg.HostRateLimit, a.logger)
	confirmer := worker.NewConfirmer(httpClient, a.pg, a.pg, a.links, a.logger)
	remote := hubclient.New(httpClient, a.pg, a.links, hubclient.DefaultConfig(), a.logger)
	resubscriber := worker.NewResubscriber(a.pg, remote, a.logger)

	handlers := map[queue.Kind]worker.Handler{
		queue.KindConfirm:           confirmer,
		queue.KindDistribute:        worker.HandlerFunc(fanout.PerformDistribute),
		queue.KindRawDistribute:     worker.HandlerFunc(fanout.PerformRawDistribute),
		queue.KindDeliver:           deliverer,
		queue.KindSubscribeRemote:   worker.HandlerFunc(resubscriber.PerformSubscribe),
		queue.KindUnsubscribeRemote: worker.HandlerFunc(resubscriber.PerformUnsubscribe),
	}

	registry := worker.NewRegistry()
	for kind, policy := range jobPolicies(a.cfg) {
		registry.Register(kind, handlers[kind], policy)
	}
	return registry
}

// startWorkers runs the dispatcher until ctx ends. Jobs already handed to
// the pool run to completion on a context that outlives ctx.
func (a *app) startWorkers(ctx context.Context, g *errgroup.Group) {
	runner := worker.NewRunner(a.queue, a.registry(), a.logger)
	pool := worker.NewPool(a.cfg.NumWorkers, runner, a.logger)
	dispatcher := worker.NewDispatcher(a.queue, pool, a.logger)

	g.Go(func() error {
		pool.Start(context.WithoutCancel(ctx))
		dispatcher.Start(ctx)
		pool.Stop()
		return nil
	})
}

// startConsumer consumes content events when AMQP is configured.
func (a *app) startConsumer(ctx context.Context, g *errgroup.Group) error {
	if a.cfg.AMQPURL == "" {
		a.logger.Info("AMQP_URL not set, content event ingestion disabled")
		return nil
	}

	consumer, err := ingest.NewConsumer(ingest.ConsumerConfig{
		URL:       a.cfg.AMQPURL,
		QueueName: a.cfg.AMQPQueue,
		Logger:    a.logger,
	}, a.queue)
	if err != nil {
		return fmt.Errorf("starting content consumer: %w", err)
	}

	g.Go(func() error {
		defer consumer.Close()
		return consumer.Start(ctx)
	})
	return nil
}
