package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/pushhub/internal/domain"
	"github.com/Priya8975/pushhub/internal/queue"
)

// ContentSource resolves the content being published and its audience.
type ContentSource interface {
	GetStreamEntries(ctx context.Context, ids []string) ([]*domain.StreamEntry, error)
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	FollowerDomains(ctx context.Context, accountID string) (domain.HostSet, error)
}

type SubscriptionSource interface {
	ActiveSubscriptions(ctx context.Context, accountID string, now time.Time) ([]domain.Subscription, error)
}

// FeedRenderer turns an account's entries into the document pushed to subscribers.
type FeedRenderer interface {
	RenderFeed(account *domain.Account, entries []*domain.StreamEntry) ([]byte, error)
}

// FanOutEngine plans deliveries: it decides which active subscriptions of
// an account receive a payload and queues one delivery job per subscription.
type FanOutEngine struct {
	content  ContentSource
	subs     SubscriptionSource
	renderer FeedRenderer
	queue    queue.Enqueuer
	logger   *slog.Logger
	now      func() time.Time
}

func NewFanOutEngine(content ContentSource, subs SubscriptionSource, renderer FeedRenderer, q queue.Enqueuer, logger *slog.Logger) *FanOutEngine {
	return &FanOutEngine{
		content:  content,
		subs:     subs,
		renderer: renderer,
		queue:    q,
		logger:   logger,
		now:      time.Now,
	}
}

// Distribute pushes newly published entries of a single account to the
// active subscriptions whose callback host has followers of that account.
// Returns the number of deliveries queued.
func (f *FanOutEngine) Distribute(ctx context.Context, entryIDs []string) (int, error) {
	entries, err := f.content.GetStreamEntries(ctx, entryIDs)
	if err != nil {
		return 0, fmt.Errorf("loading stream entries: %w", err)
	}

	entries = f.pushable(entries)
	if len(entries) == 0 {
		f.logger.Debug("nothing to distribute", "stream_entry_ids", entryIDs)
		return 0, nil
	}

	accountID := entries[0].AccountID
	account, err := f.content.GetAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("loading account: %w", err)
	}
	if account == nil {
		// Deleted between publishing and planning.
		f.logger.Info("account vanished before distribution", "account_id", accountID)
		return 0, nil
	}

	payload, err := f.renderer.RenderFeed(account, entries)
	if err != nil {
		return 0, fmt.Errorf("rendering feed: %w", err)
	}

	domains, err := f.content.FollowerDomains(ctx, account.ID)
	if err != nil {
		return 0, fmt.Errorf("loading follower domains: %w", err)
	}

	subs, err := f.subs.ActiveSubscriptions(ctx, account.ID, f.now())
	if err != nil {
		return 0, fmt.Errorf("loading active subscriptions: %w", err)
	}

	targets := make([]domain.Subscription, 0, len(subs))
	for _, sub := range subs {
		host, err := sub.CallbackHost()
		if err != nil {
			f.logger.Warn("skipping subscription with bad callback", "subscription_id", sub.ID, "error", err)
			continue
		}
		if domains.Has(host) {
			targets = append(targets, sub)
		}
	}

	n, err := f.enqueue(ctx, targets, string(payload))
	if err != nil {
		return 0, err
	}

	f.logger.Info("fan-out complete",
		"account_id", account.ID,
		"entries", len(entries),
		"active_subscriptions", len(subs),
		"deliveries_queued", n,
	)
	return n, nil
}

// DistributeRaw pushes a pre-rendered payload to every active subscription
// of the account. Unlike Distribute it applies no follower-domain filter.
func (f *FanOutEngine) DistributeRaw(ctx context.Context, accountID, payload string) (int, error) {
	subs, err := f.subs.ActiveSubscriptions(ctx, accountID, f.now())
	if err != nil {
		return 0, fmt.Errorf("loading active subscriptions: %w", err)
	}

	n, err := f.enqueue(ctx, subs, payload)
	if err != nil {
		return 0, err
	}

	f.logger.Info("raw fan-out complete", "account_id", accountID, "deliveries_queued", n)
	return n, nil
}

// pushable drops entries whose status is gone, entries that may not leave
// the instance and entries of any account other than the first one's.
func (f *FanOutEngine) pushable(entries []*domain.StreamEntry) []*domain.StreamEntry {
	kept := make([]*domain.StreamEntry, 0, len(entries))
	for _, e := range entries {
		if e.Status == nil {
			f.logger.Debug("skipping entry without status", "stream_entry_id", e.ID)
			continue
		}
		if !e.Visibility().Pushable() {
			continue
		}
		if len(kept) > 0 && e.AccountID != kept[0].AccountID {
			f.logger.Warn("dropping entry of another account from batch",
				"stream_entry_id", e.ID,
				"account_id", e.AccountID,
			)
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func (f *FanOutEngine) enqueue(ctx context.Context, subs []domain.Subscription, payload string) (int, error) {
	if len(subs) == 0 {
		return 0, nil
	}

	jobs := make([]queue.Job, 0, len(subs))
	for _, sub := range subs {
		job, err := queue.NewJob(queue.KindDeliver, queue.DeliverArgs{
			SubscriptionID: sub.ID,
			Payload:        payload,
		})
		if err != nil {
			return 0, err
		}
		jobs = append(jobs, job)
	}

	if err := f.queue.BulkEnqueue(ctx, jobs); err != nil {
		return 0, fmt.Errorf("queuing deliveries: %w", err)
	}
	return len(jobs), nil
}

// PerformDistribute runs a distribute job.
func (f *FanOutEngine) PerformDistribute(ctx context.Context, job queue.Job) error {
	var args queue.DistributeArgs
	if err := job.Decode(&args); err != nil {
		return queue.Permanent(err)
	}
	_, err := f.Distribute(ctx, args.StreamEntryIDs)
	return err
}

// PerformRawDistribute runs a raw_distribute job.
func (f *FanOutEngine) PerformRawDistribute(ctx context.Context, job queue.Job) error {
	var args queue.RawDistributeArgs
	if err := job.Decode(&args); err != nil {
		return queue.Permanent(err)
	}
	_, err := f.DistributeRaw(ctx, args.AccountID, args.Payload)
	return err
}
