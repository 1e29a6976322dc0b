package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Priya8975/pushhub/internal/domain"
	"github.com/Priya8975/pushhub/internal/hubclient"
	"github.com/Priya8975/pushhub/internal/queue"
)

type RemoteHub interface {
	SubscribeToRemoteHub(ctx context.Context, account *domain.Account) error
	UnsubscribeFromRemoteHub(ctx context.Context, account *domain.Account) error
}

// Resubscriber runs the jobs that (re)subscribe or unsubscribe this
// instance to a remote account's hub.
type Resubscriber struct {
	accounts AccountReader
	hub      RemoteHub
	logger   *slog.Logger
}

func NewResubscriber(accounts AccountReader, hub RemoteHub, logger *slog.Logger) *Resubscriber {
	return &Resubscriber{accounts: accounts, hub: hub, logger: logger}
}

func (r *Resubscriber) Subscribe(ctx context.Context, accountID string) error {
	account, err := r.load(ctx, accountID)
	if err != nil || account == nil {
		return err
	}
	return r.settle(r.hub.SubscribeToRemoteHub(ctx, account))
}

func (r *Resubscriber) Unsubscribe(ctx context.Context, accountID string) error {
	account, err := r.load(ctx, accountID)
	if err != nil || account == nil {
		return err
	}
	return r.settle(r.hub.UnsubscribeFromRemoteHub(ctx, account))
}

// load returns nil without error when the account is gone.
func (r *Resubscriber) load(ctx context.Context, accountID string) (*domain.Account, error) {
	account, err := r.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}
	if account == nil {
		r.logger.Info("account vanished, nothing to do", "account_id", accountID)
	}
	return account, nil
}

func (r *Resubscriber) settle(err error) error {
	if errors.Is(err, hubclient.ErrRejected) {
		return queue.Permanent(err)
	}
	return err
}

func (r *Resubscriber) PerformSubscribe(ctx context.Context, job queue.Job) error {
	var args queue.AccountArgs
	if err := job.Decode(&args); err != nil {
		return queue.Permanent(err)
	}
	return r.Subscribe(ctx, args.AccountID)
}

func (r *Resubscriber) PerformUnsubscribe(ctx context.Context, job queue.Job) error {
	var args queue.AccountArgs
	if err := job.Decode(&args); err != nil {
		return queue.Permanent(err)
	}
	return r.Unsubscribe(ctx, args.AccountID)
}
