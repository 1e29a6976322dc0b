package worker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Priya8975/pushhub/internal/domain"
	"github.com/Priya8975/pushhub/internal/queue"
)

// maxChallengeBody bounds how much of a confirmation answer is read.
const maxChallengeBody = 4 << 10

type ConfirmationStore interface {
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	ConfirmSubscription(ctx context.Context, sub *domain.Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
}

// Confirmer verifies subscribe and unsubscribe requests by asking the
// callback to echo a random challenge.
type Confirmer struct {
	httpClient *http.Client
	subs       ConfirmationStore
	accounts   AccountReader
	links      domain.Links
	logger     *slog.Logger
	now        func() time.Time
	challenge  func() (string, error)
}

func NewConfirmer(httpClient *http.Client, subs ConfirmationStore, accounts AccountReader, links domain.Links, logger *slog.Logger) *Confirmer {
	return &Confirmer{
		httpClient: httpClient,
		subs:       subs,
		accounts:   accounts,
		links:      links,
		logger:     logger,
		now:        time.Now,
		challenge:  newChallenge,
	}
}

func newChallenge() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating challenge: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Confirm runs the verification handshake. On an echoed challenge a
// subscribe is persisted and an unsubscribe destroys the record; a
// mismatch changes nothing.
func (c *Confirmer) Confirm(ctx context.Context, args queue.ConfirmArgs) error {
	mode := domain.Mode(args.Mode)
	if mode != domain.ModeSubscribe && mode != domain.ModeUnsubscribe {
		return queue.Permanent(fmt.Errorf("unknown confirmation mode %q", args.Mode))
	}

	sub, err := c.subs.GetSubscription(ctx, args.SubscriptionID)
	if err != nil {
		return fmt.Errorf("loading subscription: %w", err)
	}
	if sub == nil {
		return queue.Permanent(fmt.Errorf("confirming %s: %w", args.SubscriptionID, domain.ErrSubscriptionNotFound))
	}

	account, err := c.accounts.GetAccount(ctx, sub.AccountID)
	if err != nil {
		return fmt.Errorf("loading account: %w", err)
	}
	if account == nil {
		return queue.Permanent(fmt.Errorf("subscription %s: %w", sub.ID, domain.ErrAccountNotFound))
	}

	challenge, err := c.challenge()
	if err != nil {
		return err
	}

	wasConfirmed := sub.Confirmed
	sub.Secret = args.Secret
	sub.SetLease(args.LeaseSeconds, c.now())
	sub.Confirmed = true

	callback, err := url.Parse(sub.CallbackURL)
	if err != nil {
		return queue.Permanent(fmt.Errorf("parsing callback: %w", err))
	}
	query := callback.Query()
	query.Set("hub.topic", c.links.FeedURL(account))
	query.Set("hub.mode", string(mode))
	query.Set("hub.challenge", challenge)
	query.Set("hub.lease_seconds", strconv.Itoa(sub.LeaseSeconds))
	callback.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, callback.String(), nil)
	if err != nil {
		return queue.Permanent(fmt.Errorf("building confirmation request: %w", err))
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting confirmation: %w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBody))
	if err != nil {
		return fmt.Errorf("reading confirmation: %w: %w", ErrTransient, err)
	}
	echoed := string(body) == challenge

	log := c.logger.With("subscription_id", sub.ID, "mode", mode, "status_code", resp.StatusCode)

	switch {
	case mode == domain.ModeSubscribe && echoed:
		if err := c.subs.ConfirmSubscription(ctx, sub); err != nil {
			if errors.Is(err, domain.ErrSubscriptionNotFound) {
				return queue.Permanent(err)
			}
			return err
		}
		log.Info("subscription confirmed", "lease_seconds", sub.LeaseSeconds)

	case mode == domain.ModeUnsubscribe && (echoed || !wasConfirmed):
		if err := c.subs.DeleteSubscription(ctx, sub.ID); err != nil {
			return fmt.Errorf("removing subscription: %w", err)
		}
		log.Info("subscription removed")

	default:
		log.Warn("confirmation challenge mismatch, leaving subscription unchanged")
	}
	return nil
}

// Perform runs a confirm job.
func (c *Confirmer) Perform(ctx context.Context, job queue.Job) error {
	var args queue.ConfirmArgs
	if err := job.Decode(&args); err != nil {
		return queue.Permanent(err)
	}
	return c.Confirm(ctx, args)
}
