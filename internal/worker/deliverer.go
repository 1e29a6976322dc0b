package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Priya8975/pushhub/internal/domain"
	"github.com/Priya8975/pushhub/internal/queue"
	"github.com/Priya8975/pushhub/internal/websocket"
)

// ErrTransient marks failures worth retrying: 429, 5xx, network errors,
// an unavailable or throttled host.
var ErrTransient = errors.New("transient delivery failure")

var ErrThrottled = fmt.Errorf("callback host throttled: %w", ErrTransient)

// throttleDelay postpones a throttled delivery by one rate window.
const throttleDelay = time.Second

// ResponseError is a callback answer that should be retried.
type ResponseError struct {
	StatusCode int
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("callback responded with status %d", e.StatusCode)
}

func (e *ResponseError) Unwrap() error {
	return ErrTransient
}

type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeRejected
	OutcomeRetry
)

// Classify maps a callback status code to what happens to the subscription.
func Classify(statusCode int) Outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return OutcomeDelivered
	case statusCode >= 300 && statusCode < 500 && statusCode != http.StatusTooManyRequests:
		return OutcomeRejected
	default:
		return OutcomeRetry
	}
}

type SubscriptionStore interface {
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	TouchDelivery(ctx context.Context, id string, at time.Time) error
}

type AccountReader interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
}

type DomainBlocker interface {
	IsDomainBlocked(ctx context.Context, host string) (bool, error)
}

// Guard runs a remote call for a host, refusing it while the host is
// known to be down.
type Guard interface {
	Do(ctx context.Context, host string, fn func() error) error
}

type Throttle interface {
	Allow(ctx context.Context, host string, limit int) bool
}

type EventSink interface {
	Broadcast(event websocket.DeliveryEvent)
}

// DelivererDeps are the collaborators of a Deliverer. Guard, Throttle and
// Events are optional.
type DelivererDeps struct {
	Subscriptions SubscriptionStore
	Accounts      AccountReader
	Blocks        DomainBlocker
	Guard         Guard
	Throttle      Throttle
	Events        EventSink
}

// Deliverer POSTs a payload to one subscription's callback.
type Deliverer struct {
	httpClient    *http.Client
	deps          DelivererDeps
	links         domain.Links
	hostRateLimit int
	logger        *slog.Logger
	now           func() time.Time
}

func NewDeliverer(httpClient *http.Client, deps DelivererDeps, links domain.Links, hostRateLimit int, logger *slog.Logger) *Deliverer {
	if deps.Guard == nil {
		deps.Guard = passthroughGuard{}
	}
	if deps.Events == nil {
		deps.Events = discardEvents{}
	}
	return &Deliverer{
		httpClient:    httpClient,
		deps:          deps,
		links:         links,
		hostRateLimit: hostRateLimit,
		logger:        logger,
		now:           time.Now,
	}
}

type deliveryResult struct {
	statusCode int
	elapsed    time.Duration
}

// Deliver sends payload to the subscription's callback. A 2xx answer
// records the delivery time; a permanent rejection destroys the
// subscription. Both return nil. Everything else returns an error
// wrapping ErrTransient, or a queue.Permanent error when the
// subscription no longer exists.
func (d *Deliverer) Deliver(ctx context.Context, subscriptionID, payload string, attempt int) error {
	sub, err := d.deps.Subscriptions.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("loading subscription: %w", err)
	}
	if sub == nil {
		return queue.Permanent(fmt.Errorf("delivering to %s: %w", subscriptionID, domain.ErrSubscriptionNotFound))
	}

	host, err := sub.CallbackHost()
	if err != nil {
		return queue.Permanent(fmt.Errorf("subscription %s: %w", sub.ID, err))
	}

	event := websocket.DeliveryEvent{
		SubscriptionID: sub.ID,
		AccountID:      sub.AccountID,
		CallbackHost:   host,
		Attempt:        attempt,
	}
	log := d.logger.With("subscription_id", sub.ID, "callback_host", host, "attempt", attempt)

	blocked, err := d.deps.Blocks.IsDomainBlocked(ctx, host)
	if err != nil {
		return fmt.Errorf("checking domain block: %w", err)
	}
	if blocked {
		log.Info("callback host is blocked, skipping delivery")
		event.Type = websocket.OutcomeBlocked
		d.deps.Events.Broadcast(event)
		return nil
	}

	account, err := d.deps.Accounts.GetAccount(ctx, sub.AccountID)
	if err != nil {
		return fmt.Errorf("loading account: %w", err)
	}
	if account == nil {
		return queue.Permanent(fmt.Errorf("subscription %s: %w", sub.ID, domain.ErrAccountNotFound))
	}

	if d.deps.Throttle != nil && !d.deps.Throttle.Allow(ctx, host, d.hostRateLimit) {
		event.Type = websocket.OutcomeRetrying
		event.Error = ErrThrottled.Error()
		d.deps.Events.Broadcast(event)
		return queue.Deferred(fmt.Errorf("%s: %w", host, ErrThrottled), throttleDelay)
	}

	var result deliveryResult
	err = d.deps.Guard.Do(ctx, host, func() error {
		var postErr error
		result, postErr = d.post(ctx, sub, account, []byte(payload))
		if postErr != nil {
			return postErr
		}
		if Classify(result.statusCode) == OutcomeRetry {
			return &ResponseError{StatusCode: result.statusCode}
		}
		return nil
	})

	event.ResponseMs = result.elapsed.Milliseconds()
	if result.statusCode != 0 {
		code := result.statusCode
		event.StatusCode = &code
	}

	if err != nil {
		log.Warn("delivery failed", "error", err, "status_code", result.statusCode, "response_time_ms", event.ResponseMs)
		event.Type = websocket.OutcomeRetrying
		event.Error = err.Error()
		d.deps.Events.Broadcast(event)
		return err
	}

	if Classify(result.statusCode) == OutcomeRejected {
		log.Info("callback rejected delivery, removing subscription", "status_code", result.statusCode)
		event.Type = websocket.OutcomeRejected
		d.deps.Events.Broadcast(event)
		if err := d.deps.Subscriptions.DeleteSubscription(ctx, sub.ID); err != nil {
			return fmt.Errorf("removing rejected subscription: %w", err)
		}
		return nil
	}

	log.Info("delivery successful", "status_code", result.statusCode, "response_time_ms", event.ResponseMs)
	event.Type = websocket.OutcomeDelivered
	d.deps.Events.Broadcast(event)
	if err := d.deps.Subscriptions.TouchDelivery(ctx, sub.ID, d.now()); err != nil {
		// The payload arrived; a retry would deliver it twice.
		log.Error("failed to record successful delivery", "error", err)
	}
	return nil
}

func (d *Deliverer) post(ctx context.Context, sub *domain.Subscription, account *domain.Account, payload []byte) (deliveryResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.CallbackURL, bytes.NewReader(payload))
	if err != nil {
		return deliveryResult{}, queue.Permanent(fmt.Errorf("building request: %w", err))
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Content-Type", "application/atom+xml")
	req.Header.Set("Link", fmt.Sprintf(`<%s>; rel="hub", <%s>; rel="self"`, d.links.HubURL(), d.links.FeedURL(account)))
	if sub.Signed() {
		req.Header.Set("X-Hub-Signature", computeSignature(payload, sub.Secret))
	}

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return deliveryResult{elapsed: time.Since(start)}, fmt.Errorf("posting to callback: %w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()

	// Drain a bounded amount so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return deliveryResult{statusCode: resp.StatusCode, elapsed: time.Since(start)}, nil
}

// Perform runs a deliver job.
func (d *Deliverer) Perform(ctx context.Context, job queue.Job) error {
	var args queue.DeliverArgs
	if err := job.Decode(&args); err != nil {
		return queue.Permanent(err)
	}
	return d.Deliver(ctx, args.SubscriptionID, args.Payload, job.Attempt)
}

// Dropped reports a delivery that ran out of retries.
func (d *Deliverer) Dropped(ctx context.Context, job queue.Job, err error) {
	var args queue.DeliverArgs
	if decodeErr := job.Decode(&args); decodeErr != nil {
		d.logger.Error("dropped delivery has unreadable args", "job_id", job.ID, "error", decodeErr)
	}
	d.deps.Events.Broadcast(websocket.DeliveryEvent{
		Type:           websocket.OutcomeDropped,
		JobID:          job.ID,
		SubscriptionID: args.SubscriptionID,
		Attempt:        job.Attempt,
		Error:          err.Error(),
	})
}

// computeSignature returns the X-Hub-Signature value for payload.
func computeSignature(payload []byte, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(payload)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

type passthroughGuard struct{}

func (passthroughGuard) Do(ctx context.Context, host string, fn func() error) error {
	return fn()
}

type discardEvents struct{}

func (discardEvents) Broadcast(websocket.DeliveryEvent) {}
