// Package hubclient subscribes this instance to the hubs of remote
// accounts so their content is pushed here.
package hubclient

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
	"strings"
	"sync"
	"time"

	"github.com/Priya8975/pushhub/internal/domain"
	"github.com/sony/gobreaker/v2"
)

const (
	// LeaseSeconds is the lease requested from remote hubs.
	LeaseSeconds = 604800

	// provisionalExpiry is assumed until the hub confirms with its own lease.
	provisionalExpiry = 24 * time.Hour
)

var (
	// ErrRejected means the hub refused the request for good.
	ErrRejected = errors.New("remote hub rejected the request")
	// ErrUnexpectedResponse is a hub answer worth retrying (429, 5xx).
	ErrUnexpectedResponse = errors.New("unexpected response from remote hub")
	ErrHubUnavailable     = errors.New("remote hub unavailable")
)

type AccountWriter interface {
	UpdateRemoteSubscription(ctx context.Context, accountID, secret string, expiresAt *time.Time) error
}

type Config struct {
	FailureThreshold uint32
	Timeout          time.Duration
	MaxRequests      uint32
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Timeout:          time.Minute,
		MaxRequests:      1,
	}
}

// Client talks to remote hubs. Each hub gets its own circuit breaker so a
// dead hub does not keep workers waiting on timeouts.
type Client struct {
	httpClient *http.Client
	accounts   AccountWriter
	links      domain.Links
	logger     *slog.Logger
	config     Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[int]

	now    func() time.Time
	secret func() (string, error)
}

func New(httpClient *http.Client, accounts AccountWriter, links domain.Links, config Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		accounts:   accounts,
		links:      links,
		logger:     logger,
		config:     config,
		breakers:   make(map[string]*gobreaker.CircuitBreaker[int]),
		now:        time.Now,
		secret:     newSecret,
	}
}

func newSecret() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (c *Client) breaker(hubURL string) *gobreaker.CircuitBreaker[int] {
	name := hubURL
	if u, err := url.Parse(hubURL); err == nil && u.Host != "" {
		name = strings.ToLower(u.Host)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.breakers[name]; ok {
		return b
	}

	b := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        name,
		MaxRequests: c.config.MaxRequests,
		Timeout:     c.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("hub circuit breaker state changed",
				"hub", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	c.breakers[name] = b
	return b
}

// post sends the form and returns the status code. 429 and 5xx answers are
// returned together with ErrUnexpectedResponse so the breaker counts them.
func (c *Client) post(ctx context.Context, hubURL string, form url.Values) (int, error) {
	code, err := c.breaker(hubURL).Execute(func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hubURL, strings.NewReader(form.Encode()))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return resp.StatusCode, fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode)
		}
		return resp.StatusCode, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return 0, fmt.Errorf("%w: %w", ErrHubUnavailable, err)
	}
	return code, err
}

func (c *Client) form(account *domain.Account, mode domain.Mode, secret string) url.Values {
	return url.Values{
		"hub.topic":         {account.RemoteURL},
		"hub.mode":          {string(mode)},
		"hub.callback":      {c.links.SubscriptionCallbackURL(account.ID)},
		"hub.verify":        {"async"},
		"hub.secret":        {secret},
		"hub.lease_seconds": {strconv.Itoa(LeaseSeconds)},
	}
}

// SubscribeToRemoteHub asks the account's hub to push its content here. A
// success stores the new secret and a provisional expiry. A redirect or a
// 4xx other than 429 is a permanent rejection: it clears the expiry and
// returns ErrRejected.
func (c *Client) SubscribeToRemoteHub(ctx context.Context, account *domain.Account) error {
	if account.HubURL == "" {
		c.logger.Debug("account has no hub, not subscribing", "account_id", account.ID)
		return nil
	}

	secret, err := c.secret()
	if err != nil {
		return err
	}

	log := c.logger.With("account_id", account.ID, "hub_url", account.HubURL)

	code, err := c.post(ctx, account.HubURL, c.form(account, domain.ModeSubscribe, secret))
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", account.HubURL, err)
	}

	switch {
	case code >= 200 && code < 300:
		expires := c.now().Add(provisionalExpiry)
		if err := c.accounts.UpdateRemoteSubscription(ctx, account.ID, secret, &expires); err != nil {
			return err
		}
		log.Info("subscribed to remote hub")
		return nil

	case code >= 300 && code < 500:
		if err := c.accounts.UpdateRemoteSubscription(ctx, account.ID, account.Secret, nil); err != nil {
			return err
		}
		log.Warn("remote hub rejected subscription", "status_code", code)
		return fmt.Errorf("%w: status %d", ErrRejected, code)

	default:
		return fmt.Errorf("%w: status %d", ErrUnexpectedResponse, code)
	}
}

// UnsubscribeFromRemoteHub tells the hub to stop pushing. Whatever the hub
// answers, the local subscription state is cleared.
func (c *Client) UnsubscribeFromRemoteHub(ctx context.Context, account *domain.Account) error {
	if account.HubURL == "" {
		c.logger.Debug("account has no hub, not unsubscribing", "account_id", account.ID)
		return nil
	}

	code, err := c.post(ctx, account.HubURL, c.form(account, domain.ModeUnsubscribe, account.Secret))
	switch {
	case err != nil:
		c.logger.Warn("unsubscribe from remote hub failed",
			"account_id", account.ID, "hub_url", account.HubURL, "error", err)
	case code < 200 || code >= 300:
		c.logger.Warn("remote hub refused unsubscribe",
			"account_id", account.ID, "hub_url", account.HubURL, "status_code", code)
	}

	return c.accounts.UpdateRemoteSubscription(ctx, account.ID, "", nil)
}

// BreakerState reports the breaker state of a hub, "closed" for hubs never called.
func (c *Client) BreakerState(hubURL string) string {
	return c.breaker(hubURL).State().String()
}
