package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

const (
	MinLease = 24 * time.Hour
	MaxLease = 30 * 24 * time.Hour
)

type Mode string

const (
	ModeSubscribe   Mode = "subscribe"
	ModeUnsubscribe Mode = "unsubscribe"
)

type Subscription struct {
	ID                       string     `json:"id"`
	AccountID                string     `json:"account_id"`
	CallbackURL              string     `json:"callback_url"`
	Secret                   string     `json:"-"`
	LeaseSeconds             int        `json:"lease_seconds"`
	ExpiresAt                *time.Time `json:"expires_at,omitempty"`
	Confirmed                bool       `json:"confirmed"`
	LastSuccessfulDeliveryAt *time.Time `json:"last_successful_delivery_at,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

// SetLease clamps the requested lease to [MinLease, MaxLease] and moves the
// expiry to now plus the clamped lease. Zero or negative leases get MinLease.
func (s *Subscription) SetLease(seconds int, now time.Time) {
	lease := time.Duration(seconds) * time.Second
	if lease < MinLease {
		lease = MinLease
	}
	if lease > MaxLease {
		lease = MaxLease
	}
	expires := now.Add(lease)
	s.LeaseSeconds = int(lease / time.Second)
	s.ExpiresAt = &expires
}

// Active reports whether the subscription is confirmed and unexpired.
func (s *Subscription) Active(now time.Time) bool {
	return s.Confirmed && s.ExpiresAt != nil && s.ExpiresAt.After(now)
}

func (s *Subscription) Signed() bool {
	return s.Secret != ""
}

func (s *Subscription) CallbackHost() (string, error) {
	return HostOf(s.CallbackURL)
}

// HostOf returns the normalized (lowercase, ASCII) host of an absolute URL.
func HostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return NormalizeHost(u.Hostname())
}

func NormalizeHost(host string) (string, error) {
	ascii, err := idna.Lookup.ToASCII(strings.TrimSuffix(host, "."))
	if err != nil {
		return "", fmt.Errorf("normalizing host %q: %w", host, err)
	}
	return strings.ToLower(ascii), nil
}

// HostSet is a set of normalized hostnames.
type HostSet map[string]struct{}

func NewHostSet(hosts ...string) HostSet {
	set := make(HostSet, len(hosts))
	for _, h := range hosts {
		set.Add(h)
	}
	return set
}

func (s HostSet) Add(host string) {
	if normalized, err := NormalizeHost(host); err == nil {
		s[normalized] = struct{}{}
	}
}

func (s HostSet) Has(host string) bool {
	_, ok := s[host]
	return ok
}
