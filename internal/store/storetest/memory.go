// Package storetest provides an in-memory stand-in for the Postgres store.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Priya8975/pushhub/internal/domain"
)

// MemoryStore mirrors the PostgresStore methods the hub uses. Reads return
// copies so callers cannot mutate stored rows without an explicit write.
type MemoryStore struct {
	mu            sync.Mutex
	subscriptions map[string]domain.Subscription
	accounts      map[string]domain.Account
	entries       map[string]domain.StreamEntry
	followers     map[string]domain.HostSet
	blocked       domain.HostSet
	nextID        int
	writes        int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscriptions: make(map[string]domain.Subscription),
		accounts:      make(map[string]domain.Account),
		entries:       make(map[string]domain.StreamEntry),
		followers:     make(map[string]domain.HostSet),
		blocked:       domain.NewHostSet(),
	}
}

// AddSubscription stores sub, assigning an id when it has none.
func (m *MemoryStore) AddSubscription(sub domain.Subscription) domain.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == "" {
		m.nextID++
		sub.ID = fmt.Sprintf("sub-%d", m.nextID)
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	m.subscriptions[sub.ID] = sub
	return sub
}

func (m *MemoryStore) AddAccount(a domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
}

func (m *MemoryStore) AddStreamEntry(e domain.StreamEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e
}

func (m *MemoryStore) SetFollowerDomains(accountID string, hosts ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followers[accountID] = domain.NewHostSet(hosts...)
}

func (m *MemoryStore) BlockDomain(host string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked.Add(host)
}

// Writes counts mutations made through the store methods.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Subscription returns the stored row, bypassing the store interface.
func (m *MemoryStore) Subscription(id string) (domain.Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[id]
	return sub, ok
}

func (m *MemoryStore) Account(id string) (domain.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	return a, ok
}

func (m *MemoryStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (m *MemoryStore) FindSubscription(ctx context.Context, accountID, callbackURL string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subscriptions {
		if sub.AccountID == accountID && sub.CallbackURL == callbackURL {
			return &sub, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) FindOrCreateSubscription(ctx context.Context, accountID, callbackURL string) (*domain.Subscription, error) {
	if sub, _ := m.FindSubscription(ctx, accountID, callbackURL); sub != nil {
		return sub, nil
	}
	sub := m.AddSubscription(domain.Subscription{AccountID: accountID, CallbackURL: callbackURL})
	m.mu.Lock()
	m.writes++
	m.mu.Unlock()
	return &sub, nil
}

func (m *MemoryStore) ConfirmSubscription(ctx context.Context, sub *domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.subscriptions[sub.ID]
	if !ok {
		return fmt.Errorf("confirming subscription %s: %w", sub.ID, domain.ErrSubscriptionNotFound)
	}
	stored.Secret = sub.Secret
	stored.LeaseSeconds = sub.LeaseSeconds
	stored.ExpiresAt = sub.ExpiresAt
	stored.Confirmed = true
	stored.UpdatedAt = time.Now()
	m.subscriptions[sub.ID] = stored
	m.writes++
	return nil
}

func (m *MemoryStore) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, id)
	m.writes++
	return nil
}

func (m *MemoryStore) TouchDelivery(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subscriptions[id]; ok {
		sub.LastSuccessfulDeliveryAt = &at
		m.subscriptions[id] = sub
	}
	m.writes++
	return nil
}

func (m *MemoryStore) ActiveSubscriptions(ctx context.Context, accountID string, now time.Time) ([]domain.Subscription, error) {
	subs, _ := m.ListSubscriptions(ctx, accountID, 0)
	active := []domain.Subscription{}
	for _, sub := range subs {
		if sub.Active(now) {
			active = append(active, sub)
		}
	}
	return active, nil
}

func (m *MemoryStore) ListSubscriptions(ctx context.Context, accountID string, limit int) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := []domain.Subscription{}
	for _, sub := range m.subscriptions {
		if accountID == "" || sub.AccountID == accountID {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	if limit > 0 && len(subs) > limit {
		subs = subs[:limit]
	}
	return subs, nil
}

func (m *MemoryStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *MemoryStore) GetLocalAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Local() && a.Username == username {
			return &a, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) UpdateRemoteSubscription(ctx context.Context, accountID, secret string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return nil
	}
	a.Secret = secret
	a.SubscriptionExpiresAt = expiresAt
	m.accounts[accountID] = a
	m.writes++
	return nil
}

func (m *MemoryStore) GetStreamEntries(ctx context.Context, ids []string) ([]*domain.StreamEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := []*domain.StreamEntry{}
	for _, id := range ids {
		if e, ok := m.entries[id]; ok {
			entries = append(entries, &e)
		}
	}
	return entries, nil
}

func (m *MemoryStore) FollowerDomains(ctx context.Context, accountID string) (domain.HostSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := domain.NewHostSet()
	for h := range m.followers[accountID] {
		set[h] = struct{}{}
	}
	return set, nil
}

func (m *MemoryStore) IsDomainBlocked(ctx context.Context, host string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked.Has(host), nil
}
