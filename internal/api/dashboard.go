package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Priya8975/pushhub/internal/domain"
	"github.com/Priya8975/pushhub/internal/engine"
)

type SubscriptionLister interface {
	ListSubscriptions(ctx context.Context, accountID string, limit int) ([]domain.Subscription, error)
}

type HostStateReader interface {
	State(ctx context.Context, host string) engine.HostState
}

type DashboardHandler struct {
	store SubscriptionLister
	hosts HostStateReader
	now   func() time.Time
}

func NewDashboardHandler(s SubscriptionLister, hosts HostStateReader) *DashboardHandler {
	return &DashboardHandler{store: s, hosts: hosts, now: time.Now}
}

type subscriptionHealth struct {
	ID                       string           `json:"id"`
	AccountID                string           `json:"account_id"`
	CallbackURL              string           `json:"callback_url"`
	Confirmed                bool             `json:"confirmed"`
	Active                   bool             `json:"active"`
	ExpiresAt                *time.Time       `json:"expires_at,omitempty"`
	LastSuccessfulDeliveryAt *time.Time       `json:"last_successful_delivery_at,omitempty"`
	CallbackHost             string           `json:"callback_host,omitempty"`
	CircuitBreaker           engine.HostState `json:"circuit_breaker"`
}

// SubscriptionHealth lists subscriptions with their last delivery and the
// availability of their callback host.
func (h *DashboardHandler) SubscriptionHealth(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	subs, err := h.store.ListSubscriptions(r.Context(), accountID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}

	now := h.now()
	result := make([]subscriptionHealth, 0, len(subs))
	for _, sub := range subs {
		item := subscriptionHealth{
			ID:                       sub.ID,
			AccountID:                sub.AccountID,
			CallbackURL:              sub.CallbackURL,
			Confirmed:                sub.Confirmed,
			Active:                   sub.Active(now),
			ExpiresAt:                sub.ExpiresAt,
			LastSuccessfulDeliveryAt: sub.LastSuccessfulDeliveryAt,
			CircuitBreaker:           engine.HostState{State: engine.StateClosed},
		}
		if host, err := sub.CallbackHost(); err == nil {
			item.CallbackHost = host
			item.CircuitBreaker = h.hosts.State(r.Context(), host)
		}
		result = append(result, item)
	}

	respondJSON(w, http.StatusOK, result)
}
