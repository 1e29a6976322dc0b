package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Priya8975/pushhub/internal/domain"
	"github.com/Priya8975/pushhub/internal/queue"
)

// PushStore is what the hub endpoint reads and writes.
type PushStore interface {
	GetLocalAccountByUsername(ctx context.Context, username string) (*domain.Account, error)
	FindSubscription(ctx context.Context, accountID, callbackURL string) (*domain.Subscription, error)
	FindOrCreateSubscription(ctx context.Context, accountID, callbackURL string) (*domain.Subscription, error)
	IsDomainBlocked(ctx context.Context, host string) (bool, error)
}

// PushHandler serves the hub endpoint that remote subscribers call to
// subscribe to or unsubscribe from a local account's feed. Verification
// happens asynchronously in a confirm job.
type PushHandler struct {
	store  PushStore
	queue  queue.Enqueuer
	links  domain.Links
	logger *slog.Logger
}

func NewPushHandler(s PushStore, q queue.Enqueuer, links domain.Links, logger *slog.Logger) *PushHandler {
	return &PushHandler{store: s, queue: q, links: links, logger: logger}
}

type hubRequest struct {
	mode         domain.Mode
	topic        string
	callback     string
	secret       string
	leaseSeconds int
}

func parseHubRequest(r *http.Request) hubRequest {
	lease, _ := strconv.Atoi(r.PostFormValue("hub.lease_seconds"))
	return hubRequest{
		mode:         domain.Mode(r.PostFormValue("hub.mode")),
		topic:        r.PostFormValue("hub.topic"),
		callback:     r.PostFormValue("hub.callback"),
		secret:       r.PostFormValue("hub.secret"),
		leaseSeconds: lease,
	}
}

func validCallback(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (h *PushHandler) Update(w http.ResponseWriter, r *http.Request) {
	req := parseHubRequest(r)

	if req.mode != domain.ModeSubscribe && req.mode != domain.ModeUnsubscribe {
		respondText(w, http.StatusUnprocessableEntity, "Unknown mode: "+string(req.mode))
		return
	}

	account, err := h.topicAccount(r.Context(), req.topic)
	if err != nil {
		h.logger.Error("resolving topic", "topic", req.topic, "error", err)
		respondText(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if account == nil {
		respondText(w, http.StatusUnprocessableEntity, "Invalid topic URL")
		return
	}

	if !validCallback(req.callback) {
		respondText(w, http.StatusUnprocessableEntity, "Invalid callback URL")
		return
	}
	host, err := domain.HostOf(req.callback)
	if err != nil {
		respondText(w, http.StatusUnprocessableEntity, "Invalid callback URL")
		return
	}
	blocked, err := h.store.IsDomainBlocked(r.Context(), host)
	if err != nil {
		h.logger.Error("checking domain block", "callback_host", host, "error", err)
		respondText(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if blocked {
		respondText(w, http.StatusForbidden, "Callback URL not allowed")
		return
	}

	if req.mode == domain.ModeSubscribe {
		err = h.subscribe(r.Context(), account, req)
	} else {
		err = h.unsubscribe(r.Context(), account, req)
	}
	if err != nil {
		h.logger.Error("handling hub request",
			"mode", req.mode,
			"account_id", account.ID,
			"callback_host", host,
			"error", err,
		)
		respondText(w, http.StatusInternalServerError, "Internal error")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *PushHandler) topicAccount(ctx context.Context, topic string) (*domain.Account, error) {
	username, ok := h.links.ParseFeedURL(topic)
	if !ok {
		return nil, nil
	}
	return h.store.GetLocalAccountByUsername(ctx, username)
}

func (h *PushHandler) subscribe(ctx context.Context, account *domain.Account, req hubRequest) error {
	sub, err := h.store.FindOrCreateSubscription(ctx, account.ID, req.callback)
	if err != nil {
		return err
	}
	return h.enqueueConfirm(ctx, queue.ConfirmArgs{
		SubscriptionID: sub.ID,
		Mode:           string(domain.ModeSubscribe),
		Secret:         req.secret,
		LeaseSeconds:   req.leaseSeconds,
	})
}

// unsubscribe only verifies intent when the hub knows the subscription.
func (h *PushHandler) unsubscribe(ctx context.Context, account *domain.Account, req hubRequest) error {
	sub, err := h.store.FindSubscription(ctx, account.ID, req.callback)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}
	return h.enqueueConfirm(ctx, queue.ConfirmArgs{
		SubscriptionID: sub.ID,
		Mode:           string(domain.ModeUnsubscribe),
	})
}

func (h *PushHandler) enqueueConfirm(ctx context.Context, args queue.ConfirmArgs) error {
	job, err := queue.NewJob(queue.KindConfirm, args)
	if err != nil {
		return err
	}
	return h.queue.Enqueue(ctx, job)
}
