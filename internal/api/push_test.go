package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/Priya8975/pushhub/internal/domain"
	"github.com/Priya8975/pushhub/internal/engine"
	"github.com/Priya8975/pushhub/internal/queue"
	"github.com/Priya8975/pushhub/internal/queue/queuetest"
	"github.com/Priya8975/pushhub/internal/store/storetest"
	ws "github.com/Priya8975/pushhub/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const topic = "https://social.example/users/alice.atom"

type fakeHosts struct{}

func (fakeHosts) State(ctx context.Context, host string) engine.HostState {
	return engine.HostState{State: engine.StateOpen, Failures: 5}
}

type fakeDepth struct {
	err error
}

func (d fakeDepth) Depth(ctx context.Context) (int64, int64, error) {
	return 4, 2, d.err
}

type apiFixture struct {
	store    *storetest.MemoryStore
	recorder *queuetest.Recorder
	router   http.Handler
}

func newAPIFixture(t *testing.T, depthErr error) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	links, err := domain.NewLinks("https://social.example")
	require.NoError(t, err)

	store := storetest.NewMemoryStore()
	store.AddAccount(domain.Account{ID: "1", Username: "alice"})
	store.AddAccount(domain.Account{ID: "2", Username: "bob", Domain: "remote.example"})
	store.BlockDomain("blocked.example")
	recorder := &queuetest.Recorder{}
	hub := ws.NewHub(logger)

	router := NewRouter(Handlers{
		Push:      NewPushHandler(store, recorder, links, logger),
		Dashboard: NewDashboardHandler(store, fakeHosts{}),
		Health:    HealthHandler(fakeDepth{err: depthErr}, hub),
		Hub:       hub,
	})
	return &apiFixture{store: store, recorder: recorder, router: router}
}

func (f *apiFixture) push(t *testing.T, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/push", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func hubForm(mode, topicURL, callback string) url.Values {
	return url.Values{
		"hub.mode":          {mode},
		"hub.topic":         {topicURL},
		"hub.callback":      {callback},
		"hub.secret":        {"s3cret"},
		"hub.lease_seconds": {"86400"},
	}
}

func TestPush_SubscribeCreatesAndEnqueuesConfirmation(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.push(t, hubForm("subscribe", topic, "https://reader.example/cb"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	sub, err := f.store.FindSubscription(context.Background(), "1", "https://reader.example/cb")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.False(t, sub.Confirmed, "confirmation happens asynchronously")

	jobs := f.recorder.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.KindConfirm, jobs[0].Kind)

	var args queue.ConfirmArgs
	require.NoError(t, jobs[0].Decode(&args))
	assert.Equal(t, queue.ConfirmArgs{
		SubscriptionID: sub.ID,
		Mode:           "subscribe",
		Secret:         "s3cret",
		LeaseSeconds:   86400,
	}, args)
}

func TestPush_RepeatedSubscribeReusesRecord(t *testing.T) {
	f := newAPIFixture(t, nil)

	require.Equal(t, http.StatusAccepted, f.push(t, hubForm("subscribe", topic, "https://reader.example/cb")).Code)
	require.Equal(t, http.StatusAccepted, f.push(t, hubForm("subscribe", topic, "https://reader.example/cb")).Code)

	subs, err := f.store.ListSubscriptions(context.Background(), "1", 0)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
	assert.Len(t, f.recorder.Jobs(), 2)
}

func TestPush_UnsubscribeKnownSubscription(t *testing.T) {
	f := newAPIFixture(t, nil)
	sub := f.store.AddSubscription(domain.Subscription{AccountID: "1", CallbackURL: "https://reader.example/cb", Confirmed: true})

	rec := f.push(t, hubForm("unsubscribe", topic, "https://reader.example/cb"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	jobs := f.recorder.Jobs()
	require.Len(t, jobs, 1)
	var args queue.ConfirmArgs
	require.NoError(t, jobs[0].Decode(&args))
	assert.Equal(t, sub.ID, args.SubscriptionID)
	assert.Equal(t, "unsubscribe", args.Mode)
	assert.Empty(t, args.Secret)
}

func TestPush_UnsubscribeUnknownSubscription(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.push(t, hubForm("unsubscribe", topic, "https://reader.example/cb"))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, f.recorder.Jobs())
}

func TestPush_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		form   url.Values
		status int
		body   string
	}{
		{"unknown mode", hubForm("publish", topic, "https://reader.example/cb"), http.StatusUnprocessableEntity, "Unknown mode: publish"},
		{"foreign topic", hubForm("subscribe", "https://elsewhere.example/users/alice.atom", "https://reader.example/cb"), http.StatusUnprocessableEntity, "Invalid topic URL"},
		{"unknown user", hubForm("subscribe", "https://social.example/users/nobody.atom", "https://reader.example/cb"), http.StatusUnprocessableEntity, "Invalid topic URL"},
		{"remote account", hubForm("subscribe", "https://social.example/users/bob.atom", "https://reader.example/cb"), http.StatusUnprocessableEntity, "Invalid topic URL"},
		{"relative callback", hubForm("subscribe", topic, "/cb"), http.StatusUnprocessableEntity, "Invalid callback URL"},
		{"ftp callback", hubForm("subscribe", topic, "ftp://reader.example/cb"), http.StatusUnprocessableEntity, "Invalid callback URL"},
		{"blocked callback", hubForm("subscribe", topic, "https://blocked.example/cb"), http.StatusForbidden, "Callback URL not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, nil)

			rec := f.push(t, tt.form)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.body, rec.Body.String())
			assert.Empty(t, f.recorder.Jobs())
			assert.Zero(t, f.store.Writes())
		})
	}
}

func TestPush_QueueFailure(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.recorder.Err = errors.New("redis down")

	rec := f.push(t, hubForm("subscribe", topic, "https://reader.example/cb"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSubscriptionHealth(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.store.AddSubscription(domain.Subscription{AccountID: "1", CallbackURL: "https://reader.example/cb", Confirmed: true})
	f.store.AddSubscription(domain.Subscription{AccountID: "9", CallbackURL: "https://other.example/cb"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/health?account_id=1", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"callback_host":"reader.example"`)
	assert.Contains(t, body, `"state":"open"`)
	assert.NotContains(t, body, "other.example")
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","version":"1.0.0","queue_ready":4,"queue_inflight":2,"websocket_clients":0}`, rec.Body.String())
}

func TestHealth_QueueUnreachable(t *testing.T) {
	f := newAPIFixture(t, errors.New("connection refused"))

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestPing(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
