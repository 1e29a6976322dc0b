package hubclient

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Priya8975/pushhub/internal/domain"
	"github.com/Priya8975/pushhub/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hubFixture struct {
	store  *storetest.MemoryStore
	client *Client
	now    time.Time
	form   atomic.Pointer[url.Values]
	calls  atomic.Int32
}

func newHubFixture(t *testing.T, status int) (*hubFixture, *domain.Account) {
	t.Helper()
	f := &hubFixture{
		store: storetest.NewMemoryStore(),
		now:   time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		_ = r.ParseForm()
		form := r.PostForm
		f.form.Store(&form)
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	links, err := domain.NewLinks("https://local.example")
	require.NoError(t, err)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	f.client = New(&http.Client{Timeout: 5 * time.Second}, f.store, links, cfg, logger)
	f.client.now = func() time.Time { return f.now }
	f.client.secret = func() (string, error) { return "new-secret", nil }

	account := domain.Account{
		ID:        "remote-1",
		Username:  "bob",
		Domain:    "remote.example",
		RemoteURL: "https://remote.example/users/bob.atom",
		HubURL:    server.URL,
		Secret:    "old-secret",
	}
	f.store.AddAccount(account)
	return f, &account
}

func TestSubscribe_Success(t *testing.T) {
	f, account := newHubFixture(t, http.StatusAccepted)

	require.NoError(t, f.client.SubscribeToRemoteHub(context.Background(), account))

	form := *f.form.Load()
	assert.Equal(t, "https://remote.example/users/bob.atom", form.Get("hub.topic"))
	assert.Equal(t, "subscribe", form.Get("hub.mode"))
	assert.Equal(t, "https://local.example/api/subscriptions/remote-1", form.Get("hub.callback"))
	assert.Equal(t, "async", form.Get("hub.verify"))
	assert.Equal(t, "new-secret", form.Get("hub.secret"))
	assert.Equal(t, "604800", form.Get("hub.lease_seconds"))

	stored, _ := f.store.Account("remote-1")
	assert.Equal(t, "new-secret", stored.Secret)
	require.NotNil(t, stored.SubscriptionExpiresAt)
	assert.Equal(t, f.now.Add(24*time.Hour), *stored.SubscriptionExpiresAt)
}

func TestSubscribe_PermanentRejection(t *testing.T) {
	f, account := newHubFixture(t, http.StatusNotFound)
	expires := f.now.Add(time.Hour)
	account.SubscriptionExpiresAt = &expires
	f.store.AddAccount(*account)

	err := f.client.SubscribeToRemoteHub(context.Background(), account)
	assert.ErrorIs(t, err, ErrRejected)

	stored, _ := f.store.Account("remote-1")
	assert.Nil(t, stored.SubscriptionExpiresAt)
	assert.Equal(t, "old-secret", stored.Secret)
}

func TestSubscribe_RedirectIsPermanentRejection(t *testing.T) {
	// Without a Location header the client hands the 3xx back as is.
	f, account := newHubFixture(t, http.StatusFound)
	expires := f.now.Add(time.Hour)
	account.SubscriptionExpiresAt = &expires
	f.store.AddAccount(*account)

	err := f.client.SubscribeToRemoteHub(context.Background(), account)
	assert.ErrorIs(t, err, ErrRejected)
	assert.NotErrorIs(t, err, ErrUnexpectedResponse)
	assert.Equal(t, int32(1), f.calls.Load())

	stored, _ := f.store.Account("remote-1")
	assert.Nil(t, stored.SubscriptionExpiresAt)
	assert.Equal(t, "old-secret", stored.Secret)
}

func TestSubscribe_TooManyRequestsIsRetryable(t *testing.T) {
	f, account := newHubFixture(t, http.StatusTooManyRequests)

	err := f.client.SubscribeToRemoteHub(context.Background(), account)
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.NotErrorIs(t, err, ErrRejected)
	assert.Zero(t, f.store.Writes())
}

func TestSubscribe_BreakerOpensOnFailingHub(t *testing.T) {
	f, account := newHubFixture(t, http.StatusBadGateway)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, f.client.SubscribeToRemoteHub(ctx, account), ErrUnexpectedResponse)
	}
	assert.Equal(t, "open", f.client.BreakerState(account.HubURL))

	err := f.client.SubscribeToRemoteHub(ctx, account)
	assert.ErrorIs(t, err, ErrHubUnavailable)
	assert.Equal(t, int32(2), f.calls.Load(), "open breaker must not call the hub")
}

func TestSubscribe_NoHubIsNoop(t *testing.T) {
	f, account := newHubFixture(t, http.StatusAccepted)
	account.HubURL = ""

	require.NoError(t, f.client.SubscribeToRemoteHub(context.Background(), account))
	assert.Zero(t, f.calls.Load())
}

func TestUnsubscribe_ClearsStateWhateverTheAnswer(t *testing.T) {
	for _, status := range []int{http.StatusAccepted, http.StatusNotFound, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			f, account := newHubFixture(t, status)
			expires := f.now.Add(time.Hour)
			account.SubscriptionExpiresAt = &expires
			f.store.AddAccount(*account)

			require.NoError(t, f.client.UnsubscribeFromRemoteHub(context.Background(), account))

			form := *f.form.Load()
			assert.Equal(t, "unsubscribe", form.Get("hub.mode"))
			assert.Equal(t, "old-secret", form.Get("hub.secret"))

			stored, _ := f.store.Account("remote-1")
			assert.Empty(t, stored.Secret)
			assert.Nil(t, stored.SubscriptionExpiresAt)
		})
	}
}
