package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscription_SetLease(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		seconds int
		want    time.Duration
	}{
		{name: "within bounds", seconds: 3 * 86400, want: 72 * time.Hour},
		{name: "absent lease uses minimum", seconds: 0, want: MinLease},
		{name: "below minimum", seconds: 60, want: MinLease},
		{name: "above maximum", seconds: 90 * 86400, want: MaxLease},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sub Subscription
			sub.SetLease(tt.seconds, now)

			require.NotNil(t, sub.ExpiresAt)
			assert.Equal(t, now.Add(tt.want), *sub.ExpiresAt)
			assert.Equal(t, int(tt.want/time.Second), sub.LeaseSeconds)
		})
	}
}

func TestSubscription_Active(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	assert.True(t, (&Subscription{Confirmed: true, ExpiresAt: &future}).Active(now))
	assert.False(t, (&Subscription{Confirmed: false, ExpiresAt: &future}).Active(now))
	assert.False(t, (&Subscription{Confirmed: true, ExpiresAt: &past}).Active(now))
	assert.False(t, (&Subscription{Confirmed: true}).Active(now))
}

func TestSubscription_CallbackHost(t *testing.T) {
	sub := Subscription{CallbackURL: "https://Hub.Example.COM:8443/push?x=1"}
	host, err := sub.CallbackHost()
	require.NoError(t, err)
	assert.Equal(t, "hub.example.com", host)

	sub.CallbackURL = "https://bücher.example/cb"
	host, err = sub.CallbackHost()
	require.NoError(t, err)
	assert.Equal(t, "xn--bcher-kva.example", host)

	sub.CallbackURL = "/relative/path"
	_, err = sub.CallbackHost()
	assert.Error(t, err)
}

func TestHostSet(t *testing.T) {
	set := NewHostSet("Remote.Example", "other.example")

	assert.True(t, set.Has("remote.example"))
	assert.True(t, set.Has("other.example"))
	assert.False(t, set.Has("stranger.example"))
}

func TestVisibility_Pushable(t *testing.T) {
	assert.True(t, VisibilityPublic.Pushable())
	assert.True(t, VisibilityUnlisted.Pushable())
	assert.True(t, VisibilityPrivate.Pushable())
	assert.False(t, VisibilityDirect.Pushable())
	assert.False(t, VisibilityLimited.Pushable())
}
