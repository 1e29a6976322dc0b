package domain

import (
	"errors"
	"time"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrAccountNotFound      = errors.New("account not found")
)

type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Domain      string `json:"domain,omitempty"`
	DisplayName string `json:"display_name"`
	Note        string `json:"note"`
	Locked      bool   `json:"locked"`
	AvatarURL   string `json:"avatar_url,omitempty"`

	// Remote hub state, only meaningful for accounts on other instances.
	RemoteURL             string     `json:"remote_url,omitempty"`
	HubURL                string     `json:"hub_url,omitempty"`
	Secret                string     `json:"-"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Account) Local() bool {
	return a.Domain == ""
}

func (a *Account) Acct() string {
	if a.Local() {
		return a.Username
	}
	return a.Username + "@" + a.Domain
}
