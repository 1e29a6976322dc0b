package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// Links builds the public URLs this instance advertises.
type Links struct {
	base *url.URL
}

func NewLinks(baseURL string) (Links, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return Links{}, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return Links{}, fmt.Errorf("base url %q must be an absolute http(s) url", baseURL)
	}
	return Links{base: u}, nil
}

func (l Links) LocalDomain() string {
	return l.base.Host
}

func (l Links) BaseURL() string {
	return l.base.String()
}

func (l Links) HubURL() string {
	return l.base.String() + "/api/push"
}

func (l Links) FeedURL(account *Account) string {
	return l.base.String() + "/users/" + url.PathEscape(account.Username) + ".atom"
}

// AccountURL is the canonical identifier of a local account.
func (l Links) AccountURL(account *Account) string {
	return l.base.String() + "/users/" + url.PathEscape(account.Username)
}

func (l Links) ProfileURL(account *Account) string {
	return l.base.String() + "/@" + url.PathEscape(account.Username)
}

func (l Links) EntryURL(account *Account, entryID string, atom bool) string {
	u := l.base.String() + "/users/" + url.PathEscape(account.Username) + "/updates/" + url.PathEscape(entryID)
	if atom {
		u += ".atom"
	}
	return u
}

// SubscriptionCallbackURL is where remote hubs push content for a remote
// account this instance follows.
func (l Links) SubscriptionCallbackURL(accountID string) string {
	return l.base.String() + "/api/subscriptions/" + url.PathEscape(accountID)
}

// ParseFeedURL extracts the username from a topic URL of the form
// <base>/users/<username>.atom. It rejects topics hosted elsewhere.
func (l Links) ParseFeedURL(topic string) (string, bool) {
	u, err := url.Parse(topic)
	if err != nil || !strings.EqualFold(u.Host, l.base.Host) {
		return "", false
	}
	path := strings.TrimPrefix(u.Path, l.base.Path)
	if !strings.HasPrefix(path, "/users/") || !strings.HasSuffix(path, ".atom") {
		return "", false
	}
	username := strings.TrimSuffix(strings.TrimPrefix(path, "/users/"), ".atom")
	if username == "" || strings.Contains(username, "/") {
		return "", false
	}
	return username, true
}
