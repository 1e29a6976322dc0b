package domain

import "time"

type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
	VisibilityDirect   Visibility = "direct"
	VisibilityLimited  Visibility = "limited"
)

// Pushable reports whether content with this visibility may leave the
// instance through hub delivery. Direct and limited content never does.
func (v Visibility) Pushable() bool {
	return v != VisibilityDirect && v != VisibilityLimited
}

type Status struct {
	ID           string     `json:"id"`
	URI          string     `json:"uri"`
	URL          string     `json:"url"`
	Content      string     `json:"content"`
	SpoilerText  string     `json:"spoiler_text,omitempty"`
	Language     string     `json:"language,omitempty"`
	Visibility   Visibility `json:"visibility"`
	Sensitive    bool       `json:"sensitive"`
	InReplyToURI string     `json:"in_reply_to_uri,omitempty"`
	InReplyToURL string     `json:"in_reply_to_url,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (s *Status) Reply() bool {
	return s.InReplyToURI != ""
}

// StreamEntry is one item of an account's outbound activity feed.
type StreamEntry struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Status    *Status   `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e *StreamEntry) Visibility() Visibility {
	if e.Status == nil {
		return VisibilityPublic
	}
	return e.Status.Visibility
}
