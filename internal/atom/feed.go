// Package atom renders an account's outbound activity as an Atom feed
// with the ActivityStreams, PortableContacts and OStatus extensions
// federated subscribers expect.
package atom

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/Priya8975/pushhub/internal/domain"
)

const (
	nsAtom     = "http://www.w3.org/2005/Atom"
	nsThread   = "http://purl.org/syndication/thread/1.0"
	nsActivity = "http://activitystrea.ms/spec/1.0/"
	nsPoco     = "http://portablecontacts.net/spec/1.0"
	nsMedia    = "http://purl.org/syndication/atommedia"
	nsOStatus  = "http://ostatus.org/schema/1.0"
	nsMastodon = "http://mastodon.social/schema/1.0"

	typePerson     = "http://activitystrea.ms/schema/1.0/person"
	typeNote       = "http://activitystrea.ms/schema/1.0/note"
	typeComment    = "http://activitystrea.ms/schema/1.0/comment"
	typeCollection = "http://activitystrea.ms/schema/1.0/collection"
	verbPost       = "http://activitystrea.ms/schema/1.0/post"

	publicCollection = "http://activityschema.org/collection/public"
)

type feed struct {
	XMLName    xml.Name `xml:"feed"`
	Xmlns      string   `xml:"xmlns,attr"`
	XmlnsThr   string   `xml:"xmlns:thr,attr"`
	XmlnsAct   string   `xml:"xmlns:activity,attr"`
	XmlnsPoco  string   `xml:"xmlns:poco,attr"`
	XmlnsMedia string   `xml:"xmlns:media,attr"`
	XmlnsOS    string   `xml:"xmlns:ostatus,attr"`
	XmlnsMtdn  string   `xml:"xmlns:mastodon,attr"`

	ID       string  `xml:"id"`
	Title    string  `xml:"title"`
	Subtitle string  `xml:"subtitle"`
	Updated  string  `xml:"updated"`
	Logo     string  `xml:"logo,omitempty"`
	Author   author  `xml:"author"`
	Links    []link  `xml:"link"`
	Entries  []entry `xml:"entry"`
}

type author struct {
	ID                string `xml:"id"`
	ObjectType        string `xml:"activity:object-type"`
	URI               string `xml:"uri"`
	Name              string `xml:"name"`
	Email             string `xml:"email"`
	Summary           string `xml:"summary"`
	Links             []link `xml:"link"`
	PreferredUsername string `xml:"poco:preferredUsername"`
	DisplayName       string `xml:"poco:displayName,omitempty"`
	Note              string `xml:"poco:note,omitempty"`
	Scope             string `xml:"mastodon:scope"`
}

type link struct {
	Rel               string `xml:"rel,attr"`
	Type              string `xml:"type,attr,omitempty"`
	Href              string `xml:"href,attr"`
	OStatusObjectType string `xml:"ostatus:object-type,attr,omitempty"`
}

type text struct {
	Type  string `xml:"type,attr,omitempty"`
	Lang  string `xml:"xml:lang,attr,omitempty"`
	Value string `xml:",chardata"`
}

type category struct {
	Term string `xml:"term,attr"`
}

type inReplyTo struct {
	Ref  string `xml:"ref,attr"`
	Href string `xml:"href,attr,omitempty"`
}

type entry struct {
	ID         string     `xml:"id"`
	Published  string     `xml:"published"`
	Updated    string     `xml:"updated"`
	Title      string     `xml:"title"`
	ObjectType string     `xml:"activity:object-type"`
	Verb       string     `xml:"activity:verb"`
	Summary    *text      `xml:"summary,omitempty"`
	Content    *text      `xml:"content,omitempty"`
	Links      []link     `xml:"link"`
	Categories []category `xml:"category"`
	Scope      string     `xml:"mastodon:scope,omitempty"`
	InReplyTo  *inReplyTo `xml:"thr:in-reply-to,omitempty"`
}

// Renderer builds feeds with this instance's URLs.
type Renderer struct {
	links domain.Links
}

func NewRenderer(links domain.Links) *Renderer {
	return &Renderer{links: links}
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// RenderFeed renders the account's feed holding entries.
func (r *Renderer) RenderFeed(account *domain.Account, entries []*domain.StreamEntry) ([]byte, error) {
	title := account.DisplayName
	if title == "" {
		title = account.Username
	}

	f := feed{
		Xmlns:      nsAtom,
		XmlnsThr:   nsThread,
		XmlnsAct:   nsActivity,
		XmlnsPoco:  nsPoco,
		XmlnsMedia: nsMedia,
		XmlnsOS:    nsOStatus,
		XmlnsMtdn:  nsMastodon,

		ID:       r.links.FeedURL(account),
		Title:    title,
		Subtitle: account.Note,
		Updated:  timestamp(account.UpdatedAt),
		Logo:     account.AvatarURL,
		Author:   r.author(account),
		Links: []link{
			{Rel: "alternate", Type: "text/html", Href: r.links.ProfileURL(account)},
			{Rel: "self", Type: "application/atom+xml", Href: r.links.FeedURL(account)},
			{Rel: "hub", Href: r.links.HubURL()},
		},
	}

	for _, e := range entries {
		f.Entries = append(f.Entries, r.entry(account, e))
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(f); err != nil {
		return nil, fmt.Errorf("encoding feed: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) author(account *domain.Account) author {
	scope := "public"
	if account.Locked {
		scope = "private"
	}

	a := author{
		ID:                r.links.AccountURL(account),
		ObjectType:        typePerson,
		URI:               r.links.AccountURL(account),
		Name:              account.Username,
		Email:             account.Username + "@" + r.links.LocalDomain(),
		Summary:           account.Note,
		PreferredUsername: account.Username,
		DisplayName:       account.DisplayName,
		Note:              account.Note,
		Scope:             scope,
		Links: []link{
			{Rel: "alternate", Type: "text/html", Href: r.links.ProfileURL(account)},
		},
	}
	if account.AvatarURL != "" {
		a.Links = append(a.Links, link{Rel: "avatar", Href: account.AvatarURL})
	}
	return a
}

// uniqueTag is the tag: URI identifying a status on this instance.
func (r *Renderer) uniqueTag(createdAt time.Time, id, objectType string) string {
	return fmt.Sprintf("tag:%s,%s:objectId=%s:objectType=%s",
		r.links.LocalDomain(), createdAt.UTC().Format("2006-01-02"), id, objectType)
}

func (r *Renderer) entry(account *domain.Account, e *domain.StreamEntry) entry {
	out := entry{
		Published:  timestamp(e.CreatedAt),
		Updated:    timestamp(e.UpdatedAt),
		Title:      "New status by " + account.Username,
		ObjectType: typeNote,
		Verb:       verbPost,
	}
	entryLinks := []link{
		{Rel: "alternate", Type: "text/html", Href: r.links.EntryURL(account, e.ID, false)},
		{Rel: "self", Type: "application/atom+xml", Href: r.links.EntryURL(account, e.ID, true)},
	}

	s := e.Status
	if s == nil {
		out.ID = r.uniqueTag(e.CreatedAt, e.ID, "StreamEntry")
		out.Links = entryLinks
		return out
	}

	out.ID = r.uniqueTag(s.CreatedAt, s.ID, "Status")
	if s.Reply() {
		out.ObjectType = typeComment
		out.InReplyTo = &inReplyTo{Ref: s.InReplyToURI, Href: s.InReplyToURL}
	}
	if s.SpoilerText != "" {
		out.Summary = &text{Lang: s.Language, Value: s.SpoilerText}
	}
	out.Content = &text{Type: "html", Lang: s.Language, Value: s.Content}
	if s.Visibility == domain.VisibilityPublic {
		out.Links = append(out.Links, link{
			Rel:               "mentioned",
			OStatusObjectType: typeCollection,
			Href:              publicCollection,
		})
	}
	if s.Sensitive {
		out.Categories = append(out.Categories, category{Term: "nsfw"})
	}
	out.Links = append(out.Links, entryLinks...)
	out.Scope = string(s.Visibility)
	return out
}
