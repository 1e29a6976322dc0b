// Package ingest turns content events published by the social graph into
// hub jobs.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Priya8975/pushhub/internal/queue"
)

const (
	TypeEntriesPublished   = "entries.published"
	TypeAccountRaw         = "account.raw"
	TypeAccountResubscribe = "account.resubscribe"
	TypeAccountUnsubscribe = "account.unsubscribe"
)

// ErrMalformed marks a message that can never be processed.
var ErrMalformed = errors.New("malformed message")

// Message is the envelope of every event on the content queue.
type Message struct {
	Type           string   `json:"type"`
	StreamEntryIDs []string `json:"stream_entry_ids,omitempty"`
	AccountID      string   `json:"account_id,omitempty"`
	Payload        string   `json:"payload,omitempty"`
}

// Route decodes body and returns the job it asks for.
func Route(body []byte) (queue.Job, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return queue.Job{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	switch msg.Type {
	case TypeEntriesPublished:
		if len(msg.StreamEntryIDs) == 0 {
			return queue.Job{}, fmt.Errorf("%w: %s without stream_entry_ids", ErrMalformed, msg.Type)
		}
		return queue.NewJob(queue.KindDistribute, queue.DistributeArgs{StreamEntryIDs: msg.StreamEntryIDs})

	case TypeAccountRaw:
		if msg.AccountID == "" || msg.Payload == "" {
			return queue.Job{}, fmt.Errorf("%w: %s needs account_id and payload", ErrMalformed, msg.Type)
		}
		return queue.NewJob(queue.KindRawDistribute, queue.RawDistributeArgs{AccountID: msg.AccountID, Payload: msg.Payload})

	case TypeAccountResubscribe, TypeAccountUnsubscribe:
		if msg.AccountID == "" {
			return queue.Job{}, fmt.Errorf("%w: %s without account_id", ErrMalformed, msg.Type)
		}
		kind := queue.KindSubscribeRemote
		if msg.Type == TypeAccountUnsubscribe {
			kind = queue.KindUnsubscribeRemote
		}
		return queue.NewJob(kind, queue.AccountArgs{AccountID: msg.AccountID})

	default:
		return queue.Job{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, msg.Type)
	}
}
