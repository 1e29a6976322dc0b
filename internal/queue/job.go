package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindConfirm           Kind = "confirm"
	KindDistribute        Kind = "distribute"
	KindRawDistribute     Kind = "raw_distribute"
	KindDeliver           Kind = "deliver"
	KindSubscribeRemote   Kind = "subscribe_remote"
	KindUnsubscribeRemote Kind = "unsubscribe_remote"
)

// Job is a unit of work stored in the queue. Attempt counts prior failed
// runs, so a job on its first run has Attempt 0.
type Job struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Args       json.RawMessage `json:"args"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

func NewJob(kind Kind, args any) (Job, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return Job{}, fmt.Errorf("marshaling %s args: %w", kind, err)
	}
	return Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		Args:       data,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Args, v); err != nil {
		return fmt.Errorf("decoding %s args: %w", j.Kind, err)
	}
	return nil
}

type ConfirmArgs struct {
	SubscriptionID string `json:"subscription_id"`
	Mode           string `json:"mode"`
	Secret         string `json:"secret,omitempty"`
	LeaseSeconds   int    `json:"lease_seconds,omitempty"`
}

type DistributeArgs struct {
	StreamEntryIDs []string `json:"stream_entry_ids"`
}

type RawDistributeArgs struct {
	AccountID string `json:"account_id"`
	Payload   string `json:"payload"`
}

type DeliverArgs struct {
	SubscriptionID string `json:"subscription_id"`
	Payload        string `json:"payload"`
}

type AccountArgs struct {
	AccountID string `json:"account_id"`
}

// Policy is the retry policy for one job kind. A failed job is retried
// after Backoff(attempt) until it has been retried MaxRetries times, then
// dropped.
type Policy struct {
	MaxRetries int
	Backoff    func(attempt int) time.Duration
}

// LinearBackoff waits 5*(attempt+1) seconds.
func LinearBackoff(attempt int) time.Duration {
	return time.Duration(5*(attempt+1)) * time.Second
}

func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxRetries
}

func (p Policy) Delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return LinearBackoff(attempt)
	}
	return p.Backoff(attempt)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as terminal: the job is dropped without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type deferredError struct {
	err   error
	after time.Duration
}

func (e *deferredError) Error() string { return e.err.Error() }
func (e *deferredError) Unwrap() error { return e.err }

// Deferred marks err as a postponement rather than a failure: the job runs
// again after the given delay without using up one of its retries.
func Deferred(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &deferredError{err: err, after: after}
}

// DeferredBy reports whether err was marked with Deferred and the delay it
// asked for.
func DeferredBy(err error) (time.Duration, bool) {
	var d *deferredError
	if !errors.As(err, &d) {
		return 0, false
	}
	return d.after, true
}
