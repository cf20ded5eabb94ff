package reconcile

import (
	"errors"
	"fmt"

	"github.com/superparser/gateway-control/internal/gateway"
)

// Kind separates failures worth waiting out from ones that need a human.
type Kind string

const (
	KindUnavailable Kind = "unavailable"
	KindRejected    Kind = "rejected"
)

type Step string

const (
	StepFetchConsumer  Step = "fetch_consumer"
	StepUpsertConsumer Step = "upsert_consumer"
	StepUpsertRoute    Step = "upsert_route"
	StepDeleteConsumer Step = "delete_consumer"
)

// Error is returned for every failed gateway interaction. Both kinds are
// retried; Kind decides how the failure is reported.
type Error struct {
	Kind       Kind
	Step       Step
	ConsumerID string
	Err        error
}

func (e *Error) Error() string {
	if e.ConsumerID == "" {
		return fmt.Sprintf("reconcile %s: %s: %v", e.Step, e.Kind, e.Err)
	}
	return fmt.Sprintf("reconcile %s for %s: %s: %v", e.Step, e.ConsumerID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(step Step, consumerID string, err error) *Error {
	kind := KindUnavailable
	if gateway.IsRejected(err) {
		kind = KindRejected
	}
	return &Error{Kind: kind, Step: step, ConsumerID: consumerID, Err: err}
}

// AsError extracts a reconcile Error from err.
func AsError(err error) (*Error, bool) {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr, true
	}
	return nil, false
}
