// Package gateway talks to the API gateway's admin interface. It knows the
// desired-state vocabulary (consumers, routes) but nothing about accounts or
// plans.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Consumer is the gateway-side identity of one account together with its
// quota and rate policies.
type Consumer struct {
	ID          string
	APIKey      string
	Description string
	Quota       *QuotaPolicy
	Rate        *RatePolicy
}

// QuotaPolicy caps the number of requests in a fixed window.
type QuotaPolicy struct {
	Count           int
	Window          time.Duration
	RejectedCode    int
	RejectedMessage string
}

// RatePolicy smooths bursts with a leaky bucket.
type RatePolicy struct {
	Rate            int
	Burst           int
	RejectedCode    int
	RejectedMessage string
}

// Route exposes a path prefix through the gateway, stripping the prefix
// before proxying to the upstream pool.
type Route struct {
	ID             string
	PathPrefix     string
	Description    string
	RequireKeyAuth bool
	Upstream       Upstream
}

type Upstream struct {
	Type  string
	Nodes map[string]int
}

// AdminClient is the gateway admin protocol. Upserts are idempotent PUTs by
// ID; DeleteConsumer treats an absent consumer as success.
type AdminClient interface {
	UpsertConsumer(ctx context.Context, consumer Consumer) error
	DeleteConsumer(ctx context.Context, id string) error
	UpsertRoute(ctx context.Context, route Route) error
	GetConsumer(ctx context.Context, id string) (*Consumer, error)
}

var ErrConsumerNotFound = errors.New("gateway: consumer not found")

// RemoteError describes a failed admin API call. StatusCode is zero when the
// request never got a response.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("gateway %s: status %d", e.Op, e.StatusCode)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsRejected reports whether err is a definitive refusal by the gateway, as
// opposed to the gateway being unreachable, slow, or overloaded.
func IsRejected(err error) bool {
	var remote *RemoteError
	if !errors.As(err, &remote) {
		return false
	}
	code := remote.StatusCode
	return code >= 400 && code < 500 &&
		code != http.StatusRequestTimeout &&
		code != http.StatusTooManyRequests
}

func asRemote(err error, target **RemoteError) bool {
	return err != nil && errors.As(err, target)
}
