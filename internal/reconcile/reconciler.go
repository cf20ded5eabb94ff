// Package reconcile turns ledger state into gateway configuration.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/superparser/gateway-control/internal/audit"
	"github.com/superparser/gateway-control/internal/gateway"
	"github.com/superparser/gateway-control/internal/model"
)

const (
	// QuotaWindow is the gateway's fixed counting window for monthly quotas.
	QuotaWindow = 30 * 24 * time.Hour

	RateLimitMessage = "Rate limit exceeded. Please slow down."
)

// Account is the slice of an account the gateway needs. APIKey is plaintext.
type Account struct {
	Email  string
	APIKey string
}

// Ack confirms the gateway accepted the desired state.
type Ack struct {
	ConsumerID string
	PlanName   string
	Routes     []string
	AppliedAt  time.Time
}

type Config struct {
	MeteredPrefixes []string
	Upstream        gateway.Upstream
}

type Reconciler struct {
	client gateway.AdminClient
	cfg    Config
}

func New(client gateway.AdminClient, cfg Config) *Reconciler {
	return &Reconciler{client: client, cfg: cfg}
}

// DesiredConsumer is a pure function of its inputs: equal inputs yield equal
// consumers, which makes the upsert idempotent. A zero MonthlyQuota omits the
// limit-count plugin and a zero RateLimit omits limit-req, so the gateway
// enforces nothing on that axis.
func DesiredConsumer(acct Account, plan model.Plan) gateway.Consumer {
	consumer := gateway.Consumer{
		ID:          gateway.ConsumerID(acct.Email),
		APIKey:      acct.APIKey,
		Description: fmt.Sprintf("%s (%s)", acct.Email, plan.Name),
	}
	if plan.MonthlyQuota > 0 {
		consumer.Quota = &gateway.QuotaPolicy{
			Count:           plan.MonthlyQuota,
			Window:          QuotaWindow,
			RejectedCode:    http.StatusTooManyRequests,
			RejectedMessage: plan.RejectionMessage,
		}
	}
	if plan.RateLimit > 0 {
		consumer.Rate = &gateway.RatePolicy{
			Rate:            plan.RateLimit,
			Burst:           plan.RateLimit * 2,
			RejectedCode:    http.StatusTooManyRequests,
			RejectedMessage: RateLimitMessage,
		}
	}
	return consumer
}

func (r *Reconciler) DesiredRoutes() []gateway.Route {
	routes := make([]gateway.Route, 0, len(r.cfg.MeteredPrefixes))
	for _, prefix := range r.cfg.MeteredPrefixes {
		routes = append(routes, gateway.Route{
			ID:             gateway.RouteID(prefix),
			PathPrefix:     prefix,
			Description:    "metered " + prefix,
			RequireKeyAuth: true,
			Upstream:       r.cfg.Upstream,
		})
	}
	return routes
}

// Reconcile pushes the consumer for acct on plan, then makes sure the metered
// routes exist. The two upserts are not atomic; a failure in either is
// repaired by running Reconcile again.
func (r *Reconciler) Reconcile(ctx context.Context, acct Account, plan model.Plan) (*Ack, error) {
	if acct.APIKey == "" {
		return nil, fmt.Errorf("reconcile %s: account has no api key", acct.Email)
	}

	consumer := DesiredConsumer(acct, plan)
	if err := r.client.UpsertConsumer(ctx, consumer); err != nil {
		return nil, newError(StepUpsertConsumer, consumer.ID, err)
	}

	routes, err := r.EnsureRoutes(ctx)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("consumer_id", consumer.ID).
		Str("plan", plan.Name).
		Int("monthly_quota", plan.MonthlyQuota).
		Int("rate_limit", plan.RateLimit).
		Msg("gateway consumer reconciled")

	return &Ack{
		ConsumerID: consumer.ID,
		PlanName:   plan.Name,
		Routes:     routes,
		AppliedAt:  time.Now(),
	}, nil
}

// Upgrade re-reads the remote consumer before applying the new plan. The
// account's stored key stays authoritative; a differing remote key is logged
// and overwritten.
func (r *Reconciler) Upgrade(ctx context.Context, acct Account, plan model.Plan) (*Ack, error) {
	id := gateway.ConsumerID(acct.Email)

	remote, err := r.client.GetConsumer(ctx, id)
	switch {
	case errors.Is(err, gateway.ErrConsumerNotFound):
		log.Info().Str("consumer_id", id).Msg("consumer missing at gateway, recreating on upgrade")
	case err != nil:
		return nil, newError(StepFetchConsumer, id, err)
	case remote.APIKey != acct.APIKey:
		log.Warn().
			Str("consumer_id", id).
			Bool("remote_key_empty", remote.APIKey == "").
			Msg("gateway key differs from stored key, restoring stored key")
		audit.Log(ctx, audit.Event{
			Type:    audit.EventKeyDrift,
			Email:   acct.Email,
			Details: map[string]interface{}{"consumer_id": id, "plan": plan.Name},
		})
	}

	return r.Reconcile(ctx, acct, plan)
}

// Remove deletes the account's consumer. A consumer that is already gone
// counts as removed.
func (r *Reconciler) Remove(ctx context.Context, email string) error {
	id := gateway.ConsumerID(email)
	if err := r.client.DeleteConsumer(ctx, id); err != nil {
		return newError(StepDeleteConsumer, id, err)
	}
	log.Info().Str("consumer_id", id).Msg("gateway consumer removed")
	return nil
}

// EnsureRoutes upserts every metered route and returns their IDs.
func (r *Reconciler) EnsureRoutes(ctx context.Context) ([]string, error) {
	routes := r.DesiredRoutes()
	ids := make([]string, 0, len(routes))
	for _, route := range routes {
		if err := r.client.UpsertRoute(ctx, route); err != nil {
			return nil, newError(StepUpsertRoute, "", err)
		}
		ids = append(ids, route.ID)
	}
	return ids, nil
}
