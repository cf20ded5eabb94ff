package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/superparser/gateway-control/internal/metrics"
)

// BreakerSettings tunes the circuit breaker in front of the admin API.
type BreakerSettings struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	MinRequests      uint32
	FailureThreshold float64
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:             "gateway-admin",
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		MinRequests:      5,
		FailureThreshold: 0.6,
	}
}

// BreakerClient fails fast while the admin API is unhealthy. Rejections and
// missing consumers are answers, not outages, so they do not trip it.
type BreakerClient struct {
	next AdminClient
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

func NewBreakerClient(next AdminClient, settings BreakerSettings) *BreakerClient {
	metrics.CircuitBreakerState.WithLabelValues(settings.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= settings.FailureThreshold {
				log.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", ratio).
					Msg("gateway circuit breaker opening")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("gateway circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrConsumerNotFound) || IsRejected(err)
		},
	})

	return &BreakerClient{next: next, cb: cb, name: settings.Name}
}

func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerClient) UpsertConsumer(ctx context.Context, consumer Consumer) error {
	_, err := b.execute("upsert_consumer", func() (any, error) {
		return nil, b.next.UpsertConsumer(ctx, consumer)
	})
	return err
}

func (b *BreakerClient) DeleteConsumer(ctx context.Context, id string) error {
	_, err := b.execute("delete_consumer", func() (any, error) {
		return nil, b.next.DeleteConsumer(ctx, id)
	})
	return err
}

func (b *BreakerClient) UpsertRoute(ctx context.Context, route Route) error {
	_, err := b.execute("upsert_route", func() (any, error) {
		return nil, b.next.UpsertRoute(ctx, route)
	})
	return err
}

func (b *BreakerClient) GetConsumer(ctx context.Context, id string) (*Consumer, error) {
	result, err := b.execute("get_consumer", func() (any, error) {
		return b.next.GetConsumer(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	consumer, ok := result.(*Consumer)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return consumer, nil
}

func (b *BreakerClient) execute(op string, fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.GatewayRequests.WithLabelValues(op, "breaker_open").Inc()
		return nil, &RemoteError{Op: op, Err: err}
	}
	return result, err
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
