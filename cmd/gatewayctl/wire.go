package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/superparser/gateway-control/internal/app"
	"github.com/superparser/gateway-control/internal/config"
	"github.com/superparser/gateway-control/internal/gateway"
	"github.com/superparser/gateway-control/internal/model"
	"github.com/superparser/gateway-control/internal/service"
)

type operator interface {
	ResyncByEmail(ctx context.Context, email string) (*service.SyncOutcome, error)
	ResyncFailed(ctx context.Context, limit int) (int, error)
	DeactivateAccount(ctx context.Context, email string) (*service.SyncOutcome, error)
}

type jobLister interface {
	FindByStatus(ctx context.Context, status model.JobStatus, limit, offset int) ([]model.ReconcileJob, error)
	CountByStatus(ctx context.Context) (map[model.JobStatus]int, error)
}

type routeProvisioner interface {
	DesiredRoutes() []gateway.Route
	EnsureRoutes(ctx context.Context) ([]string, error)
}

type planCatalog interface {
	List(ctx context.Context) ([]model.Plan, error)
	Apply(ctx context.Context, plans []service.PlanSpec) ([]model.Plan, error)
}

type deps struct {
	operator operator
	jobs     jobLister
	routes   routeProvisioner
	catalog  planCatalog
	plans    func() ([]service.PlanSpec, error)
}

type wireFunc func(ctx context.Context) (*deps, func(), error)

// wireDeps builds the same services the server runs against, from the same
// environment. Reconciliation from the CLI always runs inline.
func wireDeps(ctx context.Context) (*deps, func(), error) {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(cfg.IsProduction()); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.ReconcileMode = config.ReconcileModeInline

	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	return &deps{
		operator: a.Subscriptions,
		jobs:     a.Repos.Jobs,
		routes:   a.Reconciler,
		catalog:  a.Catalog,
		plans:    a.Plans,
	}, a.Close, nil
}
