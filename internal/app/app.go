// Package app wires the control plane's stores, gateway client and services
// from configuration. The server and the operator CLI share it.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/superparser/gateway-control/internal/auth"
	"github.com/superparser/gateway-control/internal/config"
	"github.com/superparser/gateway-control/internal/database"
	"github.com/superparser/gateway-control/internal/gateway"
	"github.com/superparser/gateway-control/internal/lock"
	"github.com/superparser/gateway-control/internal/reconcile"
	"github.com/superparser/gateway-control/internal/redis"
	"github.com/superparser/gateway-control/internal/repository"
	"github.com/superparser/gateway-control/internal/service"
	"github.com/superparser/gateway-control/internal/util"
)

type Repositories struct {
	Accounts      repository.AccountRepository
	Plans         repository.PlanRepository
	Subscriptions repository.SubscriptionRepository
	Jobs          repository.ReconcileJobRepository
	Usage         repository.UsageRepository
}

type App struct {
	Config *config.Config
	DB     *database.DB
	Redis  *redis.Client
	Repos  Repositories

	Box        *util.SecretBox
	Tokens     *auth.TokenService
	Reconciler *reconcile.Reconciler

	Catalog       *service.CatalogService
	Sync          *service.SyncService
	Subscriptions *service.SubscriptionService
	Accounts      *service.AccountService
	Reports       *service.ReportService
	Usage         *service.UsageRecorder
	RateLimiter   *service.RateLimiter
}

// New connects to Postgres and Redis and builds every service. Callers own
// Close.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.DBPingTimeout)
	err = db.Ping(pingCtx)
	cancel()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info().Msg("redis connected")

	a, err := build(cfg, db, redisClient)
	if err != nil {
		redisClient.Close()
		db.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, db *database.DB, redisClient *redis.Client) (*App, error) {
	box, err := util.NewSecretBox(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	nodes, err := cfg.UpstreamNodes()
	if err != nil {
		return nil, err
	}

	repos := Repositories{
		Accounts:      repository.NewAccountRepository(db.DB),
		Plans:         repository.NewPlanRepository(db.DB),
		Subscriptions: repository.NewSubscriptionRepository(db.DB),
		Jobs:          repository.NewReconcileJobRepository(db.DB),
		Usage:         repository.NewUsageRepository(db.DB),
	}

	admin := gateway.NewBreakerClient(
		gateway.NewAPISIXClient(gateway.APISIXConfig{
			BaseURL:  cfg.GatewayAdminURL,
			AdminKey: cfg.GatewayAdminKey,
			Timeout:  cfg.GatewayTimeout(),
		}),
		gateway.DefaultBreakerSettings(),
	)
	reconciler := reconcile.New(admin, reconcile.Config{
		MeteredPrefixes: cfg.MeteredPrefixes,
		Upstream:        gateway.Upstream{Type: "roundrobin", Nodes: nodes},
	})

	retry := reconcile.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.ReconcileMaxAttempts
	retry.InitialInterval = cfg.ReconcileInitialBackoff()
	retry.MaxInterval = cfg.ReconcileMaxBackoff()

	tokens := auth.NewTokenService(cfg.JWTSecret, config.VerificationTokenTTL, config.SessionTokenTTL)
	locker := lock.NewRedisLocker(redisClient.Client, cfg.AccountLockTTL())

	syncService := service.NewSyncService(
		repos.Accounts, repos.Plans, repos.Subscriptions, repos.Jobs,
		reconciler, locker, box, retry, cfg.ReconcileAttemptTimeout(),
	)
	subscriptions := service.NewSubscriptionService(
		db, repos.Accounts, repos.Plans, repos.Subscriptions, repos.Jobs,
		syncService, cfg.InlineReconcile(), cfg.SubscriptionTerm(), cfg.ReconcileAttemptTimeout(),
	)

	return &App{
		Config:        cfg,
		DB:            db,
		Redis:         redisClient,
		Repos:         repos,
		Box:           box,
		Tokens:        tokens,
		Reconciler:    reconciler,
		Catalog:       service.NewCatalogService(repos.Plans),
		Sync:          syncService,
		Subscriptions: subscriptions,
		Accounts: service.NewAccountService(
			repos.Accounts, repos.Usage, subscriptions, tokens, box, service.LogMailer{}, cfg.FrontendURL,
		),
		Reports: service.NewReportService(
			repos.Accounts, repos.Plans, repos.Subscriptions, repos.Usage, box, cfg.MeteredPrefixes,
		),
		Usage: service.NewUsageRecorder(
			repos.Usage, cfg.MeteredPrefixes,
			config.UsageBufferSize, config.UsageBatchSize, config.UsageFlushInterval,
		),
		RateLimiter: service.NewRateLimiter(redisClient.Client),
	}, nil
}

// Plans returns the catalog to apply: the override file when configured,
// otherwise the built-in tiers.
func (a *App) Plans() ([]service.PlanSpec, error) {
	if a.Config.PlanCatalogFile == "" {
		return service.DefaultPlans(), nil
	}
	return service.LoadCatalogFile(a.Config.PlanCatalogFile)
}

// Bootstrap migrates the schema and upserts the plan catalog. Route
// provisioning failures are logged and left to a later resync.
func (a *App) Bootstrap(ctx context.Context) error {
	if err := a.DB.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	specs, err := a.Plans()
	if err != nil {
		return fmt.Errorf("load plan catalog: %w", err)
	}
	plans, err := a.Catalog.Apply(ctx, specs)
	if err != nil {
		return fmt.Errorf("apply plan catalog: %w", err)
	}
	log.Info().Int("plans", len(plans)).Msg("plan catalog applied")

	routeCtx, cancel := context.WithTimeout(ctx, a.Config.ReconcileAttemptTimeout())
	defer cancel()
	routes, err := a.Reconciler.EnsureRoutes(routeCtx)
	if err != nil {
		log.Warn().Err(err).Msg("metered route provisioning failed, gateway routes may be stale")
		return nil
	}
	log.Info().Strs("routes", routes).Msg("metered routes provisioned")
	return nil
}

func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close redis")
	}
	if err := a.DB.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close database")
	}
}
