package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/superparser/gateway-control/internal/app"
	"github.com/superparser/gateway-control/internal/config"
	"github.com/superparser/gateway-control/internal/handler"
	"github.com/superparser/gateway-control/internal/jobs"
	"github.com/superparser/gateway-control/internal/middleware"
	"github.com/superparser/gateway-control/internal/redis"
	"github.com/superparser/gateway-control/internal/supervisor"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(cfg.IsProduction()); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	if err := a.Bootstrap(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap")
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      newRouter(a),
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	tree := supervisor.NewTree(supervisor.TreeConfig{ShutdownTimeout: config.ServerShutdownTimeout})
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Addr(), config.ServerShutdownTimeout))
	tree.AddWorker(a.Usage)
	tree.AddWorker(jobs.NewReconcileWorker(
		a.Repos.Jobs, a.Sync,
		cfg.ReconcilePollInterval(), config.ReconcileBatchSize, config.ReconcileLease, cfg.ReconcileConcurrency,
	))
	tree.AddWorker(jobs.NewCleanupJob(a.Repos.Jobs, config.CleanupJobInterval, config.ReconcileJobsRetention))

	log.Info().
		Str("addr", cfg.Addr()).
		Str("reconcile_mode", cfg.ReconcileMode).
		Strs("metered_prefixes", cfg.MeteredPrefixes).
		Msg("starting server")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("supervisor stopped unexpectedly")
	}
	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			log.Warn().Str("service", svc.Name).Msg("service did not stop in time")
		}
	}

	log.Info().Msg("server stopped")
}

func newRouter(a *app.App) http.Handler {
	cfg := a.Config
	isProduction := cfg.IsProduction()

	bodyLimit := middleware.NewBodyLimitMiddleware(0)
	securityHeaders := middleware.NewSecurityHeadersMiddleware(isProduction)
	session := middleware.NewSessionMiddleware(a.Tokens)
	apiKey := middleware.NewAPIKeyMiddleware(a.Repos.Accounts)
	metering := middleware.NewMeteringMiddleware(a.Usage)
	admin := middleware.NewAdminMiddleware(cfg.AdminTokenHash)
	verifyLimit := middleware.NewIPRateLimitMiddleware(
		a.RateLimiter, config.DefaultVerificationRateLimitPerMin, time.Minute, redis.VerificationRateKey,
	)

	userHandler := handler.NewUserHandler(a.Accounts)
	dashboardHandler := handler.NewDashboardHandler(a.Reports, a.Subscriptions)
	adminHandler := handler.NewAdminHandler(a.Subscriptions, a.Repos.Jobs)
	health := handler.NewHealth(config.DBPingTimeout, map[string]handler.Pinger{
		"database": a.DB,
		"redis": handler.PingFunc(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}),
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimit.Handler)
	r.Use(securityHeaders.Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.APIKeyHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Method(http.MethodGet, "/health", health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Mount("/user", userHandler.Routes(verifyLimit.Handler))

	r.Group(func(r chi.Router) {
		r.Use(session.Handler)
		r.Get("/dashboard", dashboardHandler.Dashboard)
		r.Get("/subscription", dashboardHandler.Subscription)
		r.Post("/api/update-subscription", dashboardHandler.UpdateSubscription)
	})

	r.Group(func(r chi.Router) {
		r.Use(apiKey.Handler)
		r.Use(metering.Handler)
		r.Get("/api/test", handler.TestAPI)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.Handler)
		r.Mount("/", adminHandler.Routes())
	})

	return r
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
