package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Reconcile worker tuning. AccountLockMargin is added to the attempt timeout
// to cover the database work a SyncAccount pass does under the account lock.
const (
	ReconcileBatchSize = 50
	ReconcileLease     = 2 * time.Minute
	AccountLockMargin  = 30 * time.Second
)

// Usage recorder buffering
const (
	UsageBufferSize    = 4096
	UsageBatchSize     = 200
	UsageFlushInterval = 2 * time.Second
)

// Background job intervals
const (
	CleanupJobInterval     = 15 * time.Minute
	ReconcileJobsRetention = 7 * 24 * time.Hour
)

// Verification and session token lifetimes
const (
	VerificationTokenTTL = time.Hour
	SessionTokenTTL      = 80 * 24 * time.Hour
)

// Default rate limiting for unauthenticated verification requests
const DefaultVerificationRateLimitPerMin = 5
