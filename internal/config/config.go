package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const (
	ReconcileModeInline = "inline"
	ReconcileModeAsync  = "async"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port               int      `env:"PORT" envDefault:"8080"`
	DatabaseURL        string   `env:"DATABASE_URL,required"`
	RedisURL           string   `env:"REDIS_URL,required"`
	LogLevel           string   `env:"LOG_LEVEL" envDefault:"info"`
	Environment        string   `env:"APP_ENV" envDefault:"development"`
	JWTSecret          string   `env:"JWT_SECRET,required"`
	EncryptionKey      string   `env:"ENCRYPTION_KEY"`
	AdminTokenHash     string   `env:"ADMIN_TOKEN_HASH"`
	FrontendURL        string   `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	GatewayAdminURL       string   `env:"GATEWAY_ADMIN_URL" envDefault:"http://127.0.0.1:9180/apisix/admin"`
	GatewayAdminKey       string   `env:"GATEWAY_ADMIN_KEY,required,notEmpty"`
	GatewayTimeoutSeconds int      `env:"GATEWAY_TIMEOUT_SECONDS" envDefault:"5"`
	GatewayUpstreamNodes  []string `env:"GATEWAY_UPSTREAM_NODES" envSeparator:"," envDefault:"127.0.0.1:8001"`
	MeteredPrefixes       []string `env:"METERED_PREFIXES" envSeparator:"," envDefault:"/api/test"`

	ReconcileMode                  string `env:"RECONCILE_MODE" envDefault:"inline"`
	ReconcileMaxAttempts           int    `env:"RECONCILE_MAX_ATTEMPTS" envDefault:"8"`
	ReconcileInitialBackoffSeconds int    `env:"RECONCILE_INITIAL_BACKOFF_SECONDS" envDefault:"5"`
	ReconcileMaxBackoffSeconds     int    `env:"RECONCILE_MAX_BACKOFF_SECONDS" envDefault:"900"`
	ReconcilePollSeconds           int    `env:"RECONCILE_POLL_SECONDS" envDefault:"5"`
	ReconcileConcurrency           int    `env:"RECONCILE_CONCURRENCY" envDefault:"4"`

	PlanCatalogFile      string `env:"PLAN_CATALOG_FILE"`
	SubscriptionTermDays int    `env:"SUBSCRIPTION_TERM_DAYS" envDefault:"30"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

// ReconcileAttemptTimeout bounds one reconcile pass: a consumer fetch, the
// consumer upsert and the route upserts.
func (c *Config) ReconcileAttemptTimeout() time.Duration {
	return time.Duration(2+len(c.MeteredPrefixes)) * c.GatewayTimeout()
}

// AccountLockTTL is the account lock lease. The lease is never renewed, so it
// outlives a full reconcile attempt by AccountLockMargin.
func (c *Config) AccountLockTTL() time.Duration {
	return c.ReconcileAttemptTimeout() + AccountLockMargin
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) ReconcileInitialBackoff() time.Duration {
	return time.Duration(c.ReconcileInitialBackoffSeconds) * time.Second
}

func (c *Config) ReconcileMaxBackoff() time.Duration {
	return time.Duration(c.ReconcileMaxBackoffSeconds) * time.Second
}

func (c *Config) ReconcilePollInterval() time.Duration {
	return time.Duration(c.ReconcilePollSeconds) * time.Second
}

func (c *Config) SubscriptionTerm() time.Duration {
	return time.Duration(c.SubscriptionTermDays) * 24 * time.Hour
}

func (c *Config) InlineReconcile() bool {
	return c.ReconcileMode == ReconcileModeInline
}

// UpstreamNodes parses GATEWAY_UPSTREAM_NODES entries of the form host:port or
// host:port=weight.
func (c *Config) UpstreamNodes() (map[string]int, error) {
	nodes := make(map[string]int, len(c.GatewayUpstreamNodes))
	for _, raw := range c.GatewayUpstreamNodes {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		host, weightStr, hasWeight := strings.Cut(entry, "=")
		weight := 1
		if hasWeight {
			w, err := strconv.Atoi(weightStr)
			if err != nil || w <= 0 {
				return nil, fmt.Errorf("invalid upstream weight in %q", entry)
			}
			weight = w
		}
		if !strings.Contains(host, ":") {
			return nil, fmt.Errorf("upstream node %q must be host:port", host)
		}
		nodes[host] = weight
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("GATEWAY_UPSTREAM_NODES must list at least one node")
	}
	return nodes, nil
}

func (c *Config) Validate(isProduction bool) error {
	if c.AdminTokenHash != "" {
		if !strings.HasPrefix(c.AdminTokenHash, "$2a$") &&
			!strings.HasPrefix(c.AdminTokenHash, "$2b$") &&
			!strings.HasPrefix(c.AdminTokenHash, "$2y$") {
			return fmt.Errorf("ADMIN_TOKEN_HASH must be a bcrypt hash (generate with: go run scripts/hash-token.go <token>)")
		}
	}

	if c.GatewayTimeoutSeconds <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT_SECONDS must be positive")
	}
	if c.ReconcileMode != ReconcileModeInline && c.ReconcileMode != ReconcileModeAsync {
		return fmt.Errorf("RECONCILE_MODE must be %q or %q", ReconcileModeInline, ReconcileModeAsync)
	}
	if c.ReconcileMaxAttempts < 1 {
		return fmt.Errorf("RECONCILE_MAX_ATTEMPTS must be at least 1")
	}
	if c.ReconcileConcurrency < 1 {
		return fmt.Errorf("RECONCILE_CONCURRENCY must be at least 1")
	}
	if c.SubscriptionTermDays < 1 {
		return fmt.Errorf("SUBSCRIPTION_TERM_DAYS must be at least 1")
	}
	for _, prefix := range c.MeteredPrefixes {
		if !strings.HasPrefix(prefix, "/") || (len(prefix) > 1 && strings.HasSuffix(prefix, "/")) {
			return fmt.Errorf("METERED_PREFIXES entry %q must start with / and not end with /", prefix)
		}
	}
	if _, err := c.UpstreamNodes(); err != nil {
		return err
	}

	if isProduction {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.EncryptionKey == "" {
			log.Warn().Msg("ENCRYPTION_KEY is empty in production: API keys will be stored unsealed")
		}
		if c.AdminTokenHash == "" {
			log.Warn().Msg("ADMIN_TOKEN_HASH is empty: admin API disabled")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
