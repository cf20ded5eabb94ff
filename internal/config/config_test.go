package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:                  8080,
		DatabaseURL:           "postgres://localhost/test",
		RedisURL:              "redis://localhost:6379",
		JWTSecret:             "a-very-long-secret-that-is-not-weak-at-all",
		GatewayAdminKey:       "admin-key",
		GatewayTimeoutSeconds: 5,
		GatewayUpstreamNodes:  []string{"127.0.0.1:8001"},
		MeteredPrefixes:       []string{"/api/test"},
		ReconcileMode:         ReconcileModeInline,
		ReconcileMaxAttempts:  8,
		ReconcileConcurrency:  4,
		SubscriptionTermDays:  30,
	}
}

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("durations convert from seconds", func(t *testing.T) {
		cfg := &Config{
			GatewayTimeoutSeconds:          5,
			ReconcileInitialBackoffSeconds: 2,
			ReconcileMaxBackoffSeconds:     60,
			ReconcilePollSeconds:           3,
			SubscriptionTermDays:           30,
		}
		assert.Equal(t, 5*time.Second, cfg.GatewayTimeout())
		assert.Equal(t, 2*time.Second, cfg.ReconcileInitialBackoff())
		assert.Equal(t, time.Minute, cfg.ReconcileMaxBackoff())
		assert.Equal(t, 3*time.Second, cfg.ReconcilePollInterval())
		assert.Equal(t, 30*24*time.Hour, cfg.SubscriptionTerm())
	})

	t.Run("InlineReconcile reflects mode", func(t *testing.T) {
		assert.True(t, (&Config{ReconcileMode: "inline"}).InlineReconcile())
		assert.False(t, (&Config{ReconcileMode: "async"}).InlineReconcile())
	})

	t.Run("attempt timeout covers every admin call", func(t *testing.T) {
		cfg := &Config{GatewayTimeoutSeconds: 5, MeteredPrefixes: []string{"/api/test", "/api/v2"}}
		assert.Equal(t, 20*time.Second, cfg.ReconcileAttemptTimeout())
	})

	t.Run("account lock outlives the attempt", func(t *testing.T) {
		cfg := validConfig()
		cfg.GatewayTimeoutSeconds = 10
		cfg.MeteredPrefixes = []string{"/api/test", "/api/v2"}
		require.NoError(t, cfg.Validate(false))
		assert.Equal(t, 40*time.Second, cfg.ReconcileAttemptTimeout())
		assert.Equal(t, 70*time.Second, cfg.AccountLockTTL())

		for _, seconds := range []int{1, 5, 30, 120} {
			for n := 0; n <= 6; n++ {
				cfg := &Config{GatewayTimeoutSeconds: seconds, MeteredPrefixes: make([]string, n)}
				assert.Greater(t, cfg.AccountLockTTL(), cfg.ReconcileAttemptTimeout(), "timeout=%ds prefixes=%d", seconds, n)
			}
		}
	})

	t.Run("IsProduction", func(t *testing.T) {
		assert.True(t, (&Config{Environment: "production"}).IsProduction())
		assert.False(t, (&Config{Environment: "development"}).IsProduction())
	})
}

func TestUpstreamNodes(t *testing.T) {
	t.Run("defaults weight to one", func(t *testing.T) {
		cfg := &Config{GatewayUpstreamNodes: []string{"127.0.0.1:8001", " 10.0.0.2:9000=3 "}}
		nodes, err := cfg.UpstreamNodes()
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"127.0.0.1:8001": 1, "10.0.0.2:9000": 3}, nodes)
	})

	t.Run("rejects bad weight", func(t *testing.T) {
		cfg := &Config{GatewayUpstreamNodes: []string{"127.0.0.1:8001=zero"}}
		_, err := cfg.UpstreamNodes()
		assert.Error(t, err)
	})

	t.Run("rejects missing port", func(t *testing.T) {
		cfg := &Config{GatewayUpstreamNodes: []string{"upstream"}}
		_, err := cfg.UpstreamNodes()
		assert.Error(t, err)
	})

	t.Run("rejects empty list", func(t *testing.T) {
		cfg := &Config{}
		_, err := cfg.UpstreamNodes()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("accepts valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate(true))
	})

	t.Run("rejects non-bcrypt admin token hash", func(t *testing.T) {
		cfg := validConfig()
		cfg.AdminTokenHash = "plaintext"
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects zero gateway timeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.GatewayTimeoutSeconds = 0
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects unknown reconcile mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.ReconcileMode = "eventually"
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects metered prefix with trailing slash", func(t *testing.T) {
		cfg := validConfig()
		cfg.MeteredPrefixes = []string{"/api/test/"}
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects short JWT secret in production only", func(t *testing.T) {
		cfg := validConfig()
		cfg.JWTSecret = "short"
		assert.NoError(t, cfg.Validate(false))
		assert.Error(t, cfg.Validate(true))
	})
}

func TestLoad(t *testing.T) {
	setRequired := func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/test")
		t.Setenv("REDIS_URL", "redis://localhost:6379")
		t.Setenv("JWT_SECRET", "test-secret")
		t.Setenv("GATEWAY_ADMIN_KEY", "admin-key")
	}

	t.Run("loads config with defaults", func(t *testing.T) {
		setRequired(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "http://127.0.0.1:9180/apisix/admin", cfg.GatewayAdminURL)
		assert.Equal(t, 5, cfg.GatewayTimeoutSeconds)
		assert.Equal(t, []string{"/api/test"}, cfg.MeteredPrefixes)
		assert.Equal(t, []string{"127.0.0.1:8001"}, cfg.GatewayUpstreamNodes)
		assert.Equal(t, ReconcileModeInline, cfg.ReconcileMode)
		assert.Equal(t, 8, cfg.ReconcileMaxAttempts)
		assert.Equal(t, 30, cfg.SubscriptionTermDays)
	})

	t.Run("loads custom values", func(t *testing.T) {
		setRequired(t)
		t.Setenv("PORT", "3000")
		t.Setenv("METERED_PREFIXES", "/api/test,/api/parse")
		t.Setenv("RECONCILE_MODE", "async")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, []string{"/api/test", "/api/parse"}, cfg.MeteredPrefixes)
		assert.Equal(t, ReconcileModeAsync, cfg.ReconcileMode)
	})

	t.Run("fails without required GATEWAY_ADMIN_KEY", func(t *testing.T) {
		setRequired(t)
		t.Setenv("GATEWAY_ADMIN_KEY", "")

		_, err := Load()
		assert.Error(t, err)
	})
}
