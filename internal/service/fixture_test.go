package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/superparser/gateway-control/internal/auth"
	"github.com/superparser/gateway-control/internal/gateway"
	"github.com/superparser/gateway-control/internal/gateway/gatewaytest"
	"github.com/superparser/gateway-control/internal/lock"
	"github.com/superparser/gateway-control/internal/model"
	"github.com/superparser/gateway-control/internal/reconcile"
	"github.com/superparser/gateway-control/internal/util"
)

const testPrefix = "/api/test"

type fixture struct {
	store    *memStore
	gw       *gatewaytest.Fake
	box      *util.SecretBox
	tokens   *auth.TokenService
	sync     *SyncService
	subs     *SubscriptionService
	accounts *AccountService
	catalog  *CatalogService
	reports  *ReportService
	mailer   *recordingMailer
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	inline bool
	retry  reconcile.RetryPolicy
}

func asyncMode() fixtureOption {
	return func(c *fixtureConfig) { c.inline = false }
}

func withMaxAttempts(n int) fixtureOption {
	return func(c *fixtureConfig) { c.retry.MaxAttempts = n }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := fixtureConfig{
		inline: true,
		retry: reconcile.RetryPolicy{
			MaxAttempts:     5,
			InitialInterval: time.Second,
			MaxInterval:     time.Minute,
			Multiplier:      2,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := newMemStore()
	gw := gatewaytest.NewFake()
	box, err := util.NewSecretBox(strings.Repeat("ab", 32))
	require.NoError(t, err)

	reconciler := reconcile.New(gw, reconcile.Config{
		MeteredPrefixes: []string{testPrefix},
		Upstream:        gateway.Upstream{Type: "roundrobin", Nodes: map[string]int{"127.0.0.1:8001": 1}},
	})

	syncer := NewSyncService(
		store.accountRepo(), store.planRepo(), store.subRepo(), store.jobRepo(),
		reconciler, lock.NewLocalLocker(), box, cfg.retry, 2*time.Second,
	)
	subs := NewSubscriptionService(
		store, store.accountRepo(), store.planRepo(), store.subRepo(), store.jobRepo(),
		syncer, cfg.inline, 30*24*time.Hour, 5*time.Second,
	)
	tokens := auth.NewTokenService("test-secret-that-is-long-enough-123", time.Hour, 24*time.Hour)
	mailer := &recordingMailer{}
	accounts := NewAccountService(store.accountRepo(), store.usageRepo(), subs, tokens, box, mailer, "https://dash.example.com")
	catalog := NewCatalogService(store.planRepo())
	reports := NewReportService(store.accountRepo(), store.planRepo(), store.subRepo(), store.usageRepo(), box, []string{testPrefix})

	_, err = catalog.Apply(context.Background(), DefaultPlans())
	require.NoError(t, err)

	return &fixture{
		store:    store,
		gw:       gw,
		box:      box,
		tokens:   tokens,
		sync:     syncer,
		subs:     subs,
		accounts: accounts,
		catalog:  catalog,
		reports:  reports,
		mailer:   mailer,
	}
}

// seedAccount stores an account and returns it with its plaintext key.
func (f *fixture) seedAccount(t *testing.T, email string, active bool) (*model.Account, string) {
	t.Helper()
	key := uuid.NewString()
	sealed, err := f.box.Seal(key)
	require.NoError(t, err)
	account, created, err := f.store.accountRepo().CreateIfNotExists(context.Background(), model.CreateAccountParams{
		Email:      email,
		APIKey:     sealed,
		APIKeyHash: util.HashKey(key),
		Active:     active,
	})
	require.NoError(t, err)
	require.True(t, created)
	return account, key
}

func (f *fixture) plan(t *testing.T, name string) *model.Plan {
	t.Helper()
	plan, err := f.store.planRepo().FindByName(context.Background(), name)
	require.NoError(t, err)
	require.NotNil(t, plan)
	return plan
}

func (f *fixture) activeSub(t *testing.T, accountID string) *model.Subscription {
	t.Helper()
	sub, err := f.store.subRepo().FindActiveByAccountID(context.Background(), accountID)
	require.NoError(t, err)
	return sub
}

func (f *fixture) consumer(t *testing.T, email string) (gateway.Consumer, bool) {
	t.Helper()
	return f.gw.Consumer(gateway.ConsumerID(email))
}

func unavailable(op string) error {
	return &gateway.RemoteError{Op: op, Err: context.DeadlineExceeded}
}

func rejected(op string) error {
	return &gateway.RemoteError{Op: op, StatusCode: 400, Body: `{"error_msg":"invalid configuration"}`}
}
