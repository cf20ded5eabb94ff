package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/superparser/gateway-control/internal/auth"
	apperrors "github.com/superparser/gateway-control/internal/errors"
	"github.com/superparser/gateway-control/internal/gateway"
	"github.com/superparser/gateway-control/internal/middleware"
	"github.com/superparser/gateway-control/internal/model"
	"github.com/superparser/gateway-control/internal/reconcile"
	"github.com/superparser/gateway-control/internal/service"
)

type mockAccountFlow struct {
	mock.Mock
}

func (m *mockAccountFlow) RequestVerification(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *mockAccountFlow) VerifyEmail(ctx context.Context, token string) (*service.VerificationResult, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.VerificationResult), args.Error(1)
}

type fakeReports struct {
	dashboardFunc func(ctx context.Context, accountID string) (*service.Dashboard, error)
	summaryFunc   func(ctx context.Context, accountID string) (*service.SubscriptionSummary, error)
}

func (f *fakeReports) Dashboard(ctx context.Context, accountID string) (*service.Dashboard, error) {
	return f.dashboardFunc(ctx, accountID)
}

func (f *fakeReports) Summary(ctx context.Context, accountID string) (*service.SubscriptionSummary, error) {
	return f.summaryFunc(ctx, accountID)
}

type fakeLedger struct {
	changePlanFunc func(ctx context.Context, accountID, planName string) (*service.ChangeResult, error)
}

func (f *fakeLedger) ChangePlan(ctx context.Context, accountID, planName string) (*service.ChangeResult, error) {
	return f.changePlanFunc(ctx, accountID, planName)
}

type fakeOperator struct {
	resyncFunc       func(ctx context.Context, email string) (*service.SyncOutcome, error)
	resyncFailedFunc func(ctx context.Context, limit int) (int, error)
	deactivateFunc   func(ctx context.Context, email string) (*service.SyncOutcome, error)
}

func (f *fakeOperator) ResyncByEmail(ctx context.Context, email string) (*service.SyncOutcome, error) {
	return f.resyncFunc(ctx, email)
}

func (f *fakeOperator) ResyncFailed(ctx context.Context, limit int) (int, error) {
	return f.resyncFailedFunc(ctx, limit)
}

func (f *fakeOperator) DeactivateAccount(ctx context.Context, email string) (*service.SyncOutcome, error) {
	return f.deactivateFunc(ctx, email)
}

type fakeJobs struct {
	jobs   []model.ReconcileJob
	err    error
	status model.JobStatus
}

func (f *fakeJobs) FindByStatus(_ context.Context, status model.JobStatus, limit, offset int) ([]model.ReconcileJob, error) {
	f.status = status
	return f.jobs, f.err
}

func (f *fakeJobs) CountByStatus(context.Context) (map[model.JobStatus]int, error) {
	return map[model.JobStatus]int{model.JobStatusDead: len(f.jobs)}, f.err
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func withSession(r *http.Request, accountID string) *http.Request {
	claims := &auth.Claims{AccountID: accountID, Email: "a@example.com", TokenType: auth.TokenTypeSession}
	return r.WithContext(context.WithValue(r.Context(), middleware.SessionContextKey, claims))
}

func passthrough(next http.Handler) http.Handler { return next }

func TestUserHandler_SendVerificationLink(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		setup    func(m *mockAccountFlow)
		wantCode int
		wantErr  apperrors.ErrorCode
	}{
		{
			name: "sends link",
			body: `{"email":"alice@example.com"}`,
			setup: func(m *mockAccountFlow) {
				m.On("RequestVerification", mock.Anything, "alice@example.com").Return(nil)
			},
			wantCode: http.StatusOK,
		},
		{
			name:     "invalid email",
			body:     `{"email":"not-an-email"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  apperrors.ErrCodeValidation,
		},
		{
			name:     "missing email",
			body:     `{}`,
			wantCode: http.StatusBadRequest,
			wantErr:  apperrors.ErrCodeValidation,
		},
		{
			name:     "malformed body",
			body:     `{"email":`,
			wantCode: http.StatusBadRequest,
			wantErr:  apperrors.ErrCodeInvalidInput,
		},
		{
			name: "service failure is hidden",
			body: `{"email":"bob@example.com"}`,
			setup: func(m *mockAccountFlow) {
				m.On("RequestVerification", mock.Anything, "bob@example.com").Return(errors.New("smtp: connection reset"))
			},
			wantCode: http.StatusInternalServerError,
			wantErr:  apperrors.ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(mockAccountFlow)
			if tt.setup != nil {
				tt.setup(m)
			}
			h := NewUserHandler(m)

			req := httptest.NewRequest(http.MethodPost, "/sendverificationlink", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			h.Routes(passthrough).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantErr != "" {
				assert.Equal(t, string(tt.wantErr), decodeBody(t, rec)["code"])
			}
			assert.NotContains(t, rec.Body.String(), "smtp")
			m.AssertExpectations(t)
		})
	}
}

func TestUserHandler_VerifyEmail(t *testing.T) {
	t.Run("returns key and session", func(t *testing.T) {
		m := new(mockAccountFlow)
		m.On("VerifyEmail", mock.Anything, "tok").Return(&service.VerificationResult{
			AccountID:    "acc-1",
			Email:        "alice@example.com",
			APIKey:       "3f2b8c1e-5a4d-4c6b-9e7f-0a1b2c3d4e5f",
			SessionToken: "session",
			Activated:    true,
		}, nil)

		req := httptest.NewRequest(http.MethodGet, "/verifyemail?token=tok", nil)
		rec := httptest.NewRecorder()
		NewUserHandler(m).Routes(passthrough).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		data := decodeBody(t, rec)["data"].(map[string]any)
		assert.Equal(t, "3f2b8c1e-5a4d-4c6b-9e7f-0a1b2c3d4e5f", data["apiKey"])
		assert.Equal(t, "session", data["token"])
		assert.Equal(t, true, data["activated"])
	})

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewUserHandler(new(mockAccountFlow)).Routes(passthrough).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/verifyemail", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		m := new(mockAccountFlow)
		m.On("VerifyEmail", mock.Anything, "old").Return(nil, apperrors.TokenExpired())

		rec := httptest.NewRecorder()
		NewUserHandler(m).Routes(passthrough).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/verifyemail?token=old", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "TOKEN_EXPIRED", decodeBody(t, rec)["code"])
	})

	t.Run("rate limit wraps only the mail endpoint", func(t *testing.T) {
		blocked := func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			})
		}
		m := new(mockAccountFlow)
		m.On("VerifyEmail", mock.Anything, "tok").Return(&service.VerificationResult{}, nil)
		routes := NewUserHandler(m).Routes(blocked)

		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sendverificationlink", bytes.NewBufferString(`{}`)))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)

		rec = httptest.NewRecorder()
		routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/verifyemail?token=tok", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestDashboardHandler(t *testing.T) {
	reports := &fakeReports{
		dashboardFunc: func(ctx context.Context, accountID string) (*service.Dashboard, error) {
			if accountID != "acc-1" {
				return nil, apperrors.NotFound("Account")
			}
			return &service.Dashboard{
				APIKey: "key",
				Usage:  &service.UsageReport{Total: 3, ByPrefix: map[string]int{"/api/test": 3}},
			}, nil
		},
		summaryFunc: func(ctx context.Context, accountID string) (*service.SubscriptionSummary, error) {
			return &service.SubscriptionSummary{Plan: "free", Active: false, MonthlyQuota: 50, RemainingQuota: 50}, nil
		},
	}
	h := NewDashboardHandler(reports, &fakeLedger{})

	t.Run("dashboard", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Dashboard(rec, withSession(httptest.NewRequest(http.MethodGet, "/dashboard", nil), "acc-1"))
		assert.Equal(t, http.StatusOK, rec.Code)

		data := decodeBody(t, rec)["data"].(map[string]any)
		assert.Equal(t, "key", data["apiKey"])
		assert.Nil(t, data["subscription"])
	})

	t.Run("dashboard for vanished account", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Dashboard(rec, withSession(httptest.NewRequest(http.MethodGet, "/dashboard", nil), "acc-2"))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("subscription fallback", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Subscription(rec, withSession(httptest.NewRequest(http.MethodGet, "/subscription", nil), "acc-1"))
		assert.Equal(t, http.StatusOK, rec.Code)

		data := decodeBody(t, rec)["data"].(map[string]any)
		assert.Equal(t, "free", data["plan"])
		assert.Equal(t, false, data["active"])
	})

	t.Run("no session", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Dashboard(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestDashboardHandler_UpdateSubscription(t *testing.T) {
	next := time.Now().Add(time.Minute)
	plan := &model.Plan{Name: "basic", MonthlyQuota: 500}
	sub := &model.Subscription{ID: "sub-1", SyncState: model.SyncStateSynced}

	tests := []struct {
		name       string
		body       string
		result     *service.ChangeResult
		err        error
		wantStatus int
		wantCode   string
		wantState  string
	}{
		{
			name:       "synced",
			body:       `{"plan":"basic"}`,
			result:     &service.ChangeResult{Subscription: sub, Plan: plan, Sync: &service.SyncOutcome{State: model.SyncStateSynced}},
			wantStatus: http.StatusOK,
			wantState:  "synced",
		},
		{
			name:       "queued",
			body:       `{"plan":"basic"}`,
			result:     &service.ChangeResult{Subscription: sub, Plan: plan, Sync: &service.SyncOutcome{State: model.SyncStatePending, Queued: true}},
			wantStatus: http.StatusAccepted,
			wantState:  "pending_sync",
		},
		{
			name: "gateway unavailable",
			body: `{"plan":"basic"}`,
			result: &service.ChangeResult{Subscription: sub, Plan: plan, Sync: &service.SyncOutcome{
				State:          model.SyncStateFailed,
				Error:          "gateway upsert_consumer: context deadline exceeded",
				RetryScheduled: true,
				NextAttemptAt:  &next,
				Err: &reconcile.Error{
					Kind: reconcile.KindUnavailable,
					Step: reconcile.StepUpsertConsumer,
					Err:  &gateway.RemoteError{Op: "upsert_consumer", Err: context.DeadlineExceeded},
				},
			}},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "REMOTE_UNAVAILABLE",
			wantState:  "sync_failed",
		},
		{
			name: "gateway rejected",
			body: `{"plan":"basic"}`,
			result: &service.ChangeResult{Subscription: sub, Plan: plan, Sync: &service.SyncOutcome{
				State:          model.SyncStateFailed,
				RetryScheduled: true,
				Err:            &reconcile.Error{Kind: reconcile.KindRejected, Step: reconcile.StepUpsertConsumer, Err: errors.New("400")},
			}},
			wantStatus: http.StatusBadGateway,
			wantCode:   "REMOTE_REJECTED",
			wantState:  "sync_failed",
		},
		{
			name:       "free plan",
			body:       `{"plan":"free"}`,
			err:        apperrors.ValidationError("The free plan cannot be purchased"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "missing plan",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &fakeLedger{
				changePlanFunc: func(ctx context.Context, accountID, planName string) (*service.ChangeResult, error) {
					assert.Equal(t, "acc-1", accountID)
					return tt.result, tt.err
				},
			}
			h := NewDashboardHandler(&fakeReports{}, ledger)

			req := httptest.NewRequest(http.MethodPost, "/api/update-subscription", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			h.UpdateSubscription(rec, withSession(req, "acc-1"))

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeBody(t, rec)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["code"])
			}
			if tt.wantState != "" {
				data := body["data"].(map[string]any)
				syncBody := data["sync"].(map[string]any)
				assert.Equal(t, tt.wantState, syncBody["syncState"])
				assert.NotNil(t, data["subscription"])
				if tt.wantState == "sync_failed" {
					assert.Equal(t, true, syncBody["retryScheduled"])
				}
			}
		})
	}
}

func TestTestAPI(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req = req.WithContext(middleware.WithAccount(req.Context(), &model.Account{ID: "acc-1"}))
	TestAPI(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decodeBody(t, rec)["status"])

	rec = httptest.NewRecorder()
	TestAPI(rec, httptest.NewRequest(http.MethodGet, "/api/test", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminHandler(t *testing.T) {
	failed := &service.SyncOutcome{
		AccountID: "acc-1",
		State:     model.SyncStateFailed,
		Err:       &reconcile.Error{Kind: reconcile.KindUnavailable, Step: reconcile.StepDeleteConsumer, Err: errors.New("timeout")},
	}
	operator := &fakeOperator{
		resyncFunc: func(ctx context.Context, email string) (*service.SyncOutcome, error) {
			switch email {
			case "ok@example.com":
				return &service.SyncOutcome{AccountID: "acc-1", State: model.SyncStateSynced}, nil
			case "down@example.com":
				return failed, nil
			}
			return nil, apperrors.NotFound("Account")
		},
		resyncFailedFunc: func(ctx context.Context, limit int) (int, error) {
			return limit / 100, nil
		},
		deactivateFunc: func(ctx context.Context, email string) (*service.SyncOutcome, error) {
			return &service.SyncOutcome{AccountID: "acc-1", State: model.SyncStateSynced}, nil
		},
	}
	jobs := &fakeJobs{jobs: []model.ReconcileJob{{AccountID: "acc-9", Status: model.JobStatusDead, Attempts: 8}}}
	routes := NewAdminHandler(operator, jobs).Routes()

	serve := func(method, target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
		return rec
	}

	t.Run("resync", func(t *testing.T) {
		rec := serve(http.MethodPost, "/accounts/OK@example.com/resync")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "synced", decodeBody(t, rec)["syncState"])
	})

	t.Run("resync with gateway down", func(t *testing.T) {
		rec := serve(http.MethodPost, "/accounts/down@example.com/resync")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "REMOTE_UNAVAILABLE", decodeBody(t, rec)["code"])
	})

	t.Run("resync unknown", func(t *testing.T) {
		rec := serve(http.MethodPost, "/accounts/who@example.com/resync")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("resync bad email", func(t *testing.T) {
		rec := serve(http.MethodPost, "/accounts/nobody/resync")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("deactivate", func(t *testing.T) {
		rec := serve(http.MethodPost, "/accounts/ok@example.com/deactivate")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("resync failed", func(t *testing.T) {
		rec := serve(http.MethodPost, "/resync-failed?limit=300")
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, float64(3), decodeBody(t, rec)["queued"])

		rec = serve(http.MethodPost, "/resync-failed?limit=-1")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("list jobs defaults to dead", func(t *testing.T) {
		rec := serve(http.MethodGet, "/reconcile-jobs")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, model.JobStatusDead, jobs.status)

		body := decodeBody(t, rec)
		assert.Len(t, body["jobs"], 1)
		assert.Equal(t, float64(DefaultLimit), body["limit"])
	})

	t.Run("list jobs rejects unknown status", func(t *testing.T) {
		rec := serve(http.MethodGet, "/reconcile-jobs?status=weird")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("dial tcp: refused") })

	rec := httptest.NewRecorder()
	NewHealth(time.Second, map[string]Pinger{"database": ok, "redis": ok}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealth(time.Second, map[string]Pinger{"database": ok, "redis": down}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decodeBody(t, rec)["status"])
}

func TestParsePage(t *testing.T) {
	tests := []struct {
		query   string
		want    Page
		wantErr bool
	}{
		{query: "", want: Page{Limit: DefaultLimit}},
		{query: "limit=10&offset=20", want: Page{Limit: 10, Offset: 20}},
		{query: "limit=200", want: Page{Limit: 200}},
		{query: "limit=201", wantErr: true},
		{query: "limit=0", wantErr: true},
		{query: "limit=ten", wantErr: true},
		{query: "offset=-1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			page, err := ParsePage(httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil))
			if tt.wantErr {
				appErr, ok := apperrors.AsAppError(err)
				require.True(t, ok)
				assert.Equal(t, apperrors.ErrCodeInvalidInput, appErr.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, page)
		})
	}
}
