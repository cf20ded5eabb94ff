package handler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/superparser/gateway-control/internal/errors"
	"github.com/superparser/gateway-control/internal/middleware"
	"github.com/superparser/gateway-control/internal/service"
)

type Reports interface {
	Dashboard(ctx context.Context, accountID string) (*service.Dashboard, error)
	Summary(ctx context.Context, accountID string) (*service.SubscriptionSummary, error)
}

type Ledger interface {
	ChangePlan(ctx context.Context, accountID, planName string) (*service.ChangeResult, error)
}

// DashboardHandler serves the session-authenticated account views.
type DashboardHandler struct {
	reports Reports
	ledger  Ledger
}

func NewDashboardHandler(reports Reports, ledger Ledger) *DashboardHandler {
	return &DashboardHandler{reports: reports, ledger: ledger}
}

func sessionAccountID(r *http.Request) (string, bool) {
	claims := middleware.GetSession(r.Context())
	if claims == nil || claims.AccountID == "" {
		return "", false
	}
	return claims.AccountID, true
}

// GET /dashboard
func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	accountID, ok := sessionAccountID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	dash, err := h.reports.Dashboard(r.Context(), accountID)
	if err != nil {
		if _, ok := apperrors.AsAppError(err); !ok {
			log.Error().Err(err).Str("account_id", accountID).Msg("failed to build dashboard")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": dash})
}

// GET /subscription
func (h *DashboardHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	accountID, ok := sessionAccountID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	summary, err := h.reports.Summary(r.Context(), accountID)
	if err != nil {
		if _, ok := apperrors.AsAppError(err); !ok {
			log.Error().Err(err).Str("account_id", accountID).Msg("failed to load subscription")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": summary})
}
