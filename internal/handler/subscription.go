package handler

import (
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/superparser/gateway-control/internal/errors"
	"github.com/superparser/gateway-control/internal/httputil"
	"github.com/superparser/gateway-control/internal/service"
)

type updateSubscriptionRequest struct {
	Plan string `json:"plan" validate:"required,max=64"`
}

type updateSubscriptionResponse struct {
	Status string                `json:"status"`
	Error  string                `json:"error,omitempty"`
	Code   apperrors.ErrorCode   `json:"code,omitempty"`
	Data   *service.ChangeResult `json:"data"`
}

// POST /api/update-subscription
//
// The ledger change is committed before the gateway is touched, so every
// outcome carries the new subscription. 200 means the gateway has it, 202
// that it is queued, and 502/503 that the attempt failed and a retry is
// scheduled.
func (h *DashboardHandler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	accountID, ok := sessionAccountID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	var req updateSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.ledger.ChangePlan(r.Context(), accountID, req.Plan)
	if err != nil {
		if _, ok := apperrors.AsAppError(err); !ok {
			log.Error().Err(err).Str("account_id", accountID).Msg("failed to change plan")
		}
		writeError(w, err)
		return
	}

	switch {
	case result.Sync.Failed():
		appErr := result.Sync.AppError()
		writeJSON(w, httputil.StatusFromCode(appErr.Code), updateSubscriptionResponse{
			Status: "fail",
			Error:  "Subscription saved but the gateway could not be updated yet",
			Code:   appErr.Code,
			Data:   result,
		})
	case result.Sync.Queued:
		writeJSON(w, http.StatusAccepted, updateSubscriptionResponse{Status: "pending", Data: result})
	default:
		writeJSON(w, http.StatusOK, updateSubscriptionResponse{Status: "success", Data: result})
	}
}
