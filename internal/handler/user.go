package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/superparser/gateway-control/internal/errors"
	"github.com/superparser/gateway-control/internal/service"
)

type AccountFlow interface {
	RequestVerification(ctx context.Context, email string) error
	VerifyEmail(ctx context.Context, token string) (*service.VerificationResult, error)
}

// UserHandler serves the unauthenticated signup flow.
type UserHandler struct {
	accounts AccountFlow
}

func NewUserHandler(accounts AccountFlow) *UserHandler {
	return &UserHandler{accounts: accounts}
}

// Routes are mounted under /user; limit wraps the endpoint that sends mail.
func (h *UserHandler) Routes(limit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.With(limit).Post("/sendverificationlink", h.SendVerificationLink)
	r.Get("/verifyemail", h.VerifyEmail)

	return r
}

type sendVerificationRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// POST /user/sendverificationlink
func (h *UserHandler) SendVerificationLink(w http.ResponseWriter, r *http.Request) {
	var req sendVerificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.accounts.RequestVerification(r.Context(), req.Email); err != nil {
		if _, ok := apperrors.AsAppError(err); !ok {
			log.Error().Err(err).Msg("failed to send verification link")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Verification link sent to " + req.Email,
	})
}

// GET /user/verifyemail?token=
func (h *UserHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, apperrors.MissingRequired("token"))
		return
	}

	result, err := h.accounts.VerifyEmail(r.Context(), token)
	if err != nil {
		if _, ok := apperrors.AsAppError(err); !ok {
			log.Error().Err(err).Msg("failed to verify email")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   result,
	})
}
