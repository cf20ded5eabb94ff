package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/superparser/gateway-control/internal/errors"
	"github.com/superparser/gateway-control/internal/httputil"
	"github.com/superparser/gateway-control/internal/model"
	"github.com/superparser/gateway-control/internal/service"
	"github.com/superparser/gateway-control/internal/util"
)

type Operator interface {
	ResyncByEmail(ctx context.Context, email string) (*service.SyncOutcome, error)
	ResyncFailed(ctx context.Context, limit int) (int, error)
	DeactivateAccount(ctx context.Context, email string) (*service.SyncOutcome, error)
}

type JobLister interface {
	FindByStatus(ctx context.Context, status model.JobStatus, limit, offset int) ([]model.ReconcileJob, error)
	CountByStatus(ctx context.Context) (map[model.JobStatus]int, error)
}

const defaultResyncLimit = 500

// AdminHandler is the operator surface for driving reconciliation by hand.
type AdminHandler struct {
	operator Operator
	jobs     JobLister
}

func NewAdminHandler(operator Operator, jobs JobLister) *AdminHandler {
	return &AdminHandler{operator: operator, jobs: jobs}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/accounts/{email}/resync", h.Resync)
	r.Post("/accounts/{email}/deactivate", h.Deactivate)
	r.Post("/resync-failed", h.ResyncFailed)
	r.Get("/reconcile-jobs", h.ListJobs)

	return r
}

func emailParam(r *http.Request) (string, bool) {
	email := util.NormalizeEmail(chi.URLParam(r, "email"))
	return email, email != "" && strings.Contains(email, "@")
}

// POST /admin/accounts/{email}/resync
func (h *AdminHandler) Resync(w http.ResponseWriter, r *http.Request) {
	email, ok := emailParam(r)
	if !ok {
		writeError(w, apperrors.InvalidInput("email", "must be an email address"))
		return
	}

	outcome, err := h.operator.ResyncByEmail(r.Context(), email)
	if err != nil {
		if _, ok := apperrors.AsAppError(err); !ok {
			log.Error().Err(err).Str("email", email).Msg("admin resync failed")
		}
		writeError(w, err)
		return
	}

	writeOutcome(w, outcome)
}

// POST /admin/accounts/{email}/deactivate
func (h *AdminHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	email, ok := emailParam(r)
	if !ok {
		writeError(w, apperrors.InvalidInput("email", "must be an email address"))
		return
	}

	outcome, err := h.operator.DeactivateAccount(r.Context(), email)
	if err != nil {
		if _, ok := apperrors.AsAppError(err); !ok {
			log.Error().Err(err).Str("email", email).Msg("admin deactivate failed")
		}
		writeError(w, err)
		return
	}

	writeOutcome(w, outcome)
}

// POST /admin/resync-failed?limit=
func (h *AdminHandler) ResyncFailed(w http.ResponseWriter, r *http.Request) {
	limit := defaultResyncLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, apperrors.InvalidInput("limit", "must be a positive integer"))
			return
		}
		limit = n
	}

	queued, err := h.operator.ResyncFailed(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("admin resync-failed failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"queued": queued})
}

// GET /admin/reconcile-jobs?status=&limit=&offset=
func (h *AdminHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := model.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.JobStatusDead
	}
	if !status.Valid() {
		writeError(w, apperrors.InvalidInput("status", "must be one of pending, done, dead"))
		return
	}
	page, err := ParsePage(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	jobs, err := h.jobs.FindByStatus(ctx, status, page.Limit, page.Offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list reconcile jobs")
		writeError(w, apperrors.Database(err))
		return
	}
	counts, err := h.jobs.CountByStatus(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to count reconcile jobs")
		writeError(w, apperrors.Database(err))
		return
	}

	if jobs == nil {
		jobs = []model.ReconcileJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   jobs,
		"counts": counts,
		"status": status,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

func writeOutcome(w http.ResponseWriter, outcome *service.SyncOutcome) {
	if outcome.Failed() {
		appErr := outcome.AppError()
		writeJSON(w, httputil.StatusFromCode(appErr.Code), map[string]any{
			"error":   "Gateway update failed",
			"code":    appErr.Code,
			"details": outcome,
		})
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}
