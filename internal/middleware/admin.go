package middleware

import (
	"net/http"

	"github.com/superparser/gateway-control/internal/audit"
	apperrors "github.com/superparser/gateway-control/internal/errors"
	"github.com/superparser/gateway-control/internal/util"
)

const AdminTokenHeader = "X-Admin-Token"

// AdminMiddleware checks the operator token against a bcrypt hash. With no
// hash configured the operator surface is disabled.
type AdminMiddleware struct {
	tokenHash string
}

func NewAdminMiddleware(tokenHash string) *AdminMiddleware {
	return &AdminMiddleware{tokenHash: tokenHash}
}

func (m *AdminMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.tokenHash == "" {
			writeError(w, apperrors.Unavailable("Admin not configured"))
			return
		}

		token := r.Header.Get(AdminTokenHeader)
		if token == "" {
			token = bearerToken(r)
		}
		if token == "" {
			writeError(w, apperrors.Unauthorized("Unauthorized"))
			return
		}

		if !util.CheckTokenHash(token, m.tokenHash) {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"reason": "bad_admin_token", "path": r.URL.Path},
			})
			writeError(w, apperrors.Unauthorized("Unauthorized"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
