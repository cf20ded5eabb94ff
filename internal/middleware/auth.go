package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/superparser/gateway-control/internal/audit"
	apperrors "github.com/superparser/gateway-control/internal/errors"
	"github.com/superparser/gateway-control/internal/model"
	"github.com/superparser/gateway-control/internal/util"
)

const APIKeyHeader = "X-API-KEY"

const AccountContextKey contextKey = "account"

func GetAccount(ctx context.Context) *model.Account {
	if account, ok := ctx.Value(AccountContextKey).(*model.Account); ok {
		return account
	}
	return nil
}

// WithAccount stores account in ctx the way APIKeyMiddleware does.
func WithAccount(ctx context.Context, account *model.Account) context.Context {
	return context.WithValue(ctx, AccountContextKey, account)
}

type AccountFinder interface {
	FindActiveByAPIKeyHash(ctx context.Context, keyHash string) (*model.Account, error)
}

// APIKeyMiddleware authenticates metered calls by X-API-KEY. Only active
// accounts pass.
type APIKeyMiddleware struct {
	accounts AccountFinder
}

func NewAPIKeyMiddleware(accounts AccountFinder) *APIKeyMiddleware {
	return &APIKeyMiddleware{accounts: accounts}
}

func (m *APIKeyMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
		if key == "" {
			writeError(w, apperrors.Unauthorized("Missing API key"))
			return
		}
		if !util.IsValidUUID(key) {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"reason": "malformed_api_key"},
			})
			writeError(w, apperrors.Unauthorized("Invalid API key"))
			return
		}

		account, err := m.accounts.FindActiveByAPIKeyHash(r.Context(), util.HashKey(key))
		if err != nil {
			log.Error().Err(err).Msg("api key middleware: database error")
			writeError(w, apperrors.Internal("Authentication failed"))
			return
		}
		if account == nil {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"reason": "unknown_api_key", "api_key": util.MaskKey(key)},
			})
			writeError(w, apperrors.Unauthorized("Invalid API key"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
	})
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}
