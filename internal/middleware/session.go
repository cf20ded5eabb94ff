package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/superparser/gateway-control/internal/auth"
	apperrors "github.com/superparser/gateway-control/internal/errors"
)

const SessionContextKey contextKey = "session"

func GetSession(ctx context.Context) *auth.Claims {
	if claims, ok := ctx.Value(SessionContextKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

// SessionMiddleware guards dashboard routes with the bearer session token
// issued at email verification.
type SessionMiddleware struct {
	tokens *auth.TokenService
}

func NewSessionMiddleware(tokens *auth.TokenService) *SessionMiddleware {
	return &SessionMiddleware{tokens: tokens}
}

func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, apperrors.Unauthorized("Missing session token"))
			return
		}

		claims, err := m.tokens.ValidateSession(token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) {
				writeError(w, apperrors.TokenExpired())
				return
			}
			writeError(w, apperrors.InvalidToken("Invalid session token"))
			return
		}

		ctx := context.WithValue(r.Context(), SessionContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
