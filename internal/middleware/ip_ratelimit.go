package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/superparser/gateway-control/internal/audit"
	apperrors "github.com/superparser/gateway-control/internal/errors"
)

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time)
}

// IPRateLimitMiddleware limits unauthenticated endpoints per client IP.
type IPRateLimitMiddleware struct {
	limiter Limiter
	limit   int
	window  time.Duration
	keyFunc func(ip string) string
}

func NewIPRateLimitMiddleware(limiter Limiter, limit int, window time.Duration, keyFunc func(ip string) string) *IPRateLimitMiddleware {
	if keyFunc == nil {
		keyFunc = func(ip string) string { return fmt.Sprintf("ratelimit:ip:%s", ip) }
	}
	return &IPRateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		keyFunc: keyFunc,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := audit.ClientIP(r)

		allowed, resetAt := m.limiter.Allow(r.Context(), m.keyFunc(ip), m.limit, m.window)
		if !allowed {
			secondsLeft := int(time.Until(resetAt).Seconds()) + 1
			if secondsLeft < 1 {
				secondsLeft = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secondsLeft))
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]interface{}{"path": r.URL.Path},
			})
			writeError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
