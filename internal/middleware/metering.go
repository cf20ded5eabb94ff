package middleware

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type UsageRecorder interface {
	Record(accountID, endpoint string, status int, latency time.Duration) bool
}

// MeteringMiddleware records every call made by an authenticated account.
// It must run inside APIKeyMiddleware; the recorder decides which paths
// count.
type MeteringMiddleware struct {
	recorder UsageRecorder
}

func NewMeteringMiddleware(recorder UsageRecorder) *MeteringMiddleware {
	return &MeteringMiddleware{recorder: recorder}
}

func (m *MeteringMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		account := GetAccount(r.Context())
		if account == nil {
			return
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.recorder.Record(account.ID, r.URL.Path, status, time.Since(start))
	})
}
