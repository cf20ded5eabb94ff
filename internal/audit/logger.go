package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventVerificationSent    EventType = "verification_sent"
	EventEmailVerified       EventType = "email_verified"
	EventAccountDeactivated  EventType = "account_deactivated"
	EventSubscriptionChanged EventType = "subscription_changed"
	EventReconcileFailed     EventType = "reconcile_failed"
	EventReconcileDeadLetter EventType = "reconcile_dead_letter"
	EventResyncRequested     EventType = "resync_requested"
	EventKeyDrift            EventType = "gateway_key_drift"
	EventRateLimitExceed     EventType = "rate_limit_exceeded"
	EventAuthFailure         EventType = "auth_failure"
)

type Event struct {
	Type      EventType
	AccountID string
	Email     string
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}

	l := logger.With().
		Str("audit", "control-plane").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	logEvent := l.Info()
	if event.Type == EventReconcileFailed || event.Type == EventReconcileDeadLetter {
		logEvent = l.Warn()
	}
	if event.AccountID != "" {
		logEvent = logEvent.Str("account_id", event.AccountID)
	}
	if event.Email != "" {
		logEvent = logEvent.Str("email", event.Email)
	}
	if event.IP != "" {
		logEvent = logEvent.Str("ip", event.IP)
	}
	if event.UserAgent != "" {
		logEvent = logEvent.Str("user_agent", event.UserAgent)
	}
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	case time.Time:
		return e.Time(key, v)
	case error:
		return e.AnErr(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// ClientIP returns the caller address. chi's RealIP middleware has already
// folded X-Forwarded-For into RemoteAddr when it is mounted.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
