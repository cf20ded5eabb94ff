package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/superparser/gateway-control/internal/audit"
	apperrors "github.com/superparser/gateway-control/internal/errors"
	"github.com/superparser/gateway-control/internal/lock"
	"github.com/superparser/gateway-control/internal/metrics"
	"github.com/superparser/gateway-control/internal/model"
	"github.com/superparser/gateway-control/internal/reconcile"
	rediskeys "github.com/superparser/gateway-control/internal/redis"
	"github.com/superparser/gateway-control/internal/repository"
	"github.com/superparser/gateway-control/internal/util"
)

// SyncOutcome reports what the gateway reflects for an account after a
// reconcile pass, or why it does not.
type SyncOutcome struct {
	AccountID      string          `json:"accountId"`
	SubscriptionID string          `json:"subscriptionId,omitempty"`
	Plan           string          `json:"plan,omitempty"`
	State          model.SyncState `json:"syncState"`
	Error          string          `json:"syncError,omitempty"`
	Queued         bool            `json:"queued,omitempty"`
	RetryScheduled bool            `json:"retryScheduled"`
	NextAttemptAt  *time.Time      `json:"nextAttemptAt,omitempty"`
	DeadLettered   bool            `json:"deadLettered,omitempty"`
	Err            error           `json:"-"`
}

// Failed reports whether the last attempt left the gateway out of date.
func (o *SyncOutcome) Failed() bool {
	return o.State == model.SyncStateFailed
}

// AppError maps a failed outcome to the error reported to API callers.
func (o *SyncOutcome) AppError() *apperrors.AppError {
	rerr, ok := reconcile.AsError(o.Err)
	var appErr *apperrors.AppError
	if ok && rerr.Kind == reconcile.KindRejected {
		appErr = apperrors.RemoteRejected(o.Err)
	} else {
		appErr = apperrors.RemoteUnavailable(o.Err)
	}
	return appErr.WithDetails(o)
}

// SyncService brings the gateway in line with an account's current ledger
// state. Every pass holds the account lock from reading the ledger until the
// outcome is committed, and always pushes the current active subscription,
// so the most recent ledger write is what the gateway ends up with.
type SyncService struct {
	accountRepo    repository.AccountRepository
	planRepo       repository.PlanRepository
	subRepo        repository.SubscriptionRepository
	jobRepo        repository.ReconcileJobRepository
	reconciler     *reconcile.Reconciler
	locker         lock.Locker
	box            *util.SecretBox
	retry          reconcile.RetryPolicy
	attemptTimeout time.Duration
}

func NewSyncService(
	accountRepo repository.AccountRepository,
	planRepo repository.PlanRepository,
	subRepo repository.SubscriptionRepository,
	jobRepo repository.ReconcileJobRepository,
	reconciler *reconcile.Reconciler,
	locker lock.Locker,
	box *util.SecretBox,
	retry reconcile.RetryPolicy,
	attemptTimeout time.Duration,
) *SyncService {
	return &SyncService{
		accountRepo:    accountRepo,
		planRepo:       planRepo,
		subRepo:        subRepo,
		jobRepo:        jobRepo,
		reconciler:     reconciler,
		locker:         locker,
		box:            box,
		retry:          retry,
		attemptTimeout: attemptTimeout,
	}
}

// SyncAccount runs one reconcile pass for the account's pending job. Gateway
// failures are recorded and returned inside the outcome; the error return is
// reserved for local failures (lock, database, missing account).
func (s *SyncService) SyncAccount(ctx context.Context, accountID string) (*SyncOutcome, error) {
	unlock, err := s.locker.Lock(ctx, rediskeys.AccountLockKey(accountID))
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", accountID, err)
	}
	defer unlock()

	// Job first: a subscription committed after this read always carries a
	// newer generation, so it cannot be completed by mistake below.
	job, err := s.jobRepo.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load reconcile job: %w", err)
	}
	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}
	sub, err := s.subRepo.FindActiveByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	outcome := &SyncOutcome{AccountID: accountID, State: model.SyncStateSynced}
	var plan *model.Plan
	if sub != nil {
		plan, err = s.planRepo.FindByID(ctx, sub.PlanID)
		if err != nil {
			return nil, fmt.Errorf("load plan: %w", err)
		}
		if plan == nil {
			return nil, fmt.Errorf("subscription %s references missing plan %s", sub.ID, sub.PlanID)
		}
		outcome.SubscriptionID = sub.ID
		outcome.Plan = plan.Name
		outcome.State = sub.SyncState
		if sub.SyncError != nil {
			outcome.Error = *sub.SyncError
		}
	}

	if job == nil || job.Status != model.JobStatusPending {
		outcome.DeadLettered = job != nil && job.Status == model.JobStatusDead
		return outcome, nil
	}

	var apiKey string
	if account.Active && sub != nil {
		apiKey, err = s.box.Open(account.APIKey)
		if err != nil {
			return nil, fmt.Errorf("open api key: %w", err)
		}
		if sub.SyncState == model.SyncStateFailed {
			if err := s.subRepo.MarkPending(ctx, sub.ID); err != nil {
				return nil, fmt.Errorf("mark subscription pending: %w", err)
			}
			outcome.State = model.SyncStatePending
		}
	}

	start := time.Now()
	attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	var remoteErr error
	switch {
	case !account.Active:
		remoteErr = s.reconciler.Remove(attemptCtx, account.Email)
	case sub == nil:
		// Nothing is subscribed yet; there is no consumer to push.
	case job.Reason == model.JobReasonUpgrade:
		_, remoteErr = s.reconciler.Upgrade(attemptCtx, reconcile.Account{Email: account.Email, APIKey: apiKey}, *plan)
	default:
		_, remoteErr = s.reconciler.Reconcile(attemptCtx, reconcile.Account{Email: account.Email, APIKey: apiKey}, *plan)
	}
	cancel()
	metrics.ReconcileDuration.Observe(time.Since(start).Seconds())

	// The caller may have given up while we talked to the gateway; the
	// outcome still has to be written down.
	bookCtx := context.WithoutCancel(ctx)

	if remoteErr != nil {
		return s.recordFailure(bookCtx, outcome, account, sub, job, remoteErr)
	}

	if account.Active && sub != nil {
		if err := s.subRepo.MarkSynced(bookCtx, sub.ID, time.Now()); err != nil {
			return nil, fmt.Errorf("mark subscription synced: %w", err)
		}
		outcome.State = model.SyncStateSynced
		outcome.Error = ""
	}
	if _, err := s.jobRepo.Complete(bookCtx, accountID, job.Generation); err != nil {
		return nil, fmt.Errorf("complete reconcile job: %w", err)
	}

	metrics.ReconcileAttempts.WithLabelValues(string(job.Reason), "synced").Inc()
	log.Info().
		Str("account_id", accountID).
		Str("reason", string(job.Reason)).
		Str("plan", outcome.Plan).
		Int64("generation", job.Generation).
		Dur("elapsed", time.Since(start)).
		Msg("account reconciled")

	return outcome, nil
}

func (s *SyncService) recordFailure(
	ctx context.Context,
	outcome *SyncOutcome,
	account *model.Account,
	sub *model.Subscription,
	job *model.ReconcileJob,
	cause error,
) (*SyncOutcome, error) {
	msg := cause.Error()
	outcome.Error = msg
	outcome.Err = cause

	if account.Active && sub != nil {
		if err := s.subRepo.MarkFailed(ctx, sub.ID, msg); err != nil {
			return nil, fmt.Errorf("mark subscription failed: %w", err)
		}
		outcome.State = model.SyncStateFailed
	}

	attempts := job.Attempts + 1
	event := audit.Event{
		AccountID: account.ID,
		Email:     account.Email,
		Details: map[string]interface{}{
			"reason":   string(job.Reason),
			"attempts": attempts,
			"error":    msg,
		},
	}

	if s.retry.Exhausted(attempts) {
		if _, err := s.jobRepo.DeadLetter(ctx, job.AccountID, job.Generation, attempts, msg); err != nil {
			return nil, fmt.Errorf("dead-letter reconcile job: %w", err)
		}
		outcome.DeadLettered = true
		metrics.ReconcileDeadLettered.Inc()
		event.Type = audit.EventReconcileDeadLetter
	} else {
		next := time.Now().Add(s.retry.Delay(attempts))
		if _, err := s.jobRepo.Retry(ctx, job.AccountID, job.Generation, attempts, next, msg); err != nil {
			return nil, fmt.Errorf("reschedule reconcile job: %w", err)
		}
		outcome.RetryScheduled = true
		outcome.NextAttemptAt = &next
		event.Type = audit.EventReconcileFailed
		event.Details["next_attempt_at"] = next
	}

	metrics.ReconcileAttempts.WithLabelValues(string(job.Reason), "failed").Inc()
	audit.Log(ctx, event)
	log.Warn().
		Err(cause).
		Str("account_id", account.ID).
		Str("reason", string(job.Reason)).
		Int("attempts", attempts).
		Bool("dead_lettered", outcome.DeadLettered).
		Msg("account reconcile failed")

	return outcome, nil
}
