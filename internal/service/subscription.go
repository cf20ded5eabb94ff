package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/superparser/gateway-control/internal/audit"
	"github.com/superparser/gateway-control/internal/database"
	apperrors "github.com/superparser/gateway-control/internal/errors"
	"github.com/superparser/gateway-control/internal/model"
	"github.com/superparser/gateway-control/internal/repository"
)

// TxRunner runs fn in one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// AccountSyncer reconciles one account against the gateway.
type AccountSyncer interface {
	SyncAccount(ctx context.Context, accountID string) (*SyncOutcome, error)
}

// ChangeResult is what a ledger mutation reports back: the subscription as
// written and what the gateway currently reflects.
type ChangeResult struct {
	Subscription *model.Subscription `json:"subscription,omitempty"`
	Plan         *model.Plan         `json:"plan,omitempty"`
	Sync         *SyncOutcome        `json:"sync"`
}

// SubscriptionService owns the ledger. Every mutation writes the ledger and
// enqueues a reconcile job in the same transaction, then either reconciles
// inline or leaves the job to the worker.
type SubscriptionService struct {
	tx            TxRunner
	accountRepo   repository.AccountRepository
	planRepo      repository.PlanRepository
	subRepo       repository.SubscriptionRepository
	jobRepo       repository.ReconcileJobRepository
	syncer        AccountSyncer
	inline        bool
	term          time.Duration
	inlineTimeout time.Duration
	now           func() time.Time
}

func NewSubscriptionService(
	tx TxRunner,
	accountRepo repository.AccountRepository,
	planRepo repository.PlanRepository,
	subRepo repository.SubscriptionRepository,
	jobRepo repository.ReconcileJobRepository,
	syncer AccountSyncer,
	inline bool,
	term time.Duration,
	inlineTimeout time.Duration,
) *SubscriptionService {
	return &SubscriptionService{
		tx:            tx,
		accountRepo:   accountRepo,
		planRepo:      planRepo,
		subRepo:       subRepo,
		jobRepo:       jobRepo,
		syncer:        syncer,
		inline:        inline,
		term:          term,
		inlineTimeout: inlineTimeout,
		now:           time.Now,
	}
}

// StartFree makes sure the account has an active subscription, creating a
// free one if none exists. An existing subscription is re-queued when it is
// not known to be synced or when resync is set.
func (s *SubscriptionService) StartFree(ctx context.Context, accountID string, resync bool) (*ChangeResult, error) {
	var sub *model.Subscription
	enqueued := false

	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		accounts := s.accountRepo.WithTx(tx)
		subs := s.subRepo.WithTx(tx)
		jobs := s.jobRepo.WithTx(tx)

		account, err := accounts.LockForUpdate(ctx, accountID)
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		if account == nil {
			return apperrors.NotFound("Account")
		}

		sub, err = subs.FindActiveByAccountID(ctx, accountID)
		if err != nil {
			return fmt.Errorf("find active subscription: %w", err)
		}

		reason := model.JobReasonResync
		if sub == nil {
			free, err := s.planRepo.WithTx(tx).FindByName(ctx, model.PlanFree)
			if err != nil {
				return fmt.Errorf("find free plan: %w", err)
			}
			if free == nil {
				return apperrors.Internal("free plan is not configured")
			}
			start := s.now()
			sub, err = subs.Create(ctx, model.CreateSubscriptionParams{
				AccountID: accountID,
				PlanID:    free.ID,
				StartAt:   start,
				EndAt:     start.Add(s.term),
			})
			if err != nil {
				return fmt.Errorf("create subscription: %w", err)
			}
			reason = model.JobReasonSignup
		} else if sub.SyncState == model.SyncStateSynced && !resync {
			return nil
		}

		if _, err := jobs.Enqueue(ctx, model.EnqueueJobParams{
			AccountID:      accountID,
			SubscriptionID: &sub.ID,
			Reason:         reason,
		}); err != nil {
			return fmt.Errorf("enqueue reconcile: %w", err)
		}
		enqueued = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	plan, err := s.planRepo.FindByID(ctx, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}

	result := &ChangeResult{Subscription: sub, Plan: plan}
	if !enqueued {
		result.Sync = &SyncOutcome{
			AccountID:      accountID,
			SubscriptionID: sub.ID,
			Plan:           plan.Name,
			State:          sub.SyncState,
		}
		return result, nil
	}

	result.Sync = s.dispatch(ctx, accountID, sub, plan)
	return result, s.refresh(ctx, result)
}

// ChangePlan retires the current subscription and starts a new one on the
// named plan. The free plan cannot be purchased.
func (s *SubscriptionService) ChangePlan(ctx context.Context, accountID, planName string) (*ChangeResult, error) {
	planName = strings.ToLower(strings.TrimSpace(planName))
	if planName == "" {
		return nil, apperrors.MissingRequired("plan")
	}
	if planName == model.PlanFree {
		return nil, apperrors.ValidationError("The free plan cannot be purchased")
	}

	plan, err := s.planRepo.FindByName(ctx, planName)
	if err != nil {
		return nil, fmt.Errorf("find plan: %w", err)
	}
	if plan == nil {
		return nil, apperrors.ValidationError(fmt.Sprintf("Unknown plan %q", planName))
	}

	var (
		sub      *model.Subscription
		previous int64
		email    string
	)
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		subs := s.subRepo.WithTx(tx)

		account, err := s.accountRepo.WithTx(tx).LockForUpdate(ctx, accountID)
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		if account == nil {
			return apperrors.NotFound("Account")
		}
		if !account.Active {
			return apperrors.Forbidden("Account is not active")
		}
		email = account.Email

		previous, err = subs.DeactivateActive(ctx, accountID)
		if err != nil {
			return fmt.Errorf("deactivate subscription: %w", err)
		}

		start := s.now()
		sub, err = subs.Create(ctx, model.CreateSubscriptionParams{
			AccountID: accountID,
			PlanID:    plan.ID,
			StartAt:   start,
			EndAt:     start.Add(s.term),
		})
		if err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}

		if _, err := s.jobRepo.WithTx(tx).Enqueue(ctx, model.EnqueueJobParams{
			AccountID:      accountID,
			SubscriptionID: &sub.ID,
			Reason:         model.JobReasonUpgrade,
		}); err != nil {
			return fmt.Errorf("enqueue reconcile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSubscriptionChanged,
		AccountID: accountID,
		Email:     email,
		Details: map[string]interface{}{
			"plan":            plan.Name,
			"subscription_id": sub.ID,
			"replaced":        previous > 0,
		},
	})

	result := &ChangeResult{Subscription: sub, Plan: plan}
	result.Sync = s.dispatch(ctx, accountID, sub, plan)
	return result, s.refresh(ctx, result)
}

// Resync re-queues the account and runs a reconcile pass immediately,
// regardless of the configured mode.
func (s *SubscriptionService) Resync(ctx context.Context, accountID string) (*SyncOutcome, error) {
	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}
	return s.resync(ctx, account)
}

func (s *SubscriptionService) ResyncByEmail(ctx context.Context, email string) (*SyncOutcome, error) {
	account, err := s.accountRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}
	return s.resync(ctx, account)
}

func (s *SubscriptionService) resync(ctx context.Context, account *model.Account) (*SyncOutcome, error) {
	reason := model.JobReasonResync
	if !account.Active {
		reason = model.JobReasonDeactivate
	}
	if err := s.enqueueCurrent(ctx, s.jobRepo, account.ID, reason); err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventResyncRequested,
		AccountID: account.ID,
		Email:     account.Email,
	})

	syncCtx, cancel := context.WithTimeout(ctx, s.inlineTimeout)
	defer cancel()
	return s.syncer.SyncAccount(syncCtx, account.ID)
}

// ResyncFailed re-queues every account whose subscription is in sync_failed
// or whose job was dead-lettered, up to limit of each. The worker picks
// them up; it returns how many accounts were queued.
func (s *SubscriptionService) ResyncFailed(ctx context.Context, limit int) (int, error) {
	seen := make(map[string]struct{})

	failed, err := s.subRepo.FindActiveBySyncState(ctx, model.SyncStateFailed, limit)
	if err != nil {
		return 0, fmt.Errorf("find failed subscriptions: %w", err)
	}
	for _, sub := range failed {
		seen[sub.AccountID] = struct{}{}
	}

	dead, err := s.jobRepo.FindByStatus(ctx, model.JobStatusDead, limit, 0)
	if err != nil {
		return 0, fmt.Errorf("find dead jobs: %w", err)
	}
	for _, job := range dead {
		seen[job.AccountID] = struct{}{}
	}

	queued := 0
	for accountID := range seen {
		account, err := s.accountRepo.FindByID(ctx, accountID)
		if err != nil {
			return queued, fmt.Errorf("find account: %w", err)
		}
		if account == nil {
			continue
		}
		reason := model.JobReasonResync
		if !account.Active {
			reason = model.JobReasonDeactivate
		}
		if err := s.enqueueCurrent(ctx, s.jobRepo, accountID, reason); err != nil {
			return queued, err
		}
		queued++
	}

	log.Info().Int("queued", queued).Msg("failed reconciles re-queued")
	return queued, nil
}

// DeactivateAccount turns the account off and removes its gateway consumer.
// The ledger keeps the subscription history.
func (s *SubscriptionService) DeactivateAccount(ctx context.Context, email string) (*SyncOutcome, error) {
	var account *model.Account
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		accounts := s.accountRepo.WithTx(tx)

		found, err := accounts.FindByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("find account: %w", err)
		}
		if found == nil {
			return apperrors.NotFound("Account")
		}
		if _, err := accounts.LockForUpdate(ctx, found.ID); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		account, err = accounts.SetActive(ctx, found.ID, false)
		if err != nil {
			return fmt.Errorf("deactivate account: %w", err)
		}
		return s.enqueueCurrent(ctx, s.jobRepo.WithTx(tx), account.ID, model.JobReasonDeactivate)
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventAccountDeactivated,
		AccountID: account.ID,
		Email:     account.Email,
	})

	return s.dispatch(ctx, account.ID, nil, nil), nil
}

func (s *SubscriptionService) enqueueCurrent(ctx context.Context, jobs repository.ReconcileJobRepository, accountID string, reason model.JobReason) error {
	params := model.EnqueueJobParams{AccountID: accountID, Reason: reason}
	sub, err := s.subRepo.FindActiveByAccountID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("find active subscription: %w", err)
	}
	if sub != nil {
		params.SubscriptionID = &sub.ID
	}
	if _, err := jobs.Enqueue(ctx, params); err != nil {
		return fmt.Errorf("enqueue reconcile: %w", err)
	}
	return nil
}

// dispatch runs the inline attempt when enabled. A local failure during the
// attempt leaves the job for the worker and is reported as queued.
func (s *SubscriptionService) dispatch(ctx context.Context, accountID string, sub *model.Subscription, plan *model.Plan) *SyncOutcome {
	queued := &SyncOutcome{AccountID: accountID, State: model.SyncStatePending, Queued: true}
	if sub != nil {
		queued.SubscriptionID = sub.ID
	}
	if plan != nil {
		queued.Plan = plan.Name
	}
	if !s.inline {
		return queued
	}

	syncCtx, cancel := context.WithTimeout(ctx, s.inlineTimeout)
	defer cancel()

	outcome, err := s.syncer.SyncAccount(syncCtx, accountID)
	if err != nil {
		log.Warn().Err(err).Str("account_id", accountID).Msg("inline reconcile did not run, left to worker")
		return queued
	}
	return outcome
}

// refresh reloads the subscription so the result reflects the sync state the
// inline attempt wrote.
func (s *SubscriptionService) refresh(ctx context.Context, result *ChangeResult) error {
	if result.Subscription == nil || result.Sync == nil || result.Sync.Queued {
		return nil
	}
	sub, err := s.subRepo.FindByID(ctx, result.Subscription.ID)
	if err != nil {
		return fmt.Errorf("reload subscription: %w", err)
	}
	if sub != nil {
		result.Subscription = sub
	}
	return nil
}
