package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	apperrors "github.com/superparser/gateway-control/internal/errors"
	"github.com/superparser/gateway-control/internal/model"
)

// uniqueViolation is the Postgres SQLSTATE for a unique index conflict.
const uniqueViolation = "23505"

type SubscriptionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Subscription, error)
	FindActiveByAccountID(ctx context.Context, accountID string) (*model.Subscription, error)
	FindActiveBySyncState(ctx context.Context, state model.SyncState, limit int) ([]model.Subscription, error)
	// DeactivateActive retires the account's current active row, if any.
	DeactivateActive(ctx context.Context, accountID string) (int64, error)
	// Create inserts an active row in pending_sync. A second active row for
	// the same account fails with a CONFLICT AppError.
	Create(ctx context.Context, params model.CreateSubscriptionParams) (*model.Subscription, error)
	MarkPending(ctx context.Context, id string) error
	MarkSynced(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, syncErr string) error
	WithTx(tx *sqlx.Tx) SubscriptionRepository
}

type subscriptionRepo struct {
	db sqlxDB
}

func NewSubscriptionRepository(db *sqlx.DB) SubscriptionRepository {
	return &subscriptionRepo{db: db}
}

func (r *subscriptionRepo) WithTx(tx *sqlx.Tx) SubscriptionRepository {
	return &subscriptionRepo{db: tx}
}

func (r *subscriptionRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.GetContext(ctx, &sub, `SELECT * FROM subscriptions WHERE id = $1`, id)
	return HandleNotFound(&sub, err)
}

func (r *subscriptionRepo) FindActiveByAccountID(ctx context.Context, accountID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.GetContext(ctx, &sub, `
		SELECT * FROM subscriptions
		WHERE account_id = $1 AND active
	`, accountID)
	return HandleNotFound(&sub, err)
}

func (r *subscriptionRepo) FindActiveBySyncState(ctx context.Context, state model.SyncState, limit int) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.db.SelectContext(ctx, &subs, `
		SELECT * FROM subscriptions
		WHERE active AND sync_state = $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, state, limit)
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *subscriptionRepo) DeactivateActive(ctx context.Context, accountID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET active = FALSE, updated_at = NOW()
		WHERE account_id = $1 AND active
	`, accountID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *subscriptionRepo) Create(ctx context.Context, params model.CreateSubscriptionParams) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.GetContext(ctx, &sub, `
		INSERT INTO subscriptions (account_id, plan_id, start_at, end_at, active, sync_state)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		RETURNING *
	`, params.AccountID, params.PlanID, params.StartAt, params.EndAt, model.SyncStatePending)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, apperrors.Conflict("Account already has an active subscription").WithCause(err)
		}
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepo) MarkPending(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET sync_state = $2, updated_at = NOW()
		WHERE id = $1
	`, id, model.SyncStatePending)
	return err
}

func (r *subscriptionRepo) MarkSynced(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET sync_state = $2, sync_error = NULL, synced_at = $3, updated_at = NOW()
		WHERE id = $1
	`, id, model.SyncStateSynced, at)
	return err
}

func (r *subscriptionRepo) MarkFailed(ctx context.Context, id string, syncErr string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET sync_state = $2, sync_error = $3, updated_at = NOW()
		WHERE id = $1
	`, id, model.SyncStateFailed, syncErr)
	return err
}
