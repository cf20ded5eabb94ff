package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/superparser/gateway-control/internal/model"
)

// ReconcileJobRepository is the durable reconciliation queue. Mutations that
// finish an attempt are conditioned on the generation the caller observed, so
// an enqueue that lands mid-attempt is never lost.
type ReconcileJobRepository interface {
	Enqueue(ctx context.Context, params model.EnqueueJobParams) (*model.ReconcileJob, error)
	FindByAccountID(ctx context.Context, accountID string) (*model.ReconcileJob, error)
	FindByStatus(ctx context.Context, status model.JobStatus, limit, offset int) ([]model.ReconcileJob, error)
	CountByStatus(ctx context.Context) (map[model.JobStatus]int, error)
	// ClaimDue leases up to limit due pending jobs by pushing their
	// next_attempt_at forward, skipping rows locked by other workers.
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]model.ReconcileJob, error)
	Complete(ctx context.Context, accountID string, generation int64) (bool, error)
	Retry(ctx context.Context, accountID string, generation int64, attempts int, nextAttemptAt time.Time, lastErr string) (bool, error)
	DeadLetter(ctx context.Context, accountID string, generation int64, attempts int, lastErr string) (bool, error)
	DeleteDoneBefore(ctx context.Context, before time.Time) (int64, error)
	WithTx(tx *sqlx.Tx) ReconcileJobRepository
}

type reconcileJobRepo struct {
	db sqlxDB
}

func NewReconcileJobRepository(db *sqlx.DB) ReconcileJobRepository {
	return &reconcileJobRepo{db: db}
}

func (r *reconcileJobRepo) WithTx(tx *sqlx.Tx) ReconcileJobRepository {
	return &reconcileJobRepo{db: tx}
}

func (r *reconcileJobRepo) Enqueue(ctx context.Context, params model.EnqueueJobParams) (*model.ReconcileJob, error) {
	var job model.ReconcileJob
	err := r.db.GetContext(ctx, &job, `
		INSERT INTO reconcile_jobs (account_id, subscription_id, reason, status, generation, attempts, next_attempt_at)
		VALUES ($1, $2, $3, 'pending', 1, 0, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			subscription_id = EXCLUDED.subscription_id,
			reason = EXCLUDED.reason,
			status = 'pending',
			generation = reconcile_jobs.generation + 1,
			attempts = 0,
			next_attempt_at = NOW(),
			last_error = NULL,
			updated_at = NOW()
		RETURNING *
	`, params.AccountID, params.SubscriptionID, params.Reason)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *reconcileJobRepo) FindByAccountID(ctx context.Context, accountID string) (*model.ReconcileJob, error) {
	var job model.ReconcileJob
	err := r.db.GetContext(ctx, &job, `
		SELECT * FROM reconcile_jobs WHERE account_id = $1
	`, accountID)
	return HandleNotFound(&job, err)
}

func (r *reconcileJobRepo) FindByStatus(ctx context.Context, status model.JobStatus, limit, offset int) ([]model.ReconcileJob, error) {
	var jobs []model.ReconcileJob
	err := r.db.SelectContext(ctx, &jobs, `
		SELECT * FROM reconcile_jobs
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *reconcileJobRepo) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	var rows []struct {
		Status model.JobStatus `db:"status"`
		Count  int             `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS count FROM reconcile_jobs GROUP BY status
	`)
	if err != nil {
		return nil, err
	}

	counts := map[model.JobStatus]int{
		model.JobStatusPending: 0,
		model.JobStatusDone:    0,
		model.JobStatusDead:    0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *reconcileJobRepo) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]model.ReconcileJob, error) {
	var jobs []model.ReconcileJob
	err := r.db.SelectContext(ctx, &jobs, `
		UPDATE reconcile_jobs
		SET next_attempt_at = NOW() + make_interval(secs => $2), updated_at = NOW()
		WHERE account_id IN (
			SELECT account_id FROM reconcile_jobs
			WHERE status = 'pending' AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, limit, lease.Seconds())
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *reconcileJobRepo) Complete(ctx context.Context, accountID string, generation int64) (bool, error) {
	return rowsChanged(r.db.ExecContext(ctx, `
		UPDATE reconcile_jobs
		SET status = 'done', last_error = NULL, updated_at = NOW()
		WHERE account_id = $1 AND generation = $2 AND status = 'pending'
	`, accountID, generation))
}

func (r *reconcileJobRepo) Retry(ctx context.Context, accountID string, generation int64, attempts int, nextAttemptAt time.Time, lastErr string) (bool, error) {
	return rowsChanged(r.db.ExecContext(ctx, `
		UPDATE reconcile_jobs
		SET attempts = $3, next_attempt_at = $4, last_error = $5, updated_at = NOW()
		WHERE account_id = $1 AND generation = $2 AND status = 'pending'
	`, accountID, generation, attempts, nextAttemptAt, lastErr))
}

func (r *reconcileJobRepo) DeadLetter(ctx context.Context, accountID string, generation int64, attempts int, lastErr string) (bool, error) {
	return rowsChanged(r.db.ExecContext(ctx, `
		UPDATE reconcile_jobs
		SET status = 'dead', attempts = $3, last_error = $4, updated_at = NOW()
		WHERE account_id = $1 AND generation = $2 AND status = 'pending'
	`, accountID, generation, attempts, lastErr))
}

func (r *reconcileJobRepo) DeleteDoneBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM reconcile_jobs WHERE status = 'done' AND updated_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
