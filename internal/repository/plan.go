package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/superparser/gateway-control/internal/model"
)

type PlanRepository interface {
	FindByID(ctx context.Context, id string) (*model.Plan, error)
	FindByName(ctx context.Context, name string) (*model.Plan, error)
	FindAll(ctx context.Context) ([]model.Plan, error)
	Upsert(ctx context.Context, params model.UpsertPlanParams) (*model.Plan, error)
	WithTx(tx *sqlx.Tx) PlanRepository
}

type planRepo struct {
	db sqlxDB
}

func NewPlanRepository(db *sqlx.DB) PlanRepository {
	return &planRepo{db: db}
}

func (r *planRepo) WithTx(tx *sqlx.Tx) PlanRepository {
	return &planRepo{db: tx}
}

func (r *planRepo) FindByID(ctx context.Context, id string) (*model.Plan, error) {
	var plan model.Plan
	err := r.db.GetContext(ctx, &plan, `SELECT * FROM plans WHERE id = $1`, id)
	return HandleNotFound(&plan, err)
}

func (r *planRepo) FindByName(ctx context.Context, name string) (*model.Plan, error) {
	var plan model.Plan
	err := r.db.GetContext(ctx, &plan, `SELECT * FROM plans WHERE name = $1`, name)
	return HandleNotFound(&plan, err)
}

func (r *planRepo) FindAll(ctx context.Context) ([]model.Plan, error) {
	var plans []model.Plan
	err := r.db.SelectContext(ctx, &plans, `
		SELECT * FROM plans ORDER BY monthly_quota ASC, name ASC
	`)
	if err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *planRepo) Upsert(ctx context.Context, params model.UpsertPlanParams) (*model.Plan, error) {
	var plan model.Plan
	err := r.db.GetContext(ctx, &plan, `
		INSERT INTO plans (name, monthly_quota, rate_limit, price, overage_price, rejection_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			monthly_quota = EXCLUDED.monthly_quota,
			rate_limit = EXCLUDED.rate_limit,
			price = EXCLUDED.price,
			overage_price = EXCLUDED.overage_price,
			rejection_message = EXCLUDED.rejection_message,
			updated_at = NOW()
		RETURNING *
	`, params.Name, params.MonthlyQuota, params.RateLimit, params.Price, params.OveragePrice, params.RejectionMessage)
	if err != nil {
		return nil, err
	}
	return &plan, nil
}
