package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/superparser/gateway-control/internal/model"
)

type UsageRepository interface {
	CreateBatch(ctx context.Context, records []model.CreateUsageRecordParams) error
	// CountSince counts records at or after since whose endpoint starts with
	// prefix. An empty prefix counts every endpoint.
	CountSince(ctx context.Context, accountID, prefix string, since time.Time) (int, error)
	CountByDaySince(ctx context.Context, accountID string, since time.Time) ([]model.DailyCount, error)
	HasAny(ctx context.Context, accountID string) (bool, error)
}

type usageRepo struct {
	db sqlxDB
}

func NewUsageRepository(db *sqlx.DB) UsageRepository {
	return &usageRepo{db: db}
}

const usageColumns = 5

func (r *usageRepo) CreateBatch(ctx context.Context, records []model.CreateUsageRecordParams) error {
	if len(records) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO usage_records (account_id, endpoint, status_code, latency_ms, created_at) VALUES ")
	args := make([]interface{}, 0, len(records)*usageColumns)
	for i, rec := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * usageColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5)
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		args = append(args, rec.AccountID, rec.Endpoint, rec.StatusCode, rec.Latency.Milliseconds(), createdAt)
	}

	_, err := r.db.ExecContext(ctx, b.String(), args...)
	return err
}

func (r *usageRepo) CountSince(ctx context.Context, accountID, prefix string, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM usage_records
		WHERE account_id = $1 AND created_at >= $2
		  AND ($3 = '' OR endpoint = $3 OR starts_with(endpoint, $3 || '/'))
	`, accountID, since, prefix)
	return count, err
}

func (r *usageRepo) CountByDaySince(ctx context.Context, accountID string, since time.Time) ([]model.DailyCount, error) {
	var counts []model.DailyCount
	err := r.db.SelectContext(ctx, &counts, `
		SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day, COUNT(*) AS count
		FROM usage_records
		WHERE account_id = $1 AND created_at >= $2
		GROUP BY 1
		ORDER BY 1
	`, accountID, since)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *usageRepo) HasAny(ctx context.Context, accountID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM usage_records WHERE account_id = $1)
	`, accountID)
	return exists, err
}
