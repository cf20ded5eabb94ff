package repository

import (
	"context"
	"database/sql"
	"errors"
)

// sqlxDB is satisfied by both *sqlx.DB and *sqlx.Tx.
type sqlxDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// HandleNotFound converts sql.ErrNoRows into a nil result without error, for
// Find* operations where a missing row is not an error condition.
//
//	var plan model.Plan
//	err := r.db.GetContext(ctx, &plan, query, args...)
//	return HandleNotFound(&plan, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func rowsChanged(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
