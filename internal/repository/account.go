package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/superparser/gateway-control/internal/model"
)

type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
	FindActiveByAPIKeyHash(ctx context.Context, keyHash string) (*model.Account, error)
	// CreateIfNotExists inserts the account unless the email is taken, in
	// which case the existing row is returned with created=false.
	CreateIfNotExists(ctx context.Context, params model.CreateAccountParams) (account *model.Account, created bool, err error)
	SetActive(ctx context.Context, id string, active bool) (*model.Account, error)
	// LockForUpdate row-locks the account for the surrounding transaction.
	LockForUpdate(ctx context.Context, id string) (*model.Account, error)
	WithTx(tx *sqlx.Tx) AccountRepository
}

type accountRepo struct {
	db sqlxDB
}

func NewAccountRepository(db *sqlx.DB) AccountRepository {
	return &accountRepo{db: db}
}

func (r *accountRepo) WithTx(tx *sqlx.Tx) AccountRepository {
	return &accountRepo{db: tx}
}

func (r *accountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE id = $1
	`, id)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE email = $1
	`, email)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindActiveByAPIKeyHash(ctx context.Context, keyHash string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts
		WHERE api_key_hash = $1 AND active
	`, keyHash)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) CreateIfNotExists(ctx context.Context, params model.CreateAccountParams) (*model.Account, bool, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		INSERT INTO accounts (email, api_key, api_key_hash, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO NOTHING
		RETURNING *
	`, params.Email, params.APIKey, params.APIKeyHash, params.Active)
	if err == nil {
		return &account, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	existing, err := r.FindByEmail(ctx, params.Email)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.New("account vanished after conflicting insert")
	}
	return existing, false, nil
}

func (r *accountRepo) SetActive(ctx context.Context, id string, active bool) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		UPDATE accounts SET active = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, id, active)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) LockForUpdate(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE id = $1 FOR UPDATE
	`, id)
	return HandleNotFound(&account, err)
}
