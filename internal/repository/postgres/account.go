package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/raspadinha/raspadinha/internal/apperrors"
	"github.com/raspadinha/raspadinha/internal/models"
)

type AccountRepo struct {
	DB DBTX
}

// Create account with zero balance
// If account with the id already exists return it as is
const createAccount = `-- name: CreateAccount
WITH insert_account AS (
	INSERT INTO accounts (id, balance, verified)
	VALUES ($1, 0, false)
	ON CONFLICT DO NOTHING
	RETURNING id, balance, verified, created_at
)
SELECT * FROM insert_account
UNION
SELECT id, balance, verified, created_at FROM accounts WHERE id = $1
`

func (r *AccountRepo) CreateAccount(ctx context.Context, userID uuid.UUID) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, createAccount, userID)
	account, err := pgx.CollectOneRow(rows, rowToAccount)
	if err != nil {
		return account, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

func (r *AccountRepo) GetAccount(ctx context.Context, userID uuid.UUID) (models.Account, error) {
	const getAccount = `
	SELECT id, balance, verified, created_at FROM accounts
	WHERE id = $1
	`

	rows, _ := r.DB.Query(ctx, getAccount, userID)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrAccountNotFound
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

// Adjust balance with a single storage-side statement, so concurrent
// adjustments never lose an update. The read-modify-write happens inside
// postgres, not here.
const adjustBalance = `-- name: AdjustBalance
UPDATE accounts
SET balance = balance + $2
WHERE id = $1
RETURNING id, balance, verified, created_at
`

func (r *AccountRepo) AdjustBalance(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) (models.Account, error) {
	var account models.Account

	// Transaction-local flag the trg_protect_balance trigger checks.
	// Without it the UPDATE below would be rejected like any other writer.
	_, err := r.DB.Exec(ctx, `SELECT set_config('app.ledger_write', 'on', true)`)
	if err != nil {
		return account, fmt.Errorf("db error: %w", err)
	}

	rows, _ := r.DB.Query(ctx, adjustBalance, userID, delta)
	account, err = pgx.CollectOneRow(rows, rowToAccount)

	var pgErr *pgconn.PgError

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrAccountNotFound
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation:
		return account, apperrors.ErrBalanceInsufficient
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

func rowToAccount(row pgx.CollectableRow) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Balance, &a.Verified, &a.CreatedAt)
	return a, err
}
