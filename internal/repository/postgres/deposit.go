package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/raspadinha/raspadinha/internal/apperrors"
	"github.com/raspadinha/raspadinha/internal/models"
	"github.com/raspadinha/raspadinha/internal/repository"
)

type DepositRepo struct {
	DB DBTX
}

const depositColumns = `id, user_id, external_id, amount, status, entity, reference, created_at, paid_at`

func (r *DepositRepo) CreateDeposit(ctx context.Context, params repository.CreateDepositParams) (models.Deposit, error) {
	const createDeposit = `
	INSERT INTO deposits (id, user_id, external_id, amount, status, entity, reference, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING ` + depositColumns

	d := models.Deposit{
		ID:         uuid.New(),
		UserID:     params.UserID,
		ExternalID: params.ExternalID,
		Amount:     params.Amount,
		Status:     models.DepositStatusPending,
		Entity:     params.Entity,
		Reference:  params.Reference,
		CreatedAt:  time.Now(),
	}

	rows, _ := r.DB.Query(ctx, createDeposit,
		d.ID, d.UserID, d.ExternalID, d.Amount, d.Status, d.Entity, d.Reference, d.CreatedAt)
	d, err := pgx.CollectOneRow(rows, rowToDeposit)

	var pgErr *pgconn.PgError

	switch {
	case err == nil:
		return d, nil
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation:
		return d, apperrors.ErrDepositAlreadyExists
	default:
		return d, fmt.Errorf("db error: %w", err)
	}
}

func (r *DepositRepo) GetByExternalID(ctx context.Context, externalID string) (models.Deposit, error) {
	const getDeposit = `
	SELECT ` + depositColumns + ` FROM deposits
	WHERE external_id = $1
	`

	rows, _ := r.DB.Query(ctx, getDeposit, externalID)
	d, err := pgx.CollectOneRow(rows, rowToDeposit)

	switch {
	case err == nil:
		return d, nil
	case errors.Is(err, pgx.ErrNoRows):
		return d, apperrors.ErrDepositNotFound
	default:
		return d, fmt.Errorf("db error: %w", err)
	}
}

// Status-gated transition: only a PENDING row is updated, so no matter how
// many callers race here exactly one observes the transition.
const markDeposit = `-- name: MarkDeposit
UPDATE deposits
SET status = $2, paid_at = $3
WHERE external_id = $1 AND status = 'PENDING'
RETURNING ` + depositColumns

func (r *DepositRepo) MarkPaid(ctx context.Context, externalID string) (models.Deposit, error) {
	now := time.Now()
	return r.mark(ctx, externalID, models.DepositStatusPaid, &now)
}

func (r *DepositRepo) MarkFailed(ctx context.Context, externalID string) (models.Deposit, error) {
	return r.mark(ctx, externalID, models.DepositStatusFailed, nil)
}

func (r *DepositRepo) mark(ctx context.Context, externalID string, status string, paidAt *time.Time) (models.Deposit, error) {
	rows, _ := r.DB.Query(ctx, markDeposit, externalID, status, paidAt)
	d, err := pgx.CollectOneRow(rows, rowToDeposit)

	switch {
	case err == nil:
		return d, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Nothing matched: the deposit is unknown or already terminal.
		// Fetch it to report which.
		existing, getErr := r.GetByExternalID(ctx, externalID)
		if getErr != nil {
			return d, getErr
		}
		switch existing.Status {
		case models.DepositStatusPaid:
			return existing, apperrors.ErrDepositAlreadyPaid
		case models.DepositStatusFailed:
			return existing, apperrors.ErrDepositAlreadyFailed
		default:
			return existing, fmt.Errorf("deposit %s in unexpected status %s", externalID, existing.Status)
		}
	default:
		return d, fmt.Errorf("db error: %w", err)
	}
}

func (r *DepositRepo) ListPending(ctx context.Context, opts repository.ListPendingOpts) ([]models.Deposit, error) {
	const listPending = `
	SELECT ` + depositColumns + ` FROM deposits
	WHERE status = 'PENDING' AND ($1::uuid IS NULL OR user_id = $1)
	ORDER BY created_at
	LIMIT NULLIF($2, 0)
	`

	rows, _ := r.DB.Query(ctx, listPending, opts.UserID, opts.Limit)
	deposits, err := pgx.CollectRows(rows, rowToDeposit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return deposits, nil
}

func (r *DepositRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Deposit, error) {
	const listByUser = `
	SELECT ` + depositColumns + ` FROM deposits
	WHERE user_id = $1
	ORDER BY created_at DESC
	`

	rows, _ := r.DB.Query(ctx, listByUser, userID)
	deposits, err := pgx.CollectRows(rows, rowToDeposit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return deposits, nil
}

func rowToDeposit(row pgx.CollectableRow) (models.Deposit, error) {
	var d models.Deposit
	err := row.Scan(&d.ID, &d.UserID, &d.ExternalID, &d.Amount, &d.Status, &d.Entity, &d.Reference, &d.CreatedAt, &d.PaidAt)
	return d, err
}
