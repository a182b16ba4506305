package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/raspadinha/raspadinha/internal/models"
)

// Account repository interface
type AccountRepo interface {
	// Create account with zero balance
	// If the account already exists return it unchanged
	CreateAccount(ctx context.Context, userID uuid.UUID) (models.Account, error)

	// Get account by user id
	// If account not found must return apperrors.ErrAccountNotFound
	GetAccount(ctx context.Context, userID uuid.UUID) (models.Account, error)

	// Adjust balance by signed delta in a single storage-side statement.
	// Must be called inside a transaction: the ledger-write flag it sets is
	// transaction local.
	// If a debit would drive balance negative must return apperrors.ErrBalanceInsufficient
	// If account not found must return apperrors.ErrAccountNotFound
	AdjustBalance(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) (models.Account, error)
}

type CreateDepositParams struct {
	UserID     uuid.UUID
	ExternalID string
	Amount     decimal.Decimal
	Entity     string
	Reference  string
}

type ListPendingOpts struct {
	// Limit listing to one user's deposits. Nil means all users.
	UserID *uuid.UUID

	// Max rows to return. Zero means no limit.
	Limit int
}

// Deposit repository interface
type DepositRepo interface {
	// Create deposit in PENDING status
	// If a deposit with the external id exists must return apperrors.ErrDepositAlreadyExists
	CreateDeposit(ctx context.Context, params CreateDepositParams) (models.Deposit, error)

	// Get deposit by provider-facing external id
	// If not found must return apperrors.ErrDepositNotFound
	GetByExternalID(ctx context.Context, externalID string) (models.Deposit, error)

	// Transition PENDING -> PAID. The update is gated on the current status:
	// a deposit already in a terminal state is never changed.
	// Already PAID: apperrors.ErrDepositAlreadyPaid
	// Already FAILED: apperrors.ErrDepositAlreadyFailed
	// Unknown external id: apperrors.ErrDepositNotFound
	MarkPaid(ctx context.Context, externalID string) (models.Deposit, error)

	// Transition PENDING -> FAILED, gated the same way as MarkPaid
	MarkFailed(ctx context.Context, externalID string) (models.Deposit, error)

	// List PENDING deposits, oldest first
	ListPending(ctx context.Context, opts ListPendingOpts) ([]models.Deposit, error)

	// List all deposits of the user, newest first
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Deposit, error)
}

type Storage interface {
	Account() AccountRepo
	Deposit() DepositRepo

	// Run fn within a database transaction. The storage passed to fn is bound
	// to that transaction. Returning an error rolls the transaction back.
	InTx(ctx context.Context, fn func(Storage) error) error
}
