package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/raspadinha/raspadinha/internal/apperrors"
	"github.com/raspadinha/raspadinha/internal/logger"
	"github.com/raspadinha/raspadinha/internal/metrics"
	"github.com/raspadinha/raspadinha/internal/models"
	"github.com/raspadinha/raspadinha/internal/notify"
	"github.com/raspadinha/raspadinha/internal/repository"
)

type balancePublisher interface {
	PublishBalance(ctx context.Context, event notify.BalanceEvent) error
}

type Config struct {
	// Create unknown accounts with zero balance on first credit.
	// The auth collaborator owns user identity, so an unknown id here just
	// means the user never touched their balance before.
	AutoCreateAccounts bool
}

// Service is the only writer of account balances. Every mutation goes through
// Adjust, which delegates the arithmetic to a single storage-side statement.
type Service struct {
	storage    repository.Storage
	publisher  balancePublisher
	autoCreate bool
	logger     logger.Logger
}

// NewService creates the ledger. publisher may be nil, then balance changes
// are not fanned out to live observers.
func NewService(cfg Config, storage repository.Storage, publisher balancePublisher, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		storage:    storage,
		publisher:  publisher,
		autoCreate: cfg.AutoCreateAccounts,
		logger:     l,
	}
}

// Adjust applies a signed delta to the account balance as one indivisible
// step and returns the new balance. Two racing adjustments are both applied;
// a debit below zero fails with apperrors.ErrBalanceInsufficient and changes
// nothing.
func (s *Service) Adjust(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) (models.Account, error) {
	var account models.Account

	if delta.IsZero() {
		return account, apperrors.ErrZeroAmount
	}

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		var err error

		if s.autoCreate {
			if _, err = st.Account().CreateAccount(ctx, userID); err != nil {
				return err
			}
		}

		account, err = st.Account().AdjustBalance(ctx, userID, delta)
		return err
	})

	switch {
	case err == nil:
		metrics.BalanceAdjustments.WithLabelValues("ok").Inc()
	case errors.Is(err, apperrors.ErrBalanceInsufficient):
		metrics.BalanceAdjustments.WithLabelValues("insufficient").Inc()
		return account, err
	case errors.Is(err, apperrors.ErrAccountNotFound):
		metrics.BalanceAdjustments.WithLabelValues("not_found").Inc()
		return account, err
	default:
		metrics.BalanceAdjustments.WithLabelValues("error").Inc()
		return account, fmt.Errorf("balance adjustment failed: %w", err)
	}

	s.publishBalance(ctx, account)

	return account, nil
}

// AdjustInTx is Adjust running inside a transaction the caller already owns.
// The deposit confirmation path uses it so the status transition and the
// credit commit or roll back together. No event is published here: the caller
// publishes after its transaction commits.
func (s *Service) AdjustInTx(ctx context.Context, st repository.Storage, userID uuid.UUID, delta decimal.Decimal) (models.Account, error) {
	var account models.Account

	if delta.IsZero() {
		return account, apperrors.ErrZeroAmount
	}

	if s.autoCreate {
		if _, err := st.Account().CreateAccount(ctx, userID); err != nil {
			return account, err
		}
	}

	return st.Account().AdjustBalance(ctx, userID, delta)
}

// GetBalance returns the account, creating it lazily when allowed.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (models.Account, error) {
	if s.autoCreate {
		return s.storage.Account().CreateAccount(ctx, userID)
	}
	return s.storage.Account().GetAccount(ctx, userID)
}

// PublishBalance pushes the authoritative balance to live observers.
// Best effort: the ledger is already committed, a lost event only delays the
// client until its next poll.
func (s *Service) publishBalance(ctx context.Context, account models.Account) {
	if s.publisher == nil {
		return
	}

	event := notify.BalanceEvent{UserID: account.ID, Balance: account.Balance}
	if err := s.publisher.PublishBalance(ctx, event); err != nil {
		s.logger.Warn("Failed to publish balance event", "error", err, "user_id", account.ID)
	}
}

// PublishBalanceFor lets the deposit confirmation path publish once its own
// transaction committed.
func (s *Service) PublishBalanceFor(ctx context.Context, account models.Account) {
	s.publishBalance(ctx, account)
}
