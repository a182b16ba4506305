package deposit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/raspadinha/raspadinha/internal/apperrors"
	"github.com/raspadinha/raspadinha/internal/logger"
	"github.com/raspadinha/raspadinha/internal/metrics"
	"github.com/raspadinha/raspadinha/internal/models"
	"github.com/raspadinha/raspadinha/internal/repository"
	"github.com/raspadinha/raspadinha/internal/service/gateway"
)

// Discovery paths for a paid deposit. Used for logging and metrics only;
// the confirmation logic is identical for all of them.
const (
	PathWebhook = "webhook"
	PathPoller  = "poller"
	PathManual  = "manual"
)

type gatewayClient interface {
	CreateTransaction(ctx context.Context, req gateway.CreateTransactionRequest) (gateway.Transaction, error)
	GetTransaction(ctx context.Context, externalID string) (gateway.Transaction, error)
}

type ledgerService interface {
	AdjustInTx(ctx context.Context, st repository.Storage, userID uuid.UUID, delta decimal.Decimal) (models.Account, error)
	PublishBalanceFor(ctx context.Context, account models.Account)
}

type Config struct {
	// Webhook URL passed to the provider when creating a transaction
	CallbackURL string
}

type Service struct {
	storage     repository.Storage
	ledger      ledgerService
	gateway     gatewayClient
	callbackURL string
	logger      logger.Logger
}

func NewService(cfg Config, storage repository.Storage, ledger ledgerService, gw gatewayClient, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		storage:     storage,
		ledger:      ledger,
		gateway:     gw,
		callbackURL: cfg.CallbackURL,
		logger:      l,
	}
}

// CreateDeposit registers a payment intent with the provider and stores the
// PENDING deposit. The returned deposit carries the entity and reference the
// user pays against, and the external id the provider will echo back.
func (s *Service) CreateDeposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (models.Deposit, error) {
	var d models.Deposit

	if !amount.IsPositive() {
		return d, apperrors.ErrNegativeAmount
	}

	externalID := newExternalID(userID)

	tx, err := s.gateway.CreateTransaction(ctx, gateway.CreateTransactionRequest{
		ExternalID:  externalID,
		CallbackURL: s.callbackURL,
		Method:      "REFERENCE",
		Items:       []gateway.Item{{Title: "Wallet deposit", Price: amount, Quantity: 1}},
		Amount:      amount,
	})
	if err != nil {
		return d, fmt.Errorf("provider rejected deposit intent: %w", err)
	}

	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		// The deposit row references the account, create it if this is the
		// user's first interaction with the wallet.
		if _, err := st.Account().CreateAccount(ctx, userID); err != nil {
			return err
		}

		d, err = st.Deposit().CreateDeposit(ctx, repository.CreateDepositParams{
			UserID:     userID,
			ExternalID: externalID,
			Amount:     amount,
			Entity:     tx.Entity,
			Reference:  tx.Reference,
		})
		return err
	})
	if err != nil {
		return d, fmt.Errorf("can't store deposit: %w", err)
	}

	s.logger.Info("Deposit intent created", "external_id", externalID, "user_id", userID, "amount", amount)
	return d, nil
}

// ConfirmPaid transitions a PENDING deposit to PAID and credits the account,
// in one transaction. Exactly one caller ever succeeds per deposit: the
// status-gated update makes every redelivery, concurrent webhook, poller run
// or manual approval a no-op reported as apperrors.ErrDepositAlreadyPaid.
//
// If the credit fails, the transaction rolls back and the deposit stays
// PENDING, so a later retry does the whole transition again. A deposit is
// never PAID without its credit being committed.
func (s *Service) ConfirmPaid(ctx context.Context, externalID string, path string) (models.Deposit, error) {
	var (
		d       models.Deposit
		account models.Account
	)

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		var err error

		d, err = st.Deposit().MarkPaid(ctx, externalID)
		if err != nil {
			return err
		}

		account, err = s.ledger.AdjustInTx(ctx, st, d.UserID, d.Amount)
		return err
	})

	switch {
	case err == nil:
		// Committed: safe to tell the world.
		metrics.DepositsCredited.WithLabelValues(path).Inc()
		s.ledger.PublishBalanceFor(ctx, account)
		s.logger.Info("Deposit paid and credited",
			"external_id", externalID, "user_id", d.UserID, "amount", d.Amount, "path", path)
		return d, nil
	case errors.Is(err, apperrors.ErrDepositAlreadyPaid):
		s.logger.Info("Deposit already paid, skipping", "external_id", externalID, "path", path)
		return d, err
	default:
		return d, err
	}
}

// Fail transitions a PENDING deposit to FAILED. No balance change; a deposit
// already in a terminal state is left untouched.
func (s *Service) Fail(ctx context.Context, externalID string) (models.Deposit, error) {
	d, err := s.storage.Deposit().MarkFailed(ctx, externalID)
	if err != nil {
		return d, err
	}

	s.logger.Info("Deposit marked failed", "external_id", externalID, "user_id", d.UserID)
	return d, nil
}

// GetByExternalID returns the deposit for the provider-facing id.
func (s *Service) GetByExternalID(ctx context.Context, externalID string) (models.Deposit, error) {
	return s.storage.Deposit().GetByExternalID(ctx, externalID)
}

// ListDeposits returns all deposits of the user, newest first.
func (s *Service) ListDeposits(ctx context.Context, userID uuid.UUID) ([]models.Deposit, error) {
	return s.storage.Deposit().ListByUser(ctx, userID)
}

// ListPending returns PENDING deposits for reconciliation.
func (s *Service) ListPending(ctx context.Context, opts repository.ListPendingOpts) ([]models.Deposit, error) {
	return s.storage.Deposit().ListPending(ctx, opts)
}

// ReconcileUser checks the caller's PENDING deposits against the provider and
// credits the ones that turn out paid. Returns how many were credited during
// this call. Safe to call arbitrarily often: confirmation is idempotent.
func (s *Service) ReconcileUser(ctx context.Context, userID uuid.UUID) (int, error) {
	pending, err := s.storage.Deposit().ListPending(ctx, repository.ListPendingOpts{UserID: &userID})
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, d := range pending {
		credited, err := s.Reconcile(ctx, d)
		if err != nil {
			var gwErr *gateway.Error
			if errors.As(err, &gwErr) && gwErr.Code == gateway.CodeRetryAfter {
				// Provider throttled us, the rest waits for the next poll.
				return processed, nil
			}
			s.logger.Error("Failed to reconcile deposit", "error", err, "external_id", d.ExternalID)
			continue
		}
		if credited {
			processed++
		}
	}

	return processed, nil
}

// Reconcile asks the provider for one deposit's status and applies it through
// the same idempotent transition the webhook uses. Returns true when this
// call performed the credit.
func (s *Service) Reconcile(ctx context.Context, d models.Deposit) (bool, error) {
	tx, err := s.gateway.GetTransaction(ctx, d.ExternalID)
	if err != nil {
		return false, err
	}

	switch {
	case gateway.PaidStatus(tx.Status):
		_, err := s.ConfirmPaid(ctx, d.ExternalID, PathPoller)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, apperrors.ErrDepositAlreadyPaid):
			// Webhook won the race, nothing to do.
			return false, nil
		default:
			return false, err
		}
	case gateway.FailedStatus(tx.Status):
		_, err := s.Fail(ctx, d.ExternalID)
		if err != nil && !errors.Is(err, apperrors.ErrDepositAlreadyFailed) && !errors.Is(err, apperrors.ErrDepositAlreadyPaid) {
			return false, err
		}
		return false, nil
	default:
		// Still in flight at the provider, keep waiting.
		return false, nil
	}
}

// External ids follow the shape DEP_<unix-millis>_<user-prefix> the provider
// echoes back in webhook payloads.
func newExternalID(userID uuid.UUID) string {
	return fmt.Sprintf("DEP_%d_%s", time.Now().UnixMilli(), userID.String()[:8])
}
