package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/raspadinha/raspadinha/internal/handlers/middleware"
	"github.com/raspadinha/raspadinha/internal/logger"
	"github.com/raspadinha/raspadinha/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type RouterConfig struct {
	// Pre-shared secret the provider signs webhook bodies with
	WebhookSecret string

	// bcrypt hash of the operator token for manual approval endpoints
	AdminTokenHash string
}

func NewRouter(
	cfg RouterConfig,
	tokens tokenParser,
	depositService depositService,
	ledgerService ledgerService,
	balanceStream http.Handler,
	logger logger.Logger,
) http.Handler {
	authMiddleware := middleware.AuthMiddleware(tokens)
	withAuth := func(h http.Handler) http.Handler {
		return authMiddleware(h)
	}

	apiuser := http.NewServeMux()

	apiuser.Handle("POST /deposits", withAuth(handleCreateDeposit(depositService, logger)))
	apiuser.Handle("GET /deposits", withAuth(handleListDeposits(depositService, logger)))
	apiuser.Handle("POST /deposits/check", withAuth(handleCheckDeposits(depositService, logger)))
	apiuser.Handle("GET /balance", withAuth(handleBalance(ledgerService, logger)))
	apiuser.Handle("POST /balance/spend", withAuth(handleSpend(ledgerService, logger)))
	if balanceStream != nil {
		apiuser.Handle("GET /balance/ws", withAuth(balanceStream))
	}

	apiadmin := http.NewServeMux()
	adminMiddleware := middleware.AdminMiddleware(cfg.AdminTokenHash)
	apiadmin.Handle("POST /deposits/{externalID}/approve", adminMiddleware(handleApproveDeposit(depositService, logger)))
	apiadmin.Handle("POST /deposits/{externalID}/reject", adminMiddleware(handleRejectDeposit(depositService, logger)))

	root := http.NewServeMux()
	root.Handle("/api/user/", http.StripPrefix("/api/user", apiuser))
	root.Handle("/api/admin/", http.StripPrefix("/api/admin", apiadmin))
	root.Handle("POST /api/webhook/payment", handleWebhook(depositService, cfg.WebhookSecret, logger))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type tokenParser interface {
	Parse(access string) (uuid.UUID, error)
}

type depositService interface {
	// Register a deposit intent with the provider and store the PENDING row
	CreateDeposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (models.Deposit, error)

	// All deposits of the user, newest first
	ListDeposits(ctx context.Context, userID uuid.UUID) ([]models.Deposit, error)

	// Check the user's PENDING deposits against the provider now, return how
	// many got credited during this call
	ReconcileUser(ctx context.Context, userID uuid.UUID) (int, error)

	// Idempotent PENDING -> PAID transition plus atomic credit
	// Has to return apperrors.ErrDepositAlreadyPaid on a duplicate
	// and apperrors.ErrDepositNotFound for an unknown external id
	ConfirmPaid(ctx context.Context, externalID string, path string) (models.Deposit, error)

	// Idempotent PENDING -> FAILED transition, no balance change
	Fail(ctx context.Context, externalID string) (models.Deposit, error)
}

type ledgerService interface {
	// Current account state, created lazily if allowed
	GetBalance(ctx context.Context, userID uuid.UUID) (models.Account, error)

	// Atomic balance adjustment by signed delta
	// Has to return apperrors.ErrBalanceInsufficient when a debit would
	// drive the balance negative
	Adjust(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) (models.Account, error)
}
