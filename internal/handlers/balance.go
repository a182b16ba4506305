package handlers

import (
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/raspadinha/raspadinha/internal/apperrors"
	"github.com/raspadinha/raspadinha/internal/handlers/render"
	"github.com/raspadinha/raspadinha/internal/handlers/userctx"
	"github.com/raspadinha/raspadinha/internal/logger"
)

func handleBalance(ledger ledgerService, l logger.Logger) http.Handler {
	type response struct {
		Balance  float64 `json:"balance"`
		Verified bool    `json:"verified"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		account, err := ledger.GetBalance(r.Context(), userID)

		switch {
		case err == nil:
			balance, _ := account.Balance.Float64()
			render.JSON(w, response{Balance: balance, Verified: account.Verified})
		case errors.Is(err, apperrors.ErrAccountNotFound):
			render.ServiceError(w, "Account not found", http.StatusNotFound)
		default:
			l.Error("Failed to get balance", "error", err, "user_id", userID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

// handleSpend debits the balance for a game play. The debit goes through the
// same atomic adjustment as every other ledger change, so racing a concurrent
// deposit credit can't lose either update.
func handleSpend(ledger ledgerService, l logger.Logger) http.Handler {
	type request struct {
		Amount decimal.Decimal `json:"amount" validate:"required"`
	}

	type response struct {
		Balance float64 `json:"balance"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if !req.Amount.IsPositive() {
			render.ServiceError(w, "Amount must be positive", http.StatusUnprocessableEntity)
			return
		}

		account, err := ledger.Adjust(r.Context(), userID, req.Amount.Neg())

		switch {
		case err == nil:
			balance, _ := account.Balance.Float64()
			render.JSON(w, response{Balance: balance})
		case errors.Is(err, apperrors.ErrBalanceInsufficient):
			render.ServiceError(w, "Insufficient balance", http.StatusPaymentRequired)
		case errors.Is(err, apperrors.ErrAccountNotFound):
			render.ServiceError(w, "Account not found", http.StatusNotFound)
		default:
			l.Error("Failed to spend", "error", err, "user_id", userID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
