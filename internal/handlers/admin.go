package handlers

import (
	"errors"
	"net/http"

	"github.com/raspadinha/raspadinha/internal/apperrors"
	"github.com/raspadinha/raspadinha/internal/handlers/render"
	"github.com/raspadinha/raspadinha/internal/logger"
	"github.com/raspadinha/raspadinha/internal/service/deposit"
)

// Manual approval goes through the exact same gated transition the webhook
// uses, so approving a deposit the provider already confirmed is a no-op,
// not a double credit.
func handleApproveDeposit(deposits depositService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		externalID := r.PathValue("externalID")

		d, err := deposits.ConfirmPaid(r.Context(), externalID, deposit.PathManual)

		switch {
		case err == nil:
			l.Info("Deposit approved manually", "external_id", externalID, "user_id", d.UserID)
			render.JSON(w, map[string]string{"status": d.Status})
		case errors.Is(err, apperrors.ErrDepositAlreadyPaid):
			render.JSON(w, map[string]string{"status": d.Status})
		case errors.Is(err, apperrors.ErrDepositAlreadyFailed):
			render.ServiceError(w, "Deposit already failed", http.StatusConflict)
		case errors.Is(err, apperrors.ErrDepositNotFound):
			render.ServiceError(w, "Unknown deposit", http.StatusNotFound)
		default:
			l.Error("Failed to approve deposit", "error", err, "external_id", externalID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleRejectDeposit(deposits depositService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		externalID := r.PathValue("externalID")

		d, err := deposits.Fail(r.Context(), externalID)

		switch {
		case err == nil, errors.Is(err, apperrors.ErrDepositAlreadyFailed):
			l.Info("Deposit rejected", "external_id", externalID)
			render.JSON(w, map[string]string{"status": d.Status})
		case errors.Is(err, apperrors.ErrDepositAlreadyPaid):
			render.ServiceError(w, "Deposit already paid", http.StatusConflict)
		case errors.Is(err, apperrors.ErrDepositNotFound):
			render.ServiceError(w, "Unknown deposit", http.StatusNotFound)
		default:
			l.Error("Failed to reject deposit", "error", err, "external_id", externalID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
