package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/raspadinha/raspadinha/internal/apperrors"
	"github.com/raspadinha/raspadinha/internal/handlers/render"
	"github.com/raspadinha/raspadinha/internal/handlers/userctx"
	"github.com/raspadinha/raspadinha/internal/logger"
)

func handleCreateDeposit(deposits depositService, l logger.Logger) http.Handler {
	type request struct {
		Amount decimal.Decimal `json:"amount" validate:"required"`
	}

	type response struct {
		Entity     string `json:"entity"`
		Reference  string `json:"reference"`
		ExternalID string `json:"externalId"`
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

		d, err := deposits.CreateDeposit(r.Context(), userID, req.Amount)

		switch {
		case err == nil:
			render.JSON(w, response{
				Entity:     d.Entity,
				Reference:  d.Reference,
				ExternalID: d.ExternalID,
			})
		case errors.Is(err, apperrors.ErrNegativeAmount):
			render.ServiceError(w, "Amount must be positive", http.StatusUnprocessableEntity)
		default:
			l.Error("Failed to create deposit", "error", err, "user_id", userID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleListDeposits(deposits depositService, l logger.Logger) http.Handler {
	type depositItem struct {
		ExternalID string     `json:"externalId"`
		Amount     float64    `json:"amount"`
		Status     string     `json:"status"`
		Entity     string     `json:"entity"`
		Reference  string     `json:"reference"`
		CreatedAt  time.Time  `json:"created_at"`
		PaidAt     *time.Time `json:"paid_at,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		ds, err := deposits.ListDeposits(r.Context(), userID)
		if err != nil {
			l.Error("Failed to list deposits", "error", err, "user_id", userID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		items := make([]depositItem, 0, len(ds))
		for _, d := range ds {
			amount, _ := d.Amount.Float64()
			items = append(items, depositItem{
				ExternalID: d.ExternalID,
				Amount:     amount,
				Status:     d.Status,
				Entity:     d.Entity,
				Reference:  d.Reference,
				CreatedAt:  d.CreatedAt,
				PaidAt:     d.PaidAt,
			})
		}
		render.JSON(w, items)
	})
}

func handleCheckDeposits(deposits depositService, l logger.Logger) http.Handler {
	type response struct {
		Processed int `json:"processed"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		processed, err := deposits.ReconcileUser(r.Context(), userID)
		if err != nil {
			l.Error("Failed to reconcile deposits", "error", err, "user_id", userID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{Processed: processed})
	})
}
