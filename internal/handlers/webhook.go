package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/raspadinha/raspadinha/internal/apperrors"
	"github.com/raspadinha/raspadinha/internal/handlers/render"
	"github.com/raspadinha/raspadinha/internal/logger"
	"github.com/raspadinha/raspadinha/internal/metrics"
	"github.com/raspadinha/raspadinha/internal/service/deposit"
	"github.com/raspadinha/raspadinha/internal/service/gateway"
)

// Header the provider sends the body signature in
const signatureHeader = "X-Plinq-Signature"

// handleWebhook processes provider payment notifications. Order matters:
// authenticate the raw bytes first, look nothing up and mutate nothing on a
// bad signature, and only acknowledge with 200 once the transition is
// durably committed, so the provider's retry logic does the right thing.
func handleWebhook(deposits depositService, secret string, l logger.Logger) http.Handler {
	type notification struct {
		ExternalID string `json:"externalId"`
		// Some provider payload versions name the field differently
		ExternID string      `json:"externId"`
		Amount   json.Number `json:"amount"`
		Status   string      `json:"status"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The MAC covers the exact bytes on the wire. Re-serialized or
		// reordered JSON would verify against nothing the provider signed.
		body, err := io.ReadAll(r.Body)
		if err != nil {
			render.ServiceError(w, "Can't read request body", http.StatusBadRequest)
			return
		}

		if err := verifySignature(body, r.Header.Get(signatureHeader), secret); err != nil {
			metrics.WebhookNotifications.WithLabelValues(metrics.OutcomeBadSignature).Inc()
			l.Warn("Webhook signature rejected", "error", err)
			render.ServiceError(w, "Invalid signature", http.StatusUnauthorized)
			return
		}

		var n notification
		if err := json.Unmarshal(body, &n); err != nil {
			render.DecodeError(w, err)
			return
		}

		externalID := n.ExternalID
		if externalID == "" {
			externalID = n.ExternID
		}
		if externalID == "" {
			render.ServiceError(w, "Missing external id", http.StatusBadRequest)
			return
		}

		switch {
		case gateway.PaidStatus(n.Status):
			handlePaidNotification(w, r, deposits, externalID, l)

		case gateway.FailedStatus(n.Status):
			handleFailedNotification(w, r, deposits, externalID, l)

		default:
			// Intermediate provider state: acknowledge and wait for the
			// terminal notification.
			metrics.WebhookNotifications.WithLabelValues(metrics.OutcomeIgnored).Inc()
			render.JSON(w, map[string]string{"message": "ignored"})
		}
	})
}

func handlePaidNotification(w http.ResponseWriter, r *http.Request, deposits depositService, externalID string, l logger.Logger) {
	_, err := deposits.ConfirmPaid(r.Context(), externalID, deposit.PathWebhook)

	switch {
	case err == nil:
		metrics.WebhookNotifications.WithLabelValues(metrics.OutcomeProcessed).Inc()
		render.JSON(w, map[string]string{"message": "processed"})
	case errors.Is(err, apperrors.ErrDepositAlreadyPaid):
		// Duplicate delivery is expected, a safe no-op, and still a 200 so
		// the provider stops retrying.
		metrics.WebhookNotifications.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		render.JSON(w, map[string]string{"message": "already processed"})
	case errors.Is(err, apperrors.ErrDepositAlreadyFailed):
		// The deposit was already rejected on our side. The state is terminal,
		// so a retry can never change the outcome; acknowledge with 200 and
		// leave the discrepancy to an operator.
		metrics.WebhookNotifications.WithLabelValues(metrics.OutcomeConflict).Inc()
		l.Error("Paid notification for a rejected deposit", "external_id", externalID)
		render.JSON(w, map[string]string{"message": "conflict"})
	case errors.Is(err, apperrors.ErrDepositNotFound):
		metrics.WebhookNotifications.WithLabelValues(metrics.OutcomeUnknown).Inc()
		l.Warn("Webhook for unknown deposit", "external_id", externalID)
		render.ServiceError(w, "Unknown deposit", http.StatusNotFound)
	default:
		// Not committed. Anything but 200 makes the provider retry later.
		metrics.WebhookNotifications.WithLabelValues(metrics.OutcomeError).Inc()
		l.Error("Failed to process webhook", "error", err, "external_id", externalID)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func handleFailedNotification(w http.ResponseWriter, r *http.Request, deposits depositService, externalID string, l logger.Logger) {
	_, err := deposits.Fail(r.Context(), externalID)

	switch {
	case err == nil,
		errors.Is(err, apperrors.ErrDepositAlreadyFailed),
		errors.Is(err, apperrors.ErrDepositAlreadyPaid):
		// A deposit that was already credited stays credited: a late failure
		// notification never claws money back.
		metrics.WebhookNotifications.WithLabelValues(metrics.OutcomeProcessed).Inc()
		render.JSON(w, map[string]string{"message": "processed"})
	case errors.Is(err, apperrors.ErrDepositNotFound):
		metrics.WebhookNotifications.WithLabelValues(metrics.OutcomeUnknown).Inc()
		render.ServiceError(w, "Unknown deposit", http.StatusNotFound)
	default:
		metrics.WebhookNotifications.WithLabelValues(metrics.OutcomeError).Inc()
		l.Error("Failed to process webhook", "error", err, "external_id", externalID)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// verifySignature checks the base64 HMAC-SHA256 of the raw body in constant
// time.
func verifySignature(body []byte, signature string, secret string) error {
	if signature == "" {
		return apperrors.ErrBadSignature
	}

	provided, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return apperrors.ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	if !hmac.Equal(provided, mac.Sum(nil)) {
		return apperrors.ErrBadSignature
	}

	return nil
}
