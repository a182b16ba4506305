package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook notification outcomes.
const (
	OutcomeProcessed    = "processed"
	OutcomeDuplicate    = "duplicate"
	OutcomeIgnored      = "ignored"
	OutcomeBadSignature = "bad_signature"
	OutcomeUnknown      = "unknown_deposit"
	OutcomeConflict     = "conflict"
	OutcomeError        = "error"
)

var (
	WebhookNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raspadinha_webhook_notifications_total",
		Help: "Provider webhook notifications by processing outcome",
	}, []string{"outcome"})

	DepositsCredited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raspadinha_deposits_credited_total",
		Help: "Deposits transitioned to PAID and credited, by discovery path",
	}, []string{"path"})

	BalanceAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raspadinha_balance_adjustments_total",
		Help: "Atomic balance adjustments by result",
	}, []string{"result"})
)
