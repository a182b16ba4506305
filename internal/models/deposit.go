package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DepositStatusPending = "PENDING"
	DepositStatusPaid    = "PAID"
	DepositStatusFailed  = "FAILED"
)

// Deposit tracks one attempted external payment into a user's balance.
// PAID and FAILED are terminal: once reached, the row never changes again.
type Deposit struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	ExternalID string
	Amount     decimal.Decimal
	Status     string
	Entity     string
	Reference  string
	CreatedAt  time.Time
	PaidAt     *time.Time
}

// Terminal reports whether the deposit reached a final status.
func (d Deposit) Terminal() bool {
	return d.Status == DepositStatusPaid || d.Status == DepositStatusFailed
}
