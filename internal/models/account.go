package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account holds the authoritative balance for a single user.
// The id matches the user id issued by the external auth collaborator;
// accounts are created lazily on first sight.
type Account struct {
	ID        uuid.UUID
	Balance   decimal.Decimal
	Verified  bool
	CreatedAt time.Time
}
