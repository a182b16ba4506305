package notify

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Channel is the redis pub/sub channel carrying ledger balance changes.
// Every service instance subscribes, so a webhook landing on one instance
// still reaches a websocket held by another.
const Channel = "balance_updates"

// BalanceEvent is the authoritative balance after a committed ledger
// adjustment. Observers overwrite their local value with it, never merge.
type BalanceEvent struct {
	UserID  uuid.UUID       `json:"userId"`
	Balance decimal.Decimal `json:"balance"`
}
