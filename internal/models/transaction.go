package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	// TransactionEarn credits the owner by creating a new lot.
	TransactionEarn = "EARN"

	// TransactionSpend debits one or more lots, oldest first.
	TransactionSpend = "SPEND"

	// TransactionReversal restores points to previously debited lots.
	// Recorded when a withdrawal reservation is cancelled or rejected;
	// it offsets the reserving SPEND so the ledger sum still matches the
	// lot balances without rewriting history.
	TransactionReversal = "REVERSAL"
)

// LotDelta is one (lot, points) pair a transaction applied.
type LotDelta struct {
	LotID  uuid.UUID
	Points int64
}

// Transaction is an immutable ledger entry. Points is the signed total:
// positive for EARN and REVERSAL, negative for SPEND. The magnitude always
// equals the sum of the lot deltas.
type Transaction struct {
	ID          uuid.UUID
	Owner       Owner
	Type        string
	Points      int64
	Description string
	Lots        []LotDelta
	CreatedAt   time.Time
}
