package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	WithdrawalPending   = "PENDING"
	WithdrawalApproved  = "APPROVED"
	WithdrawalRejected  = "REJECTED"
	WithdrawalCancelled = "CANCELLED"
	WithdrawalCompleted = "COMPLETED"
)

// WithdrawalTerminal reports whether no further transition is allowed.
func WithdrawalTerminal(status string) bool {
	switch status {
	case WithdrawalRejected, WithdrawalCancelled, WithdrawalCompleted:
		return true
	}
	return false
}

// PayoutDetails is the bank payout destination attached to a withdrawal.
type PayoutDetails struct {
	RealName    string
	IDNumber    string
	Phone       string
	BankName    string
	BankAccount string
}

// WithdrawalRequest reserves points by debiting them at submission.
// TransactionID references the reserving SPEND transaction so a
// cancellation can credit back exactly the same lot deltas.
type WithdrawalRequest struct {
	ID     uuid.UUID
	Owner  Owner
	Points int64

	Payout PayoutDetails

	Status        string
	AdminNote     string
	TransactionID uuid.UUID
	ProcessedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
