package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ContractPending = "PENDING"
	ContractSigned  = "SIGNED"
	ContractRevoked = "REVOKED"
)

const (
	// ContractSourceCallback means the signature provider reported completion.
	ContractSourceCallback = "CALLBACK"

	// ContractSourceAdmin means an operator marked the contract signed.
	ContractSourceAdmin = "ADMIN"
)

// WithdrawalContract tracks the identity-verification signature that gates
// withdrawal completion. One per owner.
type WithdrawalContract struct {
	ID    uuid.UUID
	Owner Owner

	Status string

	// FlowID identifies the signing flow at the external provider.
	// Callbacks reference it to mark the contract signed.
	FlowID  string
	SignURL string

	SignedAt         *time.Time
	CompletionSource string

	CreatedAt time.Time
	UpdatedAt time.Time
}
