package models

import (
	"github.com/google/uuid"
)

const (
	OwnerTypeUser = "user"
	OwnerTypeOrg  = "org"
)

// Owner is the principal every ledger record belongs to.
// Lots and transactions are never shared between owners.
type Owner struct {
	Type string
	ID   uuid.UUID
}

func UserOwner(id uuid.UUID) Owner {
	return Owner{Type: OwnerTypeUser, ID: id}
}

func OrgOwner(id uuid.UUID) Owner {
	return Owner{Type: OwnerTypeOrg, ID: id}
}
