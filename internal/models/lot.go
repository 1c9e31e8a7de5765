package models

import (
	"time"

	"github.com/google/uuid"
)

// Lot is a discrete grant of points with its own remaining balance.
// Spending always debits whole or partial lots; an exhausted lot stays
// in the database with remaining points zero for audit history.
type Lot struct {
	ID    uuid.UUID
	Owner Owner

	// InitialPoints is immutable after creation.
	// RemainingPoints never exceeds it and never goes below zero.
	InitialPoints   int64
	RemainingPoints int64

	Tags        []string
	Reason      string
	ReferenceID string

	// ExpiresAt, when set, excludes the lot from consumption after that time.
	ExpiresAt *time.Time

	// CreatedAt is the consumption order key (oldest lot is debited first).
	CreatedAt time.Time
}

func (l Lot) Exhausted() bool {
	return l.RemainingPoints == 0
}

func (l Lot) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

func (l Lot) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
