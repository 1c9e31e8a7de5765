package ledger

import (
	"sort"

	"github.com/opensharehq/pointsledger/internal/apperrors"
	"github.com/opensharehq/pointsledger/internal/models"
)

// planDebits selects the lot debits that satisfy amount, oldest lot first
// with lot id as the tie break. The plan is computed before any mutation:
// when the lots can't cover the amount it returns ErrInsufficientBalance
// and the caller performs zero debits.
func planDebits(lots []models.Lot, amount int64) ([]models.LotDelta, error) {
	if amount <= 0 {
		return nil, apperrors.ErrInvalidAmount
	}

	ordered := make([]models.Lot, len(lots))
	copy(ordered, lots)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID.String() < ordered[j].ID.String()
	})

	var plan []models.LotDelta
	needed := amount

	for _, lot := range ordered {
		if needed == 0 {
			break
		}
		if lot.RemainingPoints <= 0 {
			continue
		}

		take := min(lot.RemainingPoints, needed)
		plan = append(plan, models.LotDelta{LotID: lot.ID, Points: take})
		needed -= take
	}

	if needed > 0 {
		return nil, apperrors.ErrInsufficientBalance
	}

	return plan, nil
}
