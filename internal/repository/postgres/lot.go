package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/opensharehq/pointsledger/internal/apperrors"
	"github.com/opensharehq/pointsledger/internal/models"
)

type LotRepo struct {
	DB DBTX
}

const createLot = `-- name: CreateLot
INSERT INTO lots (id, owner_type, owner_id, initial_points, remaining_points, tags, reason, reference_id, expires_at, created_at)
VALUES ($1, $2, $3, $4, $4, $5, $6, $7, $8, $9)
RETURNING id, owner_type, owner_id, initial_points, remaining_points, tags, reason, reference_id, expires_at, created_at
`

func (r *LotRepo) CreateLot(ctx context.Context, lot models.Lot) (models.Lot, error) {
	if lot.ID == uuid.Nil {
		lot.ID = uuid.New()
	}
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = time.Now()
	}
	if lot.Tags == nil {
		lot.Tags = []string{}
	}

	rows, _ := r.DB.Query(ctx, createLot,
		lot.ID, lot.Owner.Type, lot.Owner.ID, lot.InitialPoints,
		lot.Tags, lot.Reason, lot.ReferenceID, lot.ExpiresAt, lot.CreatedAt,
	)
	created, err := pgx.CollectOneRow(rows, rowToLot)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
			return created, fmt.Errorf("%w: initial points must be positive", apperrors.ErrInvalidAmount)
		}
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getLot = `-- name: GetLot
SELECT id, owner_type, owner_id, initial_points, remaining_points, tags, reason, reference_id, expires_at, created_at
FROM lots
WHERE id = $1
`

func (r *LotRepo) GetLot(ctx context.Context, id uuid.UUID) (models.Lot, error) {
	rows, _ := r.DB.Query(ctx, getLot, id)
	lot, err := pgx.CollectOneRow(rows, rowToLot)

	switch {
	case err == nil:
		return lot, nil
	case errors.Is(err, pgx.ErrNoRows):
		return lot, apperrors.ErrLotNotFound
	default:
		return lot, fmt.Errorf("db error: %w", err)
	}
}

// Locks the selected rows until the surrounding transaction ends. The fixed
// (created_at, id) order keeps concurrent spenders acquiring locks in the
// same sequence, which rules out lock cycles between them.
const listEligibleForUpdate = `-- name: ListEligibleForUpdate
SELECT id, owner_type, owner_id, initial_points, remaining_points, tags, reason, reference_id, expires_at, created_at
FROM lots
WHERE owner_type = $1 AND owner_id = $2
  AND remaining_points > 0
  AND (expires_at IS NULL OR expires_at > $3)
  AND ($4::text = '' OR $4 = ANY(tags))
ORDER BY created_at, id
FOR UPDATE
`

func (r *LotRepo) ListEligibleForUpdate(ctx context.Context, owner models.Owner, tag string, now time.Time) ([]models.Lot, error) {
	rows, _ := r.DB.Query(ctx, listEligibleForUpdate, owner.Type, owner.ID, now, tag)
	lots, err := pgx.CollectRows(rows, rowToLot)
	if err != nil {
		return nil, mapContention(fmt.Errorf("db error: %w", err))
	}

	return lots, nil
}

const debitLot = `-- name: DebitLot
UPDATE lots
SET remaining_points = remaining_points - $2
WHERE id = $1 AND remaining_points >= $2
RETURNING remaining_points
`

func (r *LotRepo) DebitLot(ctx context.Context, id uuid.UUID, points int64) (int64, error) {
	if points <= 0 {
		return 0, apperrors.ErrInvalidAmount
	}

	var remaining int64
	err := r.DB.QueryRow(ctx, debitLot, id, points).Scan(&remaining)

	switch {
	case err == nil:
		return remaining, nil
	case errors.Is(err, pgx.ErrNoRows):
		return 0, r.explainMissedUpdate(ctx, id, apperrors.ErrInsufficientLotBalance)
	default:
		return 0, mapContention(fmt.Errorf("db error: %w", err))
	}
}

const creditLot = `-- name: CreditLot
UPDATE lots
SET remaining_points = remaining_points + $2
WHERE id = $1 AND remaining_points + $2 <= initial_points
RETURNING remaining_points
`

func (r *LotRepo) CreditLot(ctx context.Context, id uuid.UUID, points int64) (int64, error) {
	if points <= 0 {
		return 0, apperrors.ErrInvalidAmount
	}

	var remaining int64
	err := r.DB.QueryRow(ctx, creditLot, id, points).Scan(&remaining)

	switch {
	case err == nil:
		return remaining, nil
	case errors.Is(err, pgx.ErrNoRows):
		return 0, r.explainMissedUpdate(ctx, id, apperrors.ErrOverCredit)
	default:
		return 0, mapContention(fmt.Errorf("db error: %w", err))
	}
}

// A guarded update that touched no row either lost to the guard condition or
// referenced a lot that doesn't exist. Tell those apart for the caller.
func (r *LotRepo) explainMissedUpdate(ctx context.Context, id uuid.UUID, guardErr error) error {
	_, err := r.GetLot(ctx, id)
	if errors.Is(err, apperrors.ErrLotNotFound) {
		return apperrors.ErrLotNotFound
	}
	return guardErr
}

const totalBalance = `-- name: TotalBalance
SELECT COALESCE(SUM(remaining_points), 0)::bigint
FROM lots
WHERE owner_type = $1 AND owner_id = $2
`

func (r *LotRepo) TotalBalance(ctx context.Context, owner models.Owner) (int64, error) {
	var total int64
	err := r.DB.QueryRow(ctx, totalBalance, owner.Type, owner.ID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return total, nil
}

const availableBalance = `-- name: AvailableBalance
SELECT COALESCE(SUM(remaining_points), 0)::bigint
FROM lots
WHERE owner_type = $1 AND owner_id = $2
  AND remaining_points > 0
  AND (expires_at IS NULL OR expires_at > $3)
  AND ($4::text = '' OR $4 = ANY(tags))
`

func (r *LotRepo) AvailableBalance(ctx context.Context, owner models.Owner, tag string, now time.Time) (int64, error) {
	var total int64
	err := r.DB.QueryRow(ctx, availableBalance, owner.Type, owner.ID, now, tag).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return total, nil
}

const balanceByTag = `-- name: BalanceByTag
SELECT tag, SUM(remaining_points)::bigint
FROM lots, unnest(tags) AS tag
WHERE owner_type = $1 AND owner_id = $2 AND remaining_points > 0
GROUP BY tag
`

func (r *LotRepo) BalanceByTag(ctx context.Context, owner models.Owner) (map[string]int64, error) {
	rows, _ := r.DB.Query(ctx, balanceByTag, owner.Type, owner.ID)

	byTag := make(map[string]int64)
	var tag string
	var points int64
	_, err := pgx.ForEachRow(rows, []any{&tag, &points}, func() error {
		byTag[tag] = points
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return byTag, nil
}

func rowToLot(row pgx.CollectableRow) (models.Lot, error) {
	var l models.Lot
	err := row.Scan(
		&l.ID, &l.Owner.Type, &l.Owner.ID, &l.InitialPoints, &l.RemainingPoints,
		&l.Tags, &l.Reason, &l.ReferenceID, &l.ExpiresAt, &l.CreatedAt,
	)
	return l, err
}
