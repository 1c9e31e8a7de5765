package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/opensharehq/pointsledger/internal/apperrors"
	"github.com/opensharehq/pointsledger/internal/models"
	"github.com/opensharehq/pointsledger/internal/repository"
)

type TransactionRepo struct {
	DB DBTX
}

const appendTransaction = `-- name: AppendTransaction
INSERT INTO transactions (id, owner_type, owner_id, type, points, description, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, owner_type, owner_id, type, points, description, created_at
`

const appendTransactionLots = `-- name: AppendTransactionLots
INSERT INTO transaction_lots (transaction_id, lot_id, points)
SELECT $1, unnest($2::uuid[]), unnest($3::bigint[])
`

func (r *TransactionRepo) Append(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	rows, _ := r.DB.Query(ctx, appendTransaction,
		t.ID, t.Owner.Type, t.Owner.ID, t.Type, t.Points, t.Description, t.CreatedAt,
	)
	created, err := pgx.CollectOneRow(rows, rowToTransaction)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}

	if len(t.Lots) > 0 {
		lotIDs := make([]uuid.UUID, 0, len(t.Lots))
		points := make([]int64, 0, len(t.Lots))
		for _, d := range t.Lots {
			lotIDs = append(lotIDs, d.LotID)
			points = append(points, d.Points)
		}

		_, err = r.DB.Exec(ctx, appendTransactionLots, created.ID, lotIDs, points)
		if err != nil {
			return created, fmt.Errorf("db error: %w", err)
		}
	}

	created.Lots = t.Lots
	return created, nil
}

const getTransaction = `-- name: GetTransaction
SELECT id, owner_type, owner_id, type, points, description, created_at
FROM transactions
WHERE id = $1
`

func (r *TransactionRepo) GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, getTransaction, id)
	t, err := pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return t, apperrors.ErrTransactionNotFound
	case err != nil:
		return t, fmt.Errorf("db error: %w", err)
	}

	deltas, err := r.lotDeltas(ctx, []uuid.UUID{t.ID})
	if err != nil {
		return t, err
	}
	t.Lots = deltas[t.ID]

	return t, nil
}

const listTransactions = `-- name: ListTransactions
SELECT t.id, t.owner_type, t.owner_id, t.type, t.points, t.description, t.created_at
FROM transactions t
WHERE t.owner_type = $1 AND t.owner_id = $2
  AND (cardinality($3::text[]) = 0 OR t.type = ANY($3))
  AND ($4::text = '' OR EXISTS (
       SELECT 1
       FROM transaction_lots tl
       JOIN lots l ON l.id = tl.lot_id
       WHERE tl.transaction_id = t.id AND $4 = ANY(l.tags)))
  AND ($5::timestamptz IS NULL OR t.created_at >= $5)
  AND ($6::timestamptz IS NULL OR t.created_at <= $6)
ORDER BY t.created_at DESC, t.id DESC
LIMIT NULLIF($7::int, 0)
`

func (r *TransactionRepo) ListTransactions(ctx context.Context, owner models.Owner, opts repository.ListTransactionsOpts) ([]models.Transaction, error) {
	types := opts.Types
	if types == nil {
		types = []string{}
	}

	rows, _ := r.DB.Query(ctx, listTransactions,
		owner.Type, owner.ID, types, opts.Tag, opts.From, opts.To, opts.Limit,
	)
	transactions, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if len(transactions) == 0 {
		return transactions, nil
	}

	ids := make([]uuid.UUID, 0, len(transactions))
	for _, t := range transactions {
		ids = append(ids, t.ID)
	}
	deltas, err := r.lotDeltas(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range transactions {
		transactions[i].Lots = deltas[transactions[i].ID]
	}

	return transactions, nil
}

const sumPoints = `-- name: SumPoints
SELECT COALESCE(SUM(points), 0)::bigint
FROM transactions
WHERE owner_type = $1 AND owner_id = $2
`

func (r *TransactionRepo) SumPoints(ctx context.Context, owner models.Owner) (int64, error) {
	var total int64
	err := r.DB.QueryRow(ctx, sumPoints, owner.Type, owner.ID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return total, nil
}

// EARN deltas come from lot creation (the lot is the earn), SPEND and
// REVERSAL deltas from the transaction time of their lot pairs.
const tagDailyDeltas = `-- name: TagDailyDeltas
SELECT day, SUM(points)::bigint
FROM (
    SELECT date_trunc('day', l.created_at AT TIME ZONE 'UTC') AS day,
           l.initial_points AS points
    FROM lots l
    WHERE l.owner_type = $1 AND l.owner_id = $2
      AND $3 = ANY(l.tags) AND l.created_at >= $4

    UNION ALL

    SELECT date_trunc('day', t.created_at AT TIME ZONE 'UTC') AS day,
           CASE WHEN t.type = 'SPEND' THEN -tl.points ELSE tl.points END AS points
    FROM transactions t
    JOIN transaction_lots tl ON tl.transaction_id = t.id
    JOIN lots l ON l.id = tl.lot_id
    WHERE t.owner_type = $1 AND t.owner_id = $2 AND t.type <> 'EARN'
      AND $3 = ANY(l.tags) AND t.created_at >= $4
) deltas
GROUP BY day
ORDER BY day
`

func (r *TransactionRepo) TagDailyDeltas(ctx context.Context, owner models.Owner, tag string, since time.Time) ([]repository.DayDelta, error) {
	rows, _ := r.DB.Query(ctx, tagDailyDeltas, owner.Type, owner.ID, tag, since)

	var deltas []repository.DayDelta
	var d repository.DayDelta
	_, err := pgx.ForEachRow(rows, []any{&d.Day, &d.Points}, func() error {
		d.Day = time.Date(d.Day.Year(), d.Day.Month(), d.Day.Day(), 0, 0, 0, 0, time.UTC)
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return deltas, nil
}

const lotDeltasByTransaction = `-- name: LotDeltasByTransaction
SELECT transaction_id, lot_id, points
FROM transaction_lots
WHERE transaction_id = ANY($1::uuid[])
ORDER BY lot_id
`

func (r *TransactionRepo) lotDeltas(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]models.LotDelta, error) {
	rows, _ := r.DB.Query(ctx, lotDeltasByTransaction, ids)

	deltas := make(map[uuid.UUID][]models.LotDelta, len(ids))
	var txID, lotID uuid.UUID
	var points int64
	_, err := pgx.ForEachRow(rows, []any{&txID, &lotID, &points}, func() error {
		deltas[txID] = append(deltas[txID], models.LotDelta{LotID: lotID, Points: points})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return deltas, nil
}

func rowToTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.Owner.Type, &t.Owner.ID, &t.Type, &t.Points, &t.Description, &t.CreatedAt)
	return t, err
}
