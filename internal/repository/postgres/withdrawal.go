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
)

type WithdrawalRepo struct {
	DB DBTX
}

const createWithdrawal = `-- name: CreateWithdrawal
INSERT INTO withdrawal_requests (
    id, owner_type, owner_id, points,
    real_name, id_number, phone, bank_name, bank_account,
    status, admin_note, transaction_id, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
RETURNING id, owner_type, owner_id, points, real_name, id_number, phone, bank_name, bank_account,
          status, admin_note, transaction_id, processed_at, created_at, updated_at
`

func (r *WithdrawalRepo) CreateWithdrawal(ctx context.Context, w models.WithdrawalRequest) (models.WithdrawalRequest, error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Status == "" {
		w.Status = models.WithdrawalPending
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}

	rows, _ := r.DB.Query(ctx, createWithdrawal,
		w.ID, w.Owner.Type, w.Owner.ID, w.Points,
		w.Payout.RealName, w.Payout.IDNumber, w.Payout.Phone, w.Payout.BankName, w.Payout.BankAccount,
		w.Status, w.AdminNote, w.TransactionID, w.CreatedAt,
	)
	created, err := pgx.CollectOneRow(rows, rowToWithdrawal)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getWithdrawal = `-- name: GetWithdrawal
SELECT id, owner_type, owner_id, points, real_name, id_number, phone, bank_name, bank_account,
       status, admin_note, transaction_id, processed_at, created_at, updated_at
FROM withdrawal_requests
WHERE id = $1
`

func (r *WithdrawalRepo) GetWithdrawal(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	return r.getOne(ctx, getWithdrawal, id)
}

const getWithdrawalForUpdate = getWithdrawal + `FOR UPDATE
`

func (r *WithdrawalRepo) GetWithdrawalForUpdate(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	return r.getOne(ctx, getWithdrawalForUpdate, id)
}

func (r *WithdrawalRepo) getOne(ctx context.Context, query string, id uuid.UUID) (models.WithdrawalRequest, error) {
	rows, _ := r.DB.Query(ctx, query, id)
	w, err := pgx.CollectOneRow(rows, rowToWithdrawal)

	switch {
	case err == nil:
		return w, nil
	case errors.Is(err, pgx.ErrNoRows):
		return w, apperrors.ErrWithdrawalNotFound
	default:
		return w, mapContention(fmt.Errorf("db error: %w", err))
	}
}

const listWithdrawals = `-- name: ListWithdrawals
SELECT id, owner_type, owner_id, points, real_name, id_number, phone, bank_name, bank_account,
       status, admin_note, transaction_id, processed_at, created_at, updated_at
FROM withdrawal_requests
WHERE owner_type = $1 AND owner_id = $2
  AND (cardinality($3::text[]) = 0 OR status = ANY($3))
ORDER BY created_at DESC, id DESC
`

func (r *WithdrawalRepo) ListWithdrawals(ctx context.Context, owner models.Owner, statuses []string) ([]models.WithdrawalRequest, error) {
	if statuses == nil {
		statuses = []string{}
	}

	rows, _ := r.DB.Query(ctx, listWithdrawals, owner.Type, owner.ID, statuses)
	withdrawals, err := pgx.CollectRows(rows, rowToWithdrawal)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return withdrawals, nil
}

const setWithdrawalStatus = `-- name: SetWithdrawalStatus
UPDATE withdrawal_requests
SET status = $2,
    admin_note = CASE WHEN $3 = '' THEN admin_note ELSE $3 END,
    processed_at = COALESCE($4, processed_at),
    updated_at = now()
WHERE id = $1
RETURNING id, owner_type, owner_id, points, real_name, id_number, phone, bank_name, bank_account,
          status, admin_note, transaction_id, processed_at, created_at, updated_at
`

func (r *WithdrawalRepo) SetWithdrawalStatus(ctx context.Context, id uuid.UUID, status string, note string, processedAt *time.Time) (models.WithdrawalRequest, error) {
	rows, _ := r.DB.Query(ctx, setWithdrawalStatus, id, status, note, processedAt)
	w, err := pgx.CollectOneRow(rows, rowToWithdrawal)

	switch {
	case err == nil:
		return w, nil
	case errors.Is(err, pgx.ErrNoRows):
		return w, apperrors.ErrWithdrawalNotFound
	default:
		return w, fmt.Errorf("db error: %w", err)
	}
}

func rowToWithdrawal(row pgx.CollectableRow) (models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := row.Scan(
		&w.ID, &w.Owner.Type, &w.Owner.ID, &w.Points,
		&w.Payout.RealName, &w.Payout.IDNumber, &w.Payout.Phone, &w.Payout.BankName, &w.Payout.BankAccount,
		&w.Status, &w.AdminNote, &w.TransactionID, &w.ProcessedAt, &w.CreatedAt, &w.UpdatedAt,
	)
	return w, err
}
