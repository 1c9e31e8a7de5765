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

type ContractRepo struct {
	DB DBTX
}

const createContract = `-- name: CreateContract
INSERT INTO withdrawal_contracts (id, owner_type, owner_id, status, flow_id, sign_url, completion_source, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
RETURNING id, owner_type, owner_id, status, flow_id, sign_url, signed_at, completion_source, created_at, updated_at
`

func (r *ContractRepo) CreateContract(ctx context.Context, c models.WithdrawalContract) (models.WithdrawalContract, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = models.ContractPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	rows, _ := r.DB.Query(ctx, createContract,
		c.ID, c.Owner.Type, c.Owner.ID, c.Status, c.FlowID, c.SignURL, c.CompletionSource, c.CreatedAt,
	)
	created, err := pgx.CollectOneRow(rows, rowToContract)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return created, fmt.Errorf("owner contract already exists: %w", err)
		}
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getContractByOwner = `-- name: GetContractByOwner
SELECT id, owner_type, owner_id, status, flow_id, sign_url, signed_at, completion_source, created_at, updated_at
FROM withdrawal_contracts
WHERE owner_type = $1 AND owner_id = $2
`

func (r *ContractRepo) GetContractByOwner(ctx context.Context, owner models.Owner) (models.WithdrawalContract, error) {
	rows, _ := r.DB.Query(ctx, getContractByOwner, owner.Type, owner.ID)
	c, err := pgx.CollectOneRow(rows, rowToContract)

	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, pgx.ErrNoRows):
		return c, apperrors.ErrContractNotFound
	default:
		return c, fmt.Errorf("db error: %w", err)
	}
}

// Signing is idempotent for an already signed contract: the first callback
// wins and later duplicates return the stored row unchanged.
const markContractSigned = `-- name: MarkContractSigned
UPDATE withdrawal_contracts
SET status = $4,
    signed_at = COALESCE(signed_at, $2),
    completion_source = CASE WHEN status = $4 THEN completion_source ELSE $3 END,
    updated_at = now()
WHERE flow_id = $1
RETURNING id, owner_type, owner_id, status, flow_id, sign_url, signed_at, completion_source, created_at, updated_at
`

func (r *ContractRepo) MarkContractSigned(ctx context.Context, flowID string, source string, signedAt time.Time) (models.WithdrawalContract, error) {
	rows, _ := r.DB.Query(ctx, markContractSigned, flowID, signedAt, source, models.ContractSigned)
	c, err := pgx.CollectOneRow(rows, rowToContract)

	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, pgx.ErrNoRows):
		return c, apperrors.ErrUnknownFlow
	default:
		return c, fmt.Errorf("db error: %w", err)
	}
}

const setContractStatus = `-- name: SetContractStatus
UPDATE withdrawal_contracts
SET status = $2, updated_at = now()
WHERE id = $1
RETURNING id, owner_type, owner_id, status, flow_id, sign_url, signed_at, completion_source, created_at, updated_at
`

func (r *ContractRepo) SetContractStatus(ctx context.Context, id uuid.UUID, status string) (models.WithdrawalContract, error) {
	rows, _ := r.DB.Query(ctx, setContractStatus, id, status)
	c, err := pgx.CollectOneRow(rows, rowToContract)

	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, pgx.ErrNoRows):
		return c, apperrors.ErrContractNotFound
	default:
		return c, fmt.Errorf("db error: %w", err)
	}
}

func rowToContract(row pgx.CollectableRow) (models.WithdrawalContract, error) {
	var c models.WithdrawalContract
	err := row.Scan(
		&c.ID, &c.Owner.Type, &c.Owner.ID, &c.Status, &c.FlowID, &c.SignURL,
		&c.SignedAt, &c.CompletionSource, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}
