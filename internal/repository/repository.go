package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opensharehq/pointsledger/internal/models"
)

// Lot repository interface
// All balance mutations are single row atomic updates, the callers never
// read-then-write lot balances outside of them.
type LotRepo interface {
	// Create lot with initial and remaining points equal
	CreateLot(ctx context.Context, lot models.Lot) (models.Lot, error)

	// Get lot by id
	// If lot not found must return apperrors.ErrLotNotFound
	GetLot(ctx context.Context, id uuid.UUID) (models.Lot, error)

	// List lots eligible for consumption: remaining points > 0, not expired
	// at 'now', optionally filtered by tag. Rows are locked FOR UPDATE and
	// ordered by created_at then id so concurrent spenders acquire locks in
	// the same order and cannot deadlock each other.
	ListEligibleForUpdate(ctx context.Context, owner models.Owner, tag string, now time.Time) ([]models.Lot, error)

	// Atomically decrement remaining points
	// Must return apperrors.ErrInsufficientLotBalance if points exceed the
	// current remaining amount, leaving the lot untouched
	DebitLot(ctx context.Context, id uuid.UUID, points int64) (remaining int64, err error)

	// Atomically increment remaining points, never above initial points
	// Must return apperrors.ErrOverCredit if the credit would not fit
	CreditLot(ctx context.Context, id uuid.UUID, points int64) (remaining int64, err error)

	// Sum of remaining points over all owner lots
	TotalBalance(ctx context.Context, owner models.Owner) (int64, error)

	// Sum of remaining points available for spending: unexpired lots only,
	// optionally restricted to lots carrying the tag
	AvailableBalance(ctx context.Context, owner models.Owner, tag string, now time.Time) (int64, error)

	// Remaining points grouped by tag. A lot contributes its full remaining
	// amount to every tag it carries, so the totals may overlap.
	BalanceByTag(ctx context.Context, owner models.Owner) (map[string]int64, error)
}

// Options to filter the transaction list
type ListTransactionsOpts struct {
	// Transaction types to include, empty means all
	Types []string

	// Only transactions touching lots that carry the tag
	Tag string

	// Inclusive date range
	From *time.Time
	To   *time.Time

	Limit int
}

// DayDelta is the net ledger change of a single day
type DayDelta struct {
	Day    time.Time
	Points int64
}

// Transaction log interface. Append only: there is no update or delete.
type TransactionRepo interface {
	// Append transaction with its lot deltas
	Append(ctx context.Context, t models.Transaction) (models.Transaction, error)

	// Get transaction by id including lot deltas
	// If not found must return apperrors.ErrTransactionNotFound
	GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error)

	// List owner transactions in reverse chronological order
	ListTransactions(ctx context.Context, owner models.Owner, opts ListTransactionsOpts) ([]models.Transaction, error)

	// Signed sum of all owner transaction points. Equals the owner's total
	// lot balance whenever no operation is in flight (conservation law).
	SumPoints(ctx context.Context, owner models.Owner) (int64, error)

	// Net daily deltas for lots carrying the tag, from 'since' onward.
	// EARN amounts are dated by lot creation, SPEND and REVERSAL amounts by
	// transaction time. Days are UTC midnights sorted ascending.
	TagDailyDeltas(ctx context.Context, owner models.Owner, tag string, since time.Time) ([]DayDelta, error)
}

// Withdrawal request repository interface
type WithdrawalRepo interface {
	CreateWithdrawal(ctx context.Context, w models.WithdrawalRequest) (models.WithdrawalRequest, error)

	// Get withdrawal by id
	// If not found must return apperrors.ErrWithdrawalNotFound
	GetWithdrawal(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error)

	// Same but locks the row until the surrounding transaction ends, so a
	// state transition can't race a concurrent one
	GetWithdrawalForUpdate(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error)

	ListWithdrawals(ctx context.Context, owner models.Owner, statuses []string) ([]models.WithdrawalRequest, error)

	// Persist a status transition; note and processedAt are optional
	SetWithdrawalStatus(ctx context.Context, id uuid.UUID, status string, note string, processedAt *time.Time) (models.WithdrawalRequest, error)
}

// Withdrawal contract repository interface
type ContractRepo interface {
	CreateContract(ctx context.Context, c models.WithdrawalContract) (models.WithdrawalContract, error)

	// Get contract of the owner
	// If not found must return apperrors.ErrContractNotFound
	GetContractByOwner(ctx context.Context, owner models.Owner) (models.WithdrawalContract, error)

	// Mark the contract matching flowID as signed
	// If no contract matches must return apperrors.ErrUnknownFlow
	MarkContractSigned(ctx context.Context, flowID string, source string, signedAt time.Time) (models.WithdrawalContract, error)

	// Transition the owner's contract to REVOKED
	SetContractStatus(ctx context.Context, id uuid.UUID, status string) (models.WithdrawalContract, error)
}

// Storage aggregates the repositories and runs them inside one db transaction
type Storage interface {
	Lot() LotRepo
	Transaction() TransactionRepo
	Withdrawal() WithdrawalRepo
	Contract() ContractRepo

	// InTx runs fn with a Storage bound to a single database transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(Storage) error) error
}
