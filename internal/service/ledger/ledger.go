package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensharehq/pointsledger/internal/apperrors"
	"github.com/opensharehq/pointsledger/internal/logger"
	"github.com/opensharehq/pointsledger/internal/models"
	"github.com/opensharehq/pointsledger/internal/repository"
	"github.com/opensharehq/pointsledger/internal/service/notify"
)

// How many times a spend is retried when the data layer reports contention
const defaultMaxRetries = 3

type Service struct {
	storage  repository.Storage
	notifier notify.Notifier
	logger   logger.Logger

	maxRetries int
}

func NewService(storage repository.Storage, notifier notify.Notifier, l logger.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if l == nil {
		l = logger.NewNoOp()
	}

	return &Service{
		storage:    storage,
		notifier:   notifier,
		logger:     l,
		maxRetries: defaultMaxRetries,
	}
}

type GrantParams struct {
	Owner       models.Owner
	Points      int64
	Tags        []string
	Reason      string
	ReferenceID string
	ExpiresAt   *time.Time
}

// Grant creates a lot and the matching EARN ledger entry in one transaction
func (s *Service) Grant(ctx context.Context, p GrantParams) (models.Lot, error) {
	var lot models.Lot

	if p.Points <= 0 {
		return lot, apperrors.ErrInvalidAmount
	}

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		var err error
		lot, err = s.GrantIn(ctx, st, p)
		return err
	})
	if err != nil {
		return lot, err
	}

	s.notifier.Notify(ctx, notify.Event{
		Kind:        notify.EventEarn,
		Owner:       p.Owner,
		Points:      p.Points,
		ReferenceID: p.ReferenceID,
	})

	return lot, nil
}

// GrantIn is Grant without the surrounding transaction and notification.
// Callers that batch several grants atomically (the allocator) run it inside
// their own storage transaction.
func (s *Service) GrantIn(ctx context.Context, st repository.Storage, p GrantParams) (models.Lot, error) {
	var lot models.Lot

	if p.Points <= 0 {
		return lot, apperrors.ErrInvalidAmount
	}

	lot, err := st.Lot().CreateLot(ctx, models.Lot{
		Owner:         p.Owner,
		InitialPoints: p.Points,
		Tags:          p.Tags,
		Reason:        p.Reason,
		ReferenceID:   p.ReferenceID,
		ExpiresAt:     p.ExpiresAt,
	})
	if err != nil {
		return lot, fmt.Errorf("can't create lot: %w", err)
	}

	_, err = st.Transaction().Append(ctx, models.Transaction{
		Owner:       p.Owner,
		Type:        models.TransactionEarn,
		Points:      p.Points,
		Description: p.Reason,
		Lots:        []models.LotDelta{{LotID: lot.ID, Points: p.Points}},
		CreatedAt:   lot.CreatedAt,
	})
	if err != nil {
		return lot, fmt.Errorf("can't append earn transaction: %w", err)
	}

	return lot, nil
}

type SpendParams struct {
	Owner       models.Owner
	Points      int64
	Description string

	// Tag restricts consumption to lots carrying it. A spend that can't be
	// covered by tagged lots fails, it never falls back to other lots.
	Tag string
}

// Spend debits lots oldest first until the amount is satisfied and records
// one SPEND transaction with the consumed (lot, points) pairs. All or
// nothing: a shortfall aborts before any lot is touched. Contention is
// retried a bounded number of times, then surfaces as ErrBusy.
func (s *Service) Spend(ctx context.Context, p SpendParams) (models.Transaction, error) {
	var tx models.Transaction

	if p.Points <= 0 {
		return tx, apperrors.ErrInvalidAmount
	}

	var err error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		tx, err = s.spendOnce(ctx, p)
		if !errors.Is(err, apperrors.ErrBusy) {
			break
		}
		s.logger.Warn("spend retried on contention",
			"owner_id", p.Owner.ID, "attempt", attempt+1)
	}
	if err != nil {
		return tx, err
	}

	s.notifier.Notify(ctx, notify.Event{
		Kind:   notify.EventSpend,
		Owner:  p.Owner,
		Points: -p.Points,
	})

	return tx, nil
}

func (s *Service) spendOnce(ctx context.Context, p SpendParams) (models.Transaction, error) {
	var tx models.Transaction

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		var err error
		tx, err = s.SpendIn(ctx, st, p)
		return err
	})

	return tx, err
}

// SpendIn is a single consumption attempt inside the caller's storage
// transaction: lock eligible lots, plan the debits, apply them, append the
// SPEND entry. The withdrawal service uses it to reserve points and record
// the request atomically.
func (s *Service) SpendIn(ctx context.Context, st repository.Storage, p SpendParams) (models.Transaction, error) {
	var tx models.Transaction

	if p.Points <= 0 {
		return tx, apperrors.ErrInvalidAmount
	}

	now := time.Now()

	lots, err := st.Lot().ListEligibleForUpdate(ctx, p.Owner, p.Tag, now)
	if err != nil {
		return tx, fmt.Errorf("can't lock eligible lots: %w", err)
	}

	plan, err := planDebits(lots, p.Points)
	if err != nil {
		return tx, err
	}

	for _, d := range plan {
		if _, err := st.Lot().DebitLot(ctx, d.LotID, d.Points); err != nil {
			// The lot is locked, a shortfall here means the snapshot
			// and the row disagree. Abort, nothing is committed.
			return tx, fmt.Errorf("debit of locked lot %s failed: %w", d.LotID, err)
		}
	}

	tx, err = st.Transaction().Append(ctx, models.Transaction{
		Owner:       p.Owner,
		Type:        models.TransactionSpend,
		Points:      -p.Points,
		Description: p.Description,
		Lots:        plan,
		CreatedAt:   now,
	})
	if err != nil {
		return tx, fmt.Errorf("can't append spend transaction: %w", err)
	}

	return tx, nil
}

// creditBack restores the exact lot deltas of a previously recorded spend
// and appends the offsetting REVERSAL entry. Used by the withdrawal service
// when a reservation is cancelled or rejected. Must run inside the same
// storage transaction as the status change, hence the Storage argument.
func (s *Service) CreditBack(ctx context.Context, st repository.Storage, spendTxID uuid.UUID, description string) (models.Transaction, error) {
	var reversal models.Transaction

	spendTx, err := st.Transaction().GetTransaction(ctx, spendTxID)
	if err != nil {
		return reversal, fmt.Errorf("can't load reserving transaction: %w", err)
	}

	var total int64
	for _, d := range spendTx.Lots {
		if _, err := st.Lot().CreditLot(ctx, d.LotID, d.Points); err != nil {
			if errors.Is(err, apperrors.ErrOverCredit) {
				s.logger.Error("credit-back overflows lot, aborting",
					"lot_id", d.LotID, "points", d.Points, "spend_tx", spendTx.ID)
			}
			return reversal, fmt.Errorf("credit back of lot %s failed: %w", d.LotID, err)
		}
		total += d.Points
	}

	reversal, err = st.Transaction().Append(ctx, models.Transaction{
		Owner:       spendTx.Owner,
		Type:        models.TransactionReversal,
		Points:      total,
		Description: description,
		Lots:        spendTx.Lots,
	})
	if err != nil {
		return reversal, fmt.Errorf("can't append reversal transaction: %w", err)
	}

	return reversal, nil
}

type Balance struct {
	Total int64
	ByTag map[string]int64
}

// Balance returns the owner's total and per tag remaining points. A lot
// counts toward every tag it carries, so tag totals may overlap and exceed
// the grand total.
func (s *Service) Balance(ctx context.Context, owner models.Owner) (Balance, error) {
	var b Balance

	total, err := s.storage.Lot().TotalBalance(ctx, owner)
	if err != nil {
		return b, fmt.Errorf("can't get total balance: %w", err)
	}

	byTag, err := s.storage.Lot().BalanceByTag(ctx, owner)
	if err != nil {
		return b, fmt.Errorf("can't get balance by tag: %w", err)
	}

	return Balance{Total: total, ByTag: byTag}, nil
}

// AvailableBalance is the spendable amount under the same eligibility rules
// the consumption engine uses (unexpired, optionally tag scoped)
func (s *Service) AvailableBalance(ctx context.Context, owner models.Owner, tag string) (int64, error) {
	return s.storage.Lot().AvailableBalance(ctx, owner, tag, time.Now())
}

func (s *Service) ListTransactions(ctx context.Context, owner models.Owner, opts repository.ListTransactionsOpts) ([]models.Transaction, error) {
	return s.storage.Transaction().ListTransactions(ctx, owner, opts)
}
