// Package withdrawal implements the request lifecycle for converting points
// to a bank payout. Points are reserved with a SPEND at submit time and
// credited back if the request is cancelled or rejected.
package withdrawal

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
	"github.com/opensharehq/pointsledger/internal/service/ledger"
	"github.com/opensharehq/pointsledger/internal/service/notify"
	"github.com/opensharehq/pointsledger/internal/service/validate"
)

const defaultMaxRetries = 3

type pointsLedger interface {
	SpendIn(ctx context.Context, st repository.Storage, p ledger.SpendParams) (models.Transaction, error)
	CreditBack(ctx context.Context, st repository.Storage, spendTxID uuid.UUID, description string) (models.Transaction, error)
}

type contractGate interface {
	Required() bool
	Signed(ctx context.Context, owner models.Owner) (bool, error)
	GetOrCreate(ctx context.Context, owner models.Owner, signer models.PayoutDetails) (models.WithdrawalContract, error)
}

type Service struct {
	storage  repository.Storage
	ledger   pointsLedger
	gate     contractGate
	notifier notify.Notifier
	logger   logger.Logger

	maxRetries int
}

func NewService(storage repository.Storage, ledger pointsLedger, gate contractGate, notifier notify.Notifier, l logger.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if l == nil {
		l = logger.NewNoOp()
	}

	return &Service{
		storage:    storage,
		ledger:     ledger,
		gate:       gate,
		notifier:   notifier,
		logger:     l,
		maxRetries: defaultMaxRetries,
	}
}

type SubmitParams struct {
	Owner  models.Owner
	Points int64
	Payout models.PayoutDetails

	// Tag restricts the reservation to lots carrying it
	Tag string
}

// Submit validates the payout details, reserves the points with a SPEND and
// creates the PENDING request, all in one transaction. When contract gating
// is on, a missing contract is created with a fresh signing flow; a failure
// there does not undo the request, it only delays completion.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest

	if p.Points <= 0 {
		return w, apperrors.ErrInvalidAmount
	}

	payout, err := validate.Payout(p.Payout)
	if err != nil {
		return w, fmt.Errorf("%w: %w", apperrors.ErrInvalidPayout, err)
	}
	p.Payout = payout

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		w, err = s.submitOnce(ctx, p)
		if !errors.Is(err, apperrors.ErrBusy) {
			break
		}
		s.logger.Warn("withdrawal submit retried on contention",
			"owner_id", p.Owner.ID, "attempt", attempt+1)
	}
	if err != nil {
		return w, err
	}

	if s.gate.Required() {
		if _, err := s.gate.GetOrCreate(ctx, p.Owner, p.Payout); err != nil {
			s.logger.Error("can't prepare withdrawal contract, completion will be blocked",
				"error", err, "owner_id", p.Owner.ID, "withdrawal_id", w.ID)
		}
	}

	s.notifier.Notify(ctx, notify.Event{
		Kind:        notify.EventWithdrawalSubmitted,
		Owner:       p.Owner,
		Points:      p.Points,
		ReferenceID: w.ID.String(),
	})

	return w, nil
}

func (s *Service) submitOnce(ctx context.Context, p SubmitParams) (models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		tx, err := s.ledger.SpendIn(ctx, st, ledger.SpendParams{
			Owner:       p.Owner,
			Points:      p.Points,
			Description: "withdrawal reservation",
			Tag:         p.Tag,
		})
		if err != nil {
			return err
		}

		w, err = st.Withdrawal().CreateWithdrawal(ctx, models.WithdrawalRequest{
			Owner:         p.Owner,
			Points:        p.Points,
			Payout:        p.Payout,
			Status:        models.WithdrawalPending,
			TransactionID: tx.ID,
		})
		if err != nil {
			return fmt.Errorf("can't create withdrawal request: %w", err)
		}

		return nil
	})

	return w, err
}

// Cancel is the owner side exit from PENDING. The reserved points are
// credited back to their original lots in the same transaction.
func (s *Service) Cancel(ctx context.Context, owner models.Owner, id uuid.UUID) (models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		cur, err := st.Withdrawal().GetWithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.Owner != owner {
			// Don't leak other owners' requests
			return apperrors.ErrWithdrawalNotFound
		}
		if cur.Status != models.WithdrawalPending {
			return fmt.Errorf("withdrawal is %s: %w", cur.Status, apperrors.ErrWithdrawalState)
		}

		if _, err := s.ledger.CreditBack(ctx, st, cur.TransactionID, "withdrawal cancelled"); err != nil {
			return err
		}

		w, err = st.Withdrawal().SetWithdrawalStatus(ctx, id, models.WithdrawalCancelled, "", nil)
		return err
	})
	if err != nil {
		return w, err
	}

	s.notifier.Notify(ctx, notify.Event{
		Kind:        notify.EventWithdrawalCancelled,
		Owner:       owner,
		Points:      w.Points,
		ReferenceID: w.ID.String(),
	})

	return w, nil
}

// Approve moves a PENDING request to APPROVED. Operator action, the points
// stay reserved.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, note string) (models.WithdrawalRequest, error) {
	w, err := s.transition(ctx, id, models.WithdrawalPending, models.WithdrawalApproved, note, nil)
	if err != nil {
		return w, err
	}

	s.notifier.Notify(ctx, notify.Event{
		Kind:        notify.EventWithdrawalApproved,
		Owner:       w.Owner,
		Points:      w.Points,
		ReferenceID: w.ID.String(),
	})

	return w, nil
}

// Reject moves a PENDING request to REJECTED and credits the reserved
// points back
func (s *Service) Reject(ctx context.Context, id uuid.UUID, note string) (models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		cur, err := st.Withdrawal().GetWithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != models.WithdrawalPending {
			return fmt.Errorf("withdrawal is %s: %w", cur.Status, apperrors.ErrWithdrawalState)
		}

		if _, err := s.ledger.CreditBack(ctx, st, cur.TransactionID, "withdrawal rejected"); err != nil {
			return err
		}

		w, err = st.Withdrawal().SetWithdrawalStatus(ctx, id, models.WithdrawalRejected, note, nil)
		return err
	})
	if err != nil {
		return w, err
	}

	s.notifier.Notify(ctx, notify.Event{
		Kind:        notify.EventWithdrawalRejected,
		Owner:       w.Owner,
		Points:      w.Points,
		ReferenceID: w.ID.String(),
	})

	return w, nil
}

// Complete finalizes an APPROVED request after the payout is made. When
// contract gating is on the owner must hold a SIGNED contract, otherwise
// apperrors.ErrContractNotSigned. The reserved points are gone for good.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, note string) (models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		cur, err := st.Withdrawal().GetWithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != models.WithdrawalApproved {
			return fmt.Errorf("withdrawal is %s: %w", cur.Status, apperrors.ErrWithdrawalState)
		}

		if s.gate.Required() {
			signed, err := s.gate.Signed(ctx, cur.Owner)
			if err != nil {
				return fmt.Errorf("can't check contract: %w", err)
			}
			if !signed {
				return apperrors.ErrContractNotSigned
			}
		}

		now := time.Now()
		w, err = st.Withdrawal().SetWithdrawalStatus(ctx, id, models.WithdrawalCompleted, note, &now)
		return err
	})
	if err != nil {
		return w, err
	}

	s.notifier.Notify(ctx, notify.Event{
		Kind:        notify.EventWithdrawalCompleted,
		Owner:       w.Owner,
		Points:      w.Points,
		ReferenceID: w.ID.String(),
	})

	return w, nil
}

// Get returns the request when it belongs to the owner
func (s *Service) Get(ctx context.Context, owner models.Owner, id uuid.UUID) (models.WithdrawalRequest, error) {
	w, err := s.storage.Withdrawal().GetWithdrawal(ctx, id)
	if err != nil {
		return w, err
	}
	if w.Owner != owner {
		return models.WithdrawalRequest{}, apperrors.ErrWithdrawalNotFound
	}

	return w, nil
}

func (s *Service) List(ctx context.Context, owner models.Owner, statuses []string) ([]models.WithdrawalRequest, error) {
	return s.storage.Withdrawal().ListWithdrawals(ctx, owner, statuses)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to string, note string, processedAt *time.Time) (models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		cur, err := st.Withdrawal().GetWithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != from {
			return fmt.Errorf("withdrawal is %s: %w", cur.Status, apperrors.ErrWithdrawalState)
		}

		w, err = st.Withdrawal().SetWithdrawalStatus(ctx, id, to, note, processedAt)
		return err
	})

	return w, err
}
