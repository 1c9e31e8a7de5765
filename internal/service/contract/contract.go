// Package contract manages the withdrawal contract each owner must sign
// before a withdrawal can be completed.
package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensharehq/pointsledger/internal/apperrors"
	"github.com/opensharehq/pointsledger/internal/logger"
	"github.com/opensharehq/pointsledger/internal/models"
	"github.com/opensharehq/pointsledger/internal/repository"
	"github.com/opensharehq/pointsledger/internal/service/contract/signprovider"
	"github.com/opensharehq/pointsledger/internal/service/notify"
)

type flowStarter interface {
	StartFlow(ctx context.Context, r signprovider.StartFlowRequest) (signprovider.Flow, error)
}

type Config struct {
	// Required gates withdrawal completion on a signed contract when true
	Required bool
}

type Service struct {
	cfg      Config
	storage  repository.Storage
	provider flowStarter
	notifier notify.Notifier
	logger   logger.Logger
}

func NewService(cfg Config, storage repository.Storage, provider flowStarter, notifier notify.Notifier, l logger.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if l == nil {
		l = logger.NewNoOp()
	}

	return &Service{
		cfg:      cfg,
		storage:  storage,
		provider: provider,
		notifier: notifier,
		logger:   l,
	}
}

// Required reports whether completion is gated on a signed contract
func (s *Service) Required() bool {
	return s.cfg.Required
}

// GetOrCreate returns the owner's contract, starting a signing flow and
// creating a PENDING contract when none exists yet. Signer details come from
// the payout information of the withdrawal being submitted.
func (s *Service) GetOrCreate(ctx context.Context, owner models.Owner, signer models.PayoutDetails) (models.WithdrawalContract, error) {
	c, err := s.storage.Contract().GetContractByOwner(ctx, owner)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, apperrors.ErrContractNotFound) {
		return c, fmt.Errorf("can't get owner contract: %w", err)
	}

	flow, err := s.provider.StartFlow(ctx, signprovider.StartFlowRequest{
		Reference: owner.ID.String(),
		RealName:  signer.RealName,
		IDNumber:  signer.IDNumber,
		Phone:     signer.Phone,
	})
	if err != nil {
		return c, fmt.Errorf("can't start signing flow: %w", err)
	}

	c, err = s.storage.Contract().CreateContract(ctx, models.WithdrawalContract{
		Owner:   owner,
		Status:  models.ContractPending,
		FlowID:  flow.ID,
		SignURL: flow.SignURL,
	})
	if err == nil {
		return c, nil
	}

	// Lost a race with a concurrent submit, the existing contract wins
	existing, getErr := s.storage.Contract().GetContractByOwner(ctx, owner)
	if getErr == nil {
		return existing, nil
	}

	return c, fmt.Errorf("can't create contract: %w", err)
}

// Status returns the owner's contract
func (s *Service) Status(ctx context.Context, owner models.Owner) (models.WithdrawalContract, error) {
	return s.storage.Contract().GetContractByOwner(ctx, owner)
}

// MarkSigned transitions the contract matching flowID to SIGNED. Idempotent:
// repeated calls for the same flow keep the first signature time. An unknown
// flow id surfaces as apperrors.ErrUnknownFlow.
func (s *Service) MarkSigned(ctx context.Context, flowID string, source string, signedAt time.Time) (models.WithdrawalContract, error) {
	if signedAt.IsZero() {
		signedAt = time.Now()
	}

	c, err := s.storage.Contract().MarkContractSigned(ctx, flowID, source, signedAt)
	if err != nil {
		return c, err
	}

	s.notifier.Notify(ctx, notify.Event{
		Kind:  notify.EventContractSigned,
		Owner: c.Owner,
	})

	return c, nil
}

// Revoke transitions a SIGNED contract to REVOKED. The owner's withdrawals
// keep their state; only future completions are blocked.
func (s *Service) Revoke(ctx context.Context, owner models.Owner) (models.WithdrawalContract, error) {
	var revoked models.WithdrawalContract

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		c, err := st.Contract().GetContractByOwner(ctx, owner)
		if err != nil {
			return err
		}
		if c.Status != models.ContractSigned {
			return fmt.Errorf("contract is %s: %w", c.Status, apperrors.ErrContractNotSigned)
		}

		revoked, err = st.Contract().SetContractStatus(ctx, c.ID, models.ContractRevoked)
		return err
	})
	if err != nil {
		return revoked, err
	}

	s.notifier.Notify(ctx, notify.Event{
		Kind:  notify.EventContractRevoked,
		Owner: owner,
	})

	return revoked, nil
}

// Signed reports whether the owner currently holds a SIGNED contract
func (s *Service) Signed(ctx context.Context, owner models.Owner) (bool, error) {
	c, err := s.storage.Contract().GetContractByOwner(ctx, owner)
	if errors.Is(err, apperrors.ErrContractNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return c.Status == models.ContractSigned, nil
}
