package apperrors

import (
	"errors"
)

var (
	// ErrInvalidAmount rejects zero, negative or malformed amounts before
	// any mutation happens.
	ErrInvalidAmount = errors.New("amount must be positive")

	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInsufficientLotBalance = errors.New("insufficient lot balance")

	// ErrOverCredit means a credit-back would push a lot above its initial
	// points. It signals broken bookkeeping and is never clamped away.
	ErrOverCredit = errors.New("credit exceeds lot initial points")

	ErrLotNotFound         = errors.New("lot not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	ErrWithdrawalNotFound = errors.New("withdrawal request not found")
	ErrWithdrawalState    = errors.New("withdrawal state does not allow this transition")
	ErrInvalidPayout      = errors.New("payout details are invalid")

	ErrContractNotFound  = errors.New("withdrawal contract not found")
	ErrContractNotSigned = errors.New("withdrawal contract is not signed")

	// ErrUnknownFlow is returned for signature callbacks that reference no
	// known contract. Callers log and drop it (late or duplicate callback).
	ErrUnknownFlow = errors.New("unknown signing flow")

	// ErrBusy surfaces transient lock contention; callers may retry with backoff.
	ErrBusy = errors.New("operation is busy, retry later")
)
