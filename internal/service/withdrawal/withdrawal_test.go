package withdrawal

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/opensharehq/pointsledger/internal/apperrors"
	"github.com/opensharehq/pointsledger/internal/models"
	"github.com/opensharehq/pointsledger/internal/repository"
	"github.com/opensharehq/pointsledger/internal/repository/postgres"
	"github.com/opensharehq/pointsledger/internal/service/ledger"
	"github.com/opensharehq/pointsledger/internal/testutil"
)

// gateStub stands in for the contract service
type gateStub struct {
	required bool
	signed   bool

	getOrCreateCalled bool
}

func (g *gateStub) Required() bool { return g.required }

func (g *gateStub) Signed(context.Context, models.Owner) (bool, error) {
	return g.signed, nil
}

func (g *gateStub) GetOrCreate(context.Context, models.Owner, models.PayoutDetails) (models.WithdrawalContract, error) {
	g.getOrCreateCalled = true
	return models.WithdrawalContract{Status: models.ContractPending}, nil
}

func TestWithdrawalService(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	payout := models.PayoutDetails{
		RealName:    "张三",
		IDNumber:    "110101199003077777",
		Phone:       "13812345678",
		BankName:    "ICBC",
		BankAccount: "6222020200001234567",
	}

	inTx := func(t *testing.T, gate *gateStub, fn func(storage repository.Storage, ledgerService *ledger.Service, service *Service)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			ledgerService := ledger.NewService(storage, nil, nil)
			fn(storage, ledgerService, NewService(storage, ledgerService, gate, nil, nil))
		})
	}

	fund := func(t *testing.T, ledgerService *ledger.Service, owner models.Owner, points int64) {
		t.Helper()
		_, err := ledgerService.Grant(t.Context(), ledger.GrantParams{Owner: owner, Points: points})
		require.NoError(t, err)
	}

	available := func(t *testing.T, ledgerService *ledger.Service, owner models.Owner) int64 {
		t.Helper()
		got, err := ledgerService.AvailableBalance(t.Context(), owner, "")
		require.NoError(t, err)
		return got
	}

	t.Run("Submit", func(t *testing.T) {
		t.Run("reserves points and creates pending request", func(t *testing.T) {
			gate := &gateStub{required: true}
			inTx(t, gate, func(storage repository.Storage, ledgerService *ledger.Service, service *Service) {
				owner := models.UserOwner(uuid.New())
				fund(t, ledgerService, owner, 100)

				w, err := service.Submit(t.Context(), SubmitParams{Owner: owner, Points: 60, Payout: payout})

				require.NoError(t, err)
				require.Equal(t, models.WithdrawalPending, w.Status)
				require.EqualValues(t, 60, w.Points)
				require.NotZero(t, w.TransactionID, "reserving transaction must be linked")

				require.EqualValues(t, 40, available(t, ledgerService, owner), "points reserved at submit time")

				reserving, err := storage.Transaction().GetTransaction(t.Context(), w.TransactionID)
				require.NoError(t, err)
				require.Equal(t, models.TransactionSpend, reserving.Type)
				require.EqualValues(t, -60, reserving.Points)

				require.True(t, gate.getOrCreateCalled, "contract should be prepared on first submit")
			})
		})

		t.Run("normalizes bank account", func(t *testing.T) {
			inTx(t, &gateStub{}, func(storage repository.Storage, ledgerService *ledger.Service, service *Service) {
				owner := models.UserOwner(uuid.New())
				fund(t, ledgerService, owner, 100)

				p := payout
				p.BankAccount = "6222 0202 0000 1234567"

				w, err := service.Submit(t.Context(), SubmitParams{Owner: owner, Points: 10, Payout: p})

				require.NoError(t, err)
				require.Equal(t, "6222020200001234567", w.Payout.BankAccount)
			})
		})

		t.Run("insufficient balance leaves nothing behind", func(t *testing.T) {
			inTx(t, &gateStub{}, func(storage repository.Storage, ledgerService *ledger.Service, service *Service) {
				owner := models.UserOwner(uuid.New())
				fund(t, ledgerService, owner, 50)

				_, err := service.Submit(t.Context(), SubmitParams{Owner: owner, Points: 51, Payout: payout})

				require.ErrorIs(t, err, apperrors.ErrInsufficientBalance)
				require.EqualValues(t, 50, available(t, ledgerService, owner))

				list, err := service.List(t.Context(), owner, nil)
				require.NoError(t, err)
				require.Empty(t, list, "failed submit must not create a request")
			})
		})

		t.Run("invalid payout", func(t *testing.T) {
			inTx(t, &gateStub{}, func(storage repository.Storage, ledgerService *ledger.Service, service *Service) {
				owner := models.UserOwner(uuid.New())
				fund(t, ledgerService, owner, 100)

				p := payout
				p.IDNumber = "short"

				_, err := service.Submit(t.Context(), SubmitParams{Owner: owner, Points: 10, Payout: p})

				require.ErrorIs(t, err, apperrors.ErrInvalidPayout)
				require.EqualValues(t, 100, available(t, ledgerService, owner))
			})
		})

		t.Run("invalid amount", func(t *testing.T) {
			inTx(t, &gateStub{}, func(storage repository.Storage, ledgerService *ledger.Service, service *Service) {
				_, err := service.Submit(t.Context(), SubmitParams{Owner: models.UserOwner(uuid.New()), Points: 0, Payout: payout})

				require.ErrorIs(t, err, apperrors.ErrInvalidAmount)
			})
		})
	})

	t.Run("Cancel", func(t *testing.T) {
		t.Run("credits reserved points back", func(t *testing.T) {
			inTx(t, &gateStub{}, func(storage repository.Storage, ledgerService *ledger.Service, service *Service) {
				owner := models.UserOwner(uuid.New())
				fund(t, ledgerService, owner, 100)

				w, err := service.Submit(t.Context(), SubmitParams{Owner: owner, Points: 60, Payout: payout})
				require.NoError(t, err)
				require.EqualValues(t, 40, available(t, ledgerService, owner))

				cancelled, err := service.Cancel(t.Context(), owner, w.ID)

				require.NoError(t, err)
				require.Equal(t, models.WithdrawalCancelled, cancelled.Status)
				require.True(t, models.WithdrawalTerminal(cancelled.Status))
				require.EqualValues(t, 100, available(t, ledgerService, owner), "reservation restored")

				reversals, err := ledgerService.ListTransactions(t.Context(), owner, repository.ListTransactionsOpts{
					Types: []string{models.TransactionReversal},
				})
				require.NoError(t, err)
				require.Len(t, reversals, 1)
				require.EqualValues(t, 60, reversals[0].Points)
			})
		})

		t.Run("foreign owner can't cancel", func(t *testing.T) {
			inTx(t, &gateStub{}, func(storage repository.Storage, ledgerService *ledger.Service, service *Service) {
				owner := models.UserOwner(uuid.New())
				fund(t, ledgerService, owner, 100)

				w, err := service.Submit(t.Context(), SubmitParams{Owner: owner, Points: 10, Payout: payout})
				require.NoError(t, err)

				_, err = service.Cancel(t.Context(), models.UserOwner(uuid.New()), w.ID)

				require.ErrorIs(t, err, apperrors.ErrWithdrawalNotFound, "other owners must not learn the request exists")
			})
		})

		t.Run("only pending can be cancelled", func(t *testing.T) {
			inTx(t, &gateStub{}, func(storage repository.Storage, ledgerService *ledger.Service, service *Service) {
				owner := models.UserOwner(uuid.New())
				fund(t, ledgerService, owner, 100)

				w, err := service.Submit(t.Context(), SubmitParams{Owner: owner, Points: 10, Payout: payout})
				require.NoError(t, err)
				_, err = service.Approve(t.Context(), w.ID, "")
				require.NoError(t, err)

				_, err = service.Cancel(t.Context(), owner, w.ID)

				require.ErrorIs(t, err, apperrors.ErrWithdrawalState)
			})
		})

		t.Run("double cancel fails", func(t *testing.T) {
			inTx(t, &gateStub{}, func(storage repository.Storage, ledgerService *ledger.Service, service *Service) {
				owner := models.UserOwner(uuid.New())
				fund(t, ledgerService, owner, 100)

				w, err := service.Submit(t.Context(), SubmitParams{Owner: owner, Points: 10, Payout: payout})
				require.NoError(t, err)
				_, err = service.Cancel(t.Context(), owner, w.ID)
				require.NoError(t, err)

				_, err = service.Cancel(t.Context(), owner, w.ID)

				require.ErrorIs(t, err, apperrors.ErrWithdrawalState, "points must not be credited twice")
				require.EqualValues(t, 100, available(t, ledgerService, owner))
			})
		})
	})

	t.Run("Reject", func(t *testing.T) {
		inTx(t, &gateStub{}, func(storage repository.Storage, ledgerService *ledger.Service, service *Service) {
			owner := models.UserOwner(uuid.New())
			fund(t, ledgerService, owner, 100)

			w, err := service.Submit(t.Context(), SubmitParams{Owner: owner, Points: 30, Payout: payout})
			require.NoError(t, err)

			rejected, err := service.Reject(t.Context(), w.ID, "account mismatch")

			require.NoError(t, err)
			require.Equal(t, models.WithdrawalRejected, rejected.Status)
			require.Equal(t, "account mismatch", rejected.AdminNote)
			require.EqualValues(t, 100, available(t, ledgerService, owner), "rejection credits the points back")
		})
	})

	t.Run("Approve and Complete", func(t *testing.T) {
		t.Run("happy path with signed contract", func(t *testing.T) {
			gate := &gateStub{required: true, signed: true}
			inTx(t, gate, func(storage repository.Storage, ledgerService *ledger.Service, service *Service) {
				owner := models.UserOwner(uuid.New())
				fund(t, ledgerService, owner, 100)

				w, err := service.Submit(t.Context(), SubmitParams{Owner: owner, Points: 30, Payout: payout})
				require.NoError(t, err)

				approved, err := service.Approve(t.Context(), w.ID, "checked")
				require.NoError(t, err)
				require.Equal(t, models.WithdrawalApproved, approved.Status)
				require.EqualValues(t, 70, available(t, ledgerService, owner), "approval keeps the reservation")

				completed, err := service.Complete(t.Context(), w.ID, "paid out")
				require.NoError(t, err)
				require.Equal(t, models.WithdrawalCompleted, completed.Status)
				require.True(t, models.WithdrawalTerminal(completed.Status))
				require.NotNil(t, completed.ProcessedAt)
				require.EqualValues(t, 70, available(t, ledgerService, owner), "completed points are gone for good")
			})
		})

		t.Run("complete blocked without signed contract", func(t *testing.T) {
			gate := &gateStub{required: true, signed: false}
			inTx(t, gate, func(storage repository.Storage, ledgerService *ledger.Service, service *Service) {
				owner := models.UserOwner(uuid.New())
				fund(t, ledgerService, owner, 100)

				w, err := service.Submit(t.Context(), SubmitParams{Owner: owner, Points: 30, Payout: payout})
				require.NoError(t, err)
				_, err = service.Approve(t.Context(), w.ID, "")
				require.NoError(t, err)

				_, err = service.Complete(t.Context(), w.ID, "")

				require.ErrorIs(t, err, apperrors.ErrContractNotSigned)

				got, err := service.Get(t.Context(), owner, w.ID)
				require.NoError(t, err)
				require.Equal(t, models.WithdrawalApproved, got.Status, "state must not change on blocked completion")
			})
		})

		t.Run("contract not required skips the gate", func(t *testing.T) {
			gate := &gateStub{required: false, signed: false}
			inTx(t, gate, func(storage repository.Storage, ledgerService *ledger.Service, service *Service) {
				owner := models.UserOwner(uuid.New())
				fund(t, ledgerService, owner, 100)

				w, err := service.Submit(t.Context(), SubmitParams{Owner: owner, Points: 30, Payout: payout})
				require.NoError(t, err)
				_, err = service.Approve(t.Context(), w.ID, "")
				require.NoError(t, err)

				_, err = service.Complete(t.Context(), w.ID, "")

				require.NoError(t, err)
			})
		})

		t.Run("complete requires approved state", func(t *testing.T) {
			inTx(t, &gateStub{}, func(storage repository.Storage, ledgerService *ledger.Service, service *Service) {
				owner := models.UserOwner(uuid.New())
				fund(t, ledgerService, owner, 100)

				w, err := service.Submit(t.Context(), SubmitParams{Owner: owner, Points: 30, Payout: payout})
				require.NoError(t, err)

				_, err = service.Complete(t.Context(), w.ID, "")

				require.ErrorIs(t, err, apperrors.ErrWithdrawalState)
			})
		})
	})

	t.Run("Get", func(t *testing.T) {
		inTx(t, &gateStub{}, func(storage repository.Storage, ledgerService *ledger.Service, service *Service) {
			owner := models.UserOwner(uuid.New())
			fund(t, ledgerService, owner, 100)

			w, err := service.Submit(t.Context(), SubmitParams{Owner: owner, Points: 10, Payout: payout})
			require.NoError(t, err)

			got, err := service.Get(t.Context(), owner, w.ID)
			require.NoError(t, err)
			require.Equal(t, w.ID, got.ID)

			_, err = service.Get(t.Context(), models.UserOwner(uuid.New()), w.ID)
			require.ErrorIs(t, err, apperrors.ErrWithdrawalNotFound)
		})
	})
}
