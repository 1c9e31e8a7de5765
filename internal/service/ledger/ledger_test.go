package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/opensharehq/pointsledger/internal/apperrors"
	"github.com/opensharehq/pointsledger/internal/models"
	"github.com/opensharehq/pointsledger/internal/repository"
	"github.com/opensharehq/pointsledger/internal/repository/postgres"
	"github.com/opensharehq/pointsledger/internal/testutil"
)

func TestLedgerService(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, fn func(storage repository.Storage, service *Service)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			fn(storage, NewService(storage, nil, nil))
		})
	}

	// Conservation law: the signed transaction sum equals the lot balance
	requireConserved := func(t *testing.T, storage repository.Storage, owner models.Owner) {
		t.Helper()
		total, err := storage.Lot().TotalBalance(t.Context(), owner)
		require.NoError(t, err)
		sum, err := storage.Transaction().SumPoints(t.Context(), owner)
		require.NoError(t, err)
		require.Equal(t, total, sum, "transaction sum must equal lot balance")
	}

	t.Run("Grant", func(t *testing.T) {
		t.Run("creates lot and earn entry", func(t *testing.T) {
			inTx(t, func(storage repository.Storage, service *Service) {
				owner := models.UserOwner(uuid.New())

				lot, err := service.Grant(t.Context(), GrantParams{
					Owner:  owner,
					Points: 100,
					Tags:   []string{"promo"},
					Reason: "signup bonus",
				})

				require.NoError(t, err)
				require.EqualValues(t, 100, lot.RemainingPoints)

				txs, err := service.ListTransactions(t.Context(), owner, repository.ListTransactionsOpts{})
				require.NoError(t, err)
				require.Len(t, txs, 1)
				require.Equal(t, models.TransactionEarn, txs[0].Type)
				require.EqualValues(t, 100, txs[0].Points)
				require.Len(t, txs[0].Lots, 1)
				require.Equal(t, lot.ID, txs[0].Lots[0].LotID)

				requireConserved(t, storage, owner)
			})
		})

		t.Run("rejects non positive points", func(t *testing.T) {
			inTx(t, func(storage repository.Storage, service *Service) {
				_, err := service.Grant(t.Context(), GrantParams{Owner: models.UserOwner(uuid.New()), Points: 0})

				require.ErrorIs(t, err, apperrors.ErrInvalidAmount)
			})
		})
	})

	t.Run("Spend", func(t *testing.T) {
		t.Run("consumes oldest lot first", func(t *testing.T) {
			inTx(t, func(storage repository.Storage, service *Service) {
				owner := models.UserOwner(uuid.New())

				older, err := service.Grant(t.Context(), GrantParams{Owner: owner, Points: 50})
				require.NoError(t, err)
				newer, err := service.Grant(t.Context(), GrantParams{Owner: owner, Points: 50})
				require.NoError(t, err)

				tx, err := service.Spend(t.Context(), SpendParams{Owner: owner, Points: 70, Description: "shop order"})

				require.NoError(t, err)
				require.Equal(t, models.TransactionSpend, tx.Type)
				require.EqualValues(t, -70, tx.Points, "spend entry carries the negative amount")
				require.Len(t, tx.Lots, 2)
				require.Equal(t, older.ID, tx.Lots[0].LotID)
				require.EqualValues(t, 50, tx.Lots[0].Points)
				require.Equal(t, newer.ID, tx.Lots[1].LotID)
				require.EqualValues(t, 20, tx.Lots[1].Points)

				gotOlder, err := storage.Lot().GetLot(t.Context(), older.ID)
				require.NoError(t, err)
				require.True(t, gotOlder.Exhausted(), "oldest lot exhausted")

				gotNewer, err := storage.Lot().GetLot(t.Context(), newer.ID)
				require.NoError(t, err)
				require.EqualValues(t, 30, gotNewer.RemainingPoints)

				requireConserved(t, storage, owner)
			})
		})

		t.Run("shortfall leaves everything untouched", func(t *testing.T) {
			inTx(t, func(storage repository.Storage, service *Service) {
				owner := models.UserOwner(uuid.New())
				lot, err := service.Grant(t.Context(), GrantParams{Owner: owner, Points: 50})
				require.NoError(t, err)

				_, err = service.Spend(t.Context(), SpendParams{Owner: owner, Points: 51})

				require.ErrorIs(t, err, apperrors.ErrInsufficientBalance)

				got, err := storage.Lot().GetLot(t.Context(), lot.ID)
				require.NoError(t, err)
				require.EqualValues(t, 50, got.RemainingPoints, "failed spend must not debit anything")

				txs, err := service.ListTransactions(t.Context(), owner, repository.ListTransactionsOpts{
					Types: []string{models.TransactionSpend},
				})
				require.NoError(t, err)
				require.Empty(t, txs, "failed spend must not be recorded")
			})
		})

		t.Run("tag scoped spend ignores other lots", func(t *testing.T) {
			inTx(t, func(storage repository.Storage, service *Service) {
				owner := models.UserOwner(uuid.New())

				tagged, err := service.Grant(t.Context(), GrantParams{Owner: owner, Points: 30, Tags: []string{"promo"}})
				require.NoError(t, err)
				untagged, err := service.Grant(t.Context(), GrantParams{Owner: owner, Points: 100})
				require.NoError(t, err)

				t.Run("covered by tagged lots", func(t *testing.T) {
					tx, err := service.Spend(t.Context(), SpendParams{Owner: owner, Points: 20, Tag: "promo"})

					require.NoError(t, err)
					require.Len(t, tx.Lots, 1)
					require.Equal(t, tagged.ID, tx.Lots[0].LotID)

					gotUntagged, err := storage.Lot().GetLot(t.Context(), untagged.ID)
					require.NoError(t, err)
					require.EqualValues(t, 100, gotUntagged.RemainingPoints, "untagged lot must stay untouched")
				})

				t.Run("never falls back to untagged lots", func(t *testing.T) {
					_, err := service.Spend(t.Context(), SpendParams{Owner: owner, Points: 50, Tag: "promo"})

					require.ErrorIs(t, err, apperrors.ErrInsufficientBalance, "tagged lots can't cover, untagged are no fallback")
				})
			})
		})

		t.Run("expired lots are not consumed", func(t *testing.T) {
			inTx(t, func(storage repository.Storage, service *Service) {
				owner := models.UserOwner(uuid.New())
				expired := time.Now().Add(-time.Hour)

				_, err := service.Grant(t.Context(), GrantParams{Owner: owner, Points: 100, ExpiresAt: &expired})
				require.NoError(t, err)

				_, err = service.Spend(t.Context(), SpendParams{Owner: owner, Points: 10})

				require.ErrorIs(t, err, apperrors.ErrInsufficientBalance)
			})
		})

		t.Run("other owner balance is isolated", func(t *testing.T) {
			inTx(t, func(storage repository.Storage, service *Service) {
				rich := models.UserOwner(uuid.New())
				poor := models.UserOwner(uuid.New())

				_, err := service.Grant(t.Context(), GrantParams{Owner: rich, Points: 1000})
				require.NoError(t, err)

				_, err = service.Spend(t.Context(), SpendParams{Owner: poor, Points: 1})

				require.ErrorIs(t, err, apperrors.ErrInsufficientBalance)
			})
		})
	})

	t.Run("CreditBack", func(t *testing.T) {
		t.Run("restores exact lot deltas", func(t *testing.T) {
			inTx(t, func(storage repository.Storage, service *Service) {
				owner := models.UserOwner(uuid.New())

				first, err := service.Grant(t.Context(), GrantParams{Owner: owner, Points: 50})
				require.NoError(t, err)
				second, err := service.Grant(t.Context(), GrantParams{Owner: owner, Points: 50})
				require.NoError(t, err)

				spendTx, err := service.Spend(t.Context(), SpendParams{Owner: owner, Points: 70})
				require.NoError(t, err)

				var reversal models.Transaction
				err = storage.InTx(t.Context(), func(st repository.Storage) error {
					var err error
					reversal, err = service.CreditBack(t.Context(), st, spendTx.ID, "withdrawal cancelled")
					return err
				})
				require.NoError(t, err)

				require.Equal(t, models.TransactionReversal, reversal.Type)
				require.EqualValues(t, 70, reversal.Points, "reversal carries the positive amount")
				require.Equal(t, spendTx.Lots, reversal.Lots, "same lot pairs as the spend")

				gotFirst, err := storage.Lot().GetLot(t.Context(), first.ID)
				require.NoError(t, err)
				require.EqualValues(t, 50, gotFirst.RemainingPoints)

				gotSecond, err := storage.Lot().GetLot(t.Context(), second.ID)
				require.NoError(t, err)
				require.EqualValues(t, 50, gotSecond.RemainingPoints)

				requireConserved(t, storage, owner)
			})
		})

		t.Run("unknown transaction", func(t *testing.T) {
			inTx(t, func(storage repository.Storage, service *Service) {
				err := storage.InTx(t.Context(), func(st repository.Storage) error {
					_, err := service.CreditBack(t.Context(), st, uuid.New(), "nope")
					return err
				})

				require.ErrorIs(t, err, apperrors.ErrTransactionNotFound)
			})
		})
	})

	t.Run("Balance", func(t *testing.T) {
		inTx(t, func(storage repository.Storage, service *Service) {
			owner := models.UserOwner(uuid.New())

			_, err := service.Grant(t.Context(), GrantParams{Owner: owner, Points: 100, Tags: []string{"promo"}})
			require.NoError(t, err)
			_, err = service.Grant(t.Context(), GrantParams{Owner: owner, Points: 50, Tags: []string{"promo", "event"}})
			require.NoError(t, err)
			_, err = service.Spend(t.Context(), SpendParams{Owner: owner, Points: 30})
			require.NoError(t, err)

			balance, err := service.Balance(t.Context(), owner)

			require.NoError(t, err)
			require.EqualValues(t, 120, balance.Total)
			require.EqualValues(t, 120, balance.ByTag["promo"], "oldest promo lot took the spend")
			require.EqualValues(t, 50, balance.ByTag["event"])

			available, err := service.AvailableBalance(t.Context(), owner, "event")
			require.NoError(t, err)
			require.EqualValues(t, 50, available)
		})
	})

	t.Run("TrendSeries", func(t *testing.T) {
		inTx(t, func(storage repository.Storage, service *Service) {
			owner := models.UserOwner(uuid.New())

			_, err := service.Grant(t.Context(), GrantParams{Owner: owner, Points: 100, Tags: []string{"promo"}})
			require.NoError(t, err)
			_, err = service.Spend(t.Context(), SpendParams{Owner: owner, Points: 40, Tag: "promo"})
			require.NoError(t, err)

			start := time.Now().AddDate(0, 0, -2)
			end := time.Now()

			series, err := service.TrendSeries(t.Context(), owner, "promo", start, end)

			require.NoError(t, err)
			require.Len(t, series, 3)
			require.EqualValues(t, 0, series[0].Points, "no activity before today")
			require.EqualValues(t, 60, series[len(series)-1].Points, "today closes at the current balance")

			t.Run("invalid range", func(t *testing.T) {
				_, err := service.TrendSeries(t.Context(), owner, "promo", end, start.AddDate(0, 0, -1))

				require.Error(t, err)
			})
		})
	})
}
