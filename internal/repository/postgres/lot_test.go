package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/opensharehq/pointsledger/internal/apperrors"
	"github.com/opensharehq/pointsledger/internal/models"
	"github.com/opensharehq/pointsledger/internal/repository"
	"github.com/opensharehq/pointsledger/internal/testutil"
)

func TestLotRepo(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, outerTx DBTX, fn func(pgx.Tx, repository.Storage)) {
		testutil.InTx(outerTx, t, func(innerTx pgx.Tx) {
			storage := NewStorage(innerTx)
			fn(innerTx, storage)
		})
	}

	owner := models.UserOwner(uuid.New())

	t.Run("CreateLot", func(t *testing.T) {
		t.Run("create ok", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				lot, err := storage.Lot().CreateLot(t.Context(), models.Lot{
					Owner:         owner,
					InitialPoints: 100,
					Tags:          []string{"promo", "referral"},
					Reason:        "signup bonus",
					ReferenceID:   "ref-1",
				})

				require.NoError(t, err, "lot has to be created ok")
				require.NotZero(t, lot.ID)
				require.Equal(t, owner, lot.Owner)
				require.EqualValues(t, 100, lot.InitialPoints)
				require.EqualValues(t, 100, lot.RemainingPoints, "remaining starts equal to initial")
				require.Equal(t, []string{"promo", "referral"}, lot.Tags)
				require.NotZero(t, lot.CreatedAt)
			})
		})

		t.Run("create with expiry", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				expiresAt := time.Now().Add(24 * time.Hour)

				lot, err := storage.Lot().CreateLot(t.Context(), models.Lot{
					Owner:         owner,
					InitialPoints: 10,
					ExpiresAt:     &expiresAt,
				})

				require.NoError(t, err)
				require.NotNil(t, lot.ExpiresAt)
				require.WithinDuration(t, expiresAt, *lot.ExpiresAt, time.Second)
			})
		})

		t.Run("non positive points rejected", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				_, err := storage.Lot().CreateLot(t.Context(), models.Lot{
					Owner:         owner,
					InitialPoints: 0,
				})

				require.ErrorIs(t, err, apperrors.ErrInvalidAmount, "zero points should hit the check constraint")
			})
		})
	})

	t.Run("GetLot", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			created, err := storage.Lot().CreateLot(t.Context(), models.Lot{Owner: owner, InitialPoints: 42})
			require.NoError(t, err)

			t.Run("existing lot", func(t *testing.T) {
				lot, err := storage.Lot().GetLot(t.Context(), created.ID)

				require.NoError(t, err)
				require.Equal(t, created.ID, lot.ID)
				require.EqualValues(t, 42, lot.RemainingPoints)
			})

			t.Run("nonexistent lot", func(t *testing.T) {
				_, err := storage.Lot().GetLot(t.Context(), uuid.New())

				require.ErrorIs(t, err, apperrors.ErrLotNotFound, "should return well known error")
			})
		})
	})

	t.Run("DebitLot", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			lot, err := storage.Lot().CreateLot(t.Context(), models.Lot{Owner: owner, InitialPoints: 100})
			require.NoError(t, err)

			t.Run("partial debit", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					remaining, err := storage.Lot().DebitLot(t.Context(), lot.ID, 30)

					require.NoError(t, err)
					require.EqualValues(t, 70, remaining)
				})
			})

			t.Run("debit to zero", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					remaining, err := storage.Lot().DebitLot(t.Context(), lot.ID, 100)

					require.NoError(t, err)
					require.EqualValues(t, 0, remaining)
				})
			})

			t.Run("debit over remaining", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					_, err := storage.Lot().DebitLot(t.Context(), lot.ID, 101)

					require.ErrorIs(t, err, apperrors.ErrInsufficientLotBalance)

					got, err := storage.Lot().GetLot(t.Context(), lot.ID)
					require.NoError(t, err)
					require.EqualValues(t, 100, got.RemainingPoints, "failed debit must not touch the lot")
				})
			})

			t.Run("debit nonexistent lot", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					_, err := storage.Lot().DebitLot(t.Context(), uuid.New(), 1)

					require.ErrorIs(t, err, apperrors.ErrLotNotFound)
				})
			})
		})
	})

	t.Run("CreditLot", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			lot, err := storage.Lot().CreateLot(t.Context(), models.Lot{Owner: owner, InitialPoints: 100})
			require.NoError(t, err)
			_, err = storage.Lot().DebitLot(t.Context(), lot.ID, 60)
			require.NoError(t, err)

			t.Run("credit back", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					remaining, err := storage.Lot().CreditLot(t.Context(), lot.ID, 60)

					require.NoError(t, err)
					require.EqualValues(t, 100, remaining)
				})
			})

			t.Run("credit above initial", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					_, err := storage.Lot().CreditLot(t.Context(), lot.ID, 61)

					require.ErrorIs(t, err, apperrors.ErrOverCredit, "credit must never exceed initial points")
				})
			})
		})
	})

	t.Run("ListEligibleForUpdate", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			now := time.Now()
			expired := now.Add(-time.Hour)
			future := now.Add(time.Hour)

			_, err := storage.Lot().CreateLot(t.Context(), models.Lot{Owner: owner, InitialPoints: 10, Tags: []string{"promo"}})
			require.NoError(t, err)
			_, err = storage.Lot().CreateLot(t.Context(), models.Lot{Owner: owner, InitialPoints: 20, ExpiresAt: &future})
			require.NoError(t, err)
			_, err = storage.Lot().CreateLot(t.Context(), models.Lot{Owner: owner, InitialPoints: 30, ExpiresAt: &expired})
			require.NoError(t, err)

			exhausted, err := storage.Lot().CreateLot(t.Context(), models.Lot{Owner: owner, InitialPoints: 5})
			require.NoError(t, err)
			_, err = storage.Lot().DebitLot(t.Context(), exhausted.ID, 5)
			require.NoError(t, err)

			t.Run("skips expired and exhausted", func(t *testing.T) {
				lots, err := storage.Lot().ListEligibleForUpdate(t.Context(), owner, "", now)

				require.NoError(t, err)
				require.Len(t, lots, 2, "expired and exhausted lots are not eligible")
				for _, l := range lots {
					require.False(t, l.Expired(now))
					require.False(t, l.Exhausted())
				}
			})

			t.Run("tag filter", func(t *testing.T) {
				lots, err := storage.Lot().ListEligibleForUpdate(t.Context(), owner, "promo", now)

				require.NoError(t, err)
				require.Len(t, lots, 1)
				require.True(t, lots[0].HasTag("promo"))
			})

			t.Run("ordered oldest first", func(t *testing.T) {
				lots, err := storage.Lot().ListEligibleForUpdate(t.Context(), owner, "", now)

				require.NoError(t, err)
				for i := 1; i < len(lots); i++ {
					require.False(t, lots[i].CreatedAt.Before(lots[i-1].CreatedAt), "lots must be ordered by created_at")
				}
			})

			t.Run("other owner sees nothing", func(t *testing.T) {
				lots, err := storage.Lot().ListEligibleForUpdate(t.Context(), models.UserOwner(uuid.New()), "", now)

				require.NoError(t, err)
				require.Empty(t, lots)
			})
		})
	})

	t.Run("Balances", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			balanceOwner := models.UserOwner(uuid.New())
			expired := time.Now().Add(-time.Hour)

			_, err := storage.Lot().CreateLot(t.Context(), models.Lot{Owner: balanceOwner, InitialPoints: 100, Tags: []string{"promo"}})
			require.NoError(t, err)
			_, err = storage.Lot().CreateLot(t.Context(), models.Lot{Owner: balanceOwner, InitialPoints: 50, Tags: []string{"promo", "event"}})
			require.NoError(t, err)
			_, err = storage.Lot().CreateLot(t.Context(), models.Lot{Owner: balanceOwner, InitialPoints: 30, ExpiresAt: &expired})
			require.NoError(t, err)

			t.Run("total includes expired", func(t *testing.T) {
				total, err := storage.Lot().TotalBalance(t.Context(), balanceOwner)

				require.NoError(t, err)
				require.EqualValues(t, 180, total)
			})

			t.Run("available excludes expired", func(t *testing.T) {
				available, err := storage.Lot().AvailableBalance(t.Context(), balanceOwner, "", time.Now())

				require.NoError(t, err)
				require.EqualValues(t, 150, available)
			})

			t.Run("available by tag", func(t *testing.T) {
				available, err := storage.Lot().AvailableBalance(t.Context(), balanceOwner, "event", time.Now())

				require.NoError(t, err)
				require.EqualValues(t, 50, available)
			})

			t.Run("by tag overlaps", func(t *testing.T) {
				byTag, err := storage.Lot().BalanceByTag(t.Context(), balanceOwner)

				require.NoError(t, err)
				require.EqualValues(t, 150, byTag["promo"], "lot counts toward every tag it carries")
				require.EqualValues(t, 50, byTag["event"])
			})

			t.Run("empty owner", func(t *testing.T) {
				total, err := storage.Lot().TotalBalance(t.Context(), models.UserOwner(uuid.New()))

				require.NoError(t, err)
				require.EqualValues(t, 0, total)
			})
		})
	})
}
