package cleanup

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/masjidku/masjidauth/internal/models"
	"github.com/masjidku/masjidauth/internal/repository"
	"github.com/masjidku/masjidauth/internal/repository/postgres"
	"github.com/masjidku/masjidauth/internal/testutil"
)

func Test_Sweeper(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	grace := 30 * 24 * time.Hour

	// Seed one row of each kind the sweeper may meet:
	//   active          - keep
	//   expired         - delete on the expired pass
	//   revoked fresh   - keep, still inside the audit grace window
	//   revoked stale   - delete on the revoked pass
	seedRows := func(t *testing.T, st repository.Storage, tx pgx.Tx) (keep []string) {
		userID := testutil.CreateUser(t, tx, testutil.SeedUser{
			Name:         "Keeper",
			Username:     "keeper",
			Email:        "keeper@masjid.id",
			PasswordHash: "x",
			IsActive:     true,
		})

		now := time.Now()
		mk := func(secret string, expiresAt time.Time, revoked bool) {
			_, err := st.Refresh().Create(t.Context(), models.RefreshToken{
				ID:        uuid.New(),
				UserID:    userID,
				Token:     secret,
				ExpiresAt: expiresAt,
				Revoked:   revoked,
				CreatedAt: now.Add(-time.Hour),
			})
			require.NoError(t, err)
		}

		mk("active", now.Add(24*time.Hour), false)
		mk("expired", now.Add(-time.Hour), false)
		mk("revoked-fresh", now.Add(24*time.Hour), true)
		mk("revoked-stale", now.Add(24*time.Hour), true)

		// Push one revoked row past the grace window by hand
		_, err := tx.Exec(t.Context(),
			`UPDATE refresh_tokens SET updated_at = $1 WHERE token = 'revoked-stale'`,
			now.Add(-grace-time.Hour))
		require.NoError(t, err)

		return []string{"active", "revoked-fresh"}
	}

	countRows := func(t *testing.T, tx pgx.Tx) int64 {
		var count int64
		err := tx.QueryRow(t.Context(), `SELECT count(*) FROM refresh_tokens`).Scan(&count)
		require.NoError(t, err)
		return count
	}

	t.Run("dry run reports without deleting", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			st := postgres.NewStorage(tx)
			seedRows(t, st, tx)
			sweeper := New(Config{RevokedGrace: grace}, st, nil)

			result, err := sweeper.Sweep(t.Context(), true)

			require.NoError(t, err)
			require.EqualValues(t, 1, result.RevokedDeleted)
			require.EqualValues(t, 1, result.ExpiredDeleted)
			require.EqualValues(t, 2, result.Total())
			require.EqualValues(t, 4, countRows(t, tx), "dry run must not delete anything")
		})
	})

	t.Run("sweep deletes exactly the dead rows", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			st := postgres.NewStorage(tx)
			keep := seedRows(t, st, tx)
			sweeper := New(Config{RevokedGrace: grace}, st, nil)

			result, err := sweeper.Sweep(t.Context(), false)

			require.NoError(t, err)
			require.EqualValues(t, 1, result.RevokedDeleted)
			require.EqualValues(t, 1, result.ExpiredDeleted)
			require.EqualValues(t, 2, countRows(t, tx))

			for _, secret := range keep {
				_, err := st.Refresh().Get(t.Context(), secret)
				require.NoError(t, err, "live row %q must survive the sweep", secret)
			}
		})
	})

	t.Run("second sweep finds nothing", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			st := postgres.NewStorage(tx)
			seedRows(t, st, tx)
			sweeper := New(Config{RevokedGrace: grace}, st, nil)

			_, err := sweeper.Sweep(t.Context(), false)
			require.NoError(t, err)

			result, err := sweeper.Sweep(t.Context(), false)
			require.NoError(t, err)
			require.Zero(t, result.Total(), "sweep is idempotent")
		})
	})

	t.Run("expired and stale revoked row counted once", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			st := postgres.NewStorage(tx)
			userID := testutil.CreateUser(t, tx, testutil.SeedUser{
				Name:         "Overlap",
				Username:     "overlap",
				Email:        "overlap@masjid.id",
				PasswordHash: "x",
				IsActive:     true,
			})

			now := time.Now()
			_, err := st.Refresh().Create(t.Context(), models.RefreshToken{
				ID:        uuid.New(),
				UserID:    userID,
				Token:     "both-dead",
				ExpiresAt: now.Add(-2 * grace),
				Revoked:   true,
				CreatedAt: now.Add(-3 * grace),
			})
			require.NoError(t, err)

			sweeper := New(Config{RevokedGrace: grace}, st, nil)
			result, err := sweeper.Sweep(t.Context(), false)

			require.NoError(t, err)
			require.EqualValues(t, 1, result.RevokedDeleted)
			require.Zero(t, result.ExpiredDeleted, "the revoked pass already claimed the row")
			require.Zero(t, countRows(t, tx))
		})
	})
}
