package auth

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masjidku/masjidauth/internal/apperrors"
	"github.com/masjidku/masjidauth/internal/models"
	"github.com/masjidku/masjidauth/internal/repository"
	"github.com/masjidku/masjidauth/internal/repository/postgres"
	"github.com/masjidku/masjidauth/internal/service/auth/tokenmanager"
	"github.com/masjidku/masjidauth/internal/testutil"
)

const (
	testAccessTTL  = 15 * time.Minute
	testRefreshTTL = 7 * 24 * time.Hour
	testMaxTokens  = 5
)

func Test_AuthService(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	meta := models.ClientMeta{DeviceInfo: "test-agent", IPAddress: "127.0.0.1"}

	passwordHash, err := BcryptHasher{}.Hash("correct-pw")
	require.NoError(t, err)

	// Begin new db transaction and create new AuthService over it
	// Rollback transaction when test stops
	withService := func(t *testing.T, fn func(s *AuthService, st repository.Storage, tx pgx.Tx)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)

			tm, err := tokenmanager.New(tokenmanager.Config{
				SecretKey: "test-secret-key",
				AccessTTL: testAccessTTL,
			})
			require.NoError(t, err, "token manager should be created without errors")

			s, err := NewService(Config{
				RefreshTokenTTL: testRefreshTTL,
				MaxActiveTokens: testMaxTokens,
			}, tm, storage)
			require.NoError(t, err, "auth service couldn't be started")

			fn(s, storage, tx)
		})
	}

	seedAlice := func(t *testing.T, tx pgx.Tx, active bool) uuid.UUID {
		return testutil.CreateUser(t, tx, testutil.SeedUser{
			Name:         "Alice",
			Username:     "alice",
			Email:        "alice@masjid.id",
			PasswordHash: passwordHash,
			IsActive:     active,
			Roles:        []string{"admin"},
			Permissions:  map[string][]string{"admin": {"event.manage"}},
		})
	}

	t.Run("new service defaults", func(t *testing.T) {
		tm, err := tokenmanager.New(tokenmanager.Config{SecretKey: "k"})
		require.NoError(t, err)

		s, err := NewService(Config{}, tm, postgres.NewStorage(pg.Pool))
		require.NoError(t, err)

		require.Equal(t, BcryptHasher{}, s.hasher, "default hasher should be BcryptHasher")
		require.Equal(t, defaultRefreshTokenTTL, s.refreshTTL)
		require.EqualValues(t, defaultMaxActiveTokens, s.maxActive)
	})

	t.Run("Login", func(t *testing.T) {
		t.Run("active account ok", func(t *testing.T) {
			withService(t, func(s *AuthService, st repository.Storage, tx pgx.Tx) {
				userID := seedAlice(t, tx, true)

				result, err := s.Login(t.Context(), "alice", "correct-pw", meta)

				require.NoError(t, err)
				require.NotEmpty(t, result.Pair.Access.Value)
				require.NotEmpty(t, result.Pair.Refresh.Value)
				require.WithinDuration(t, time.Now().Add(testRefreshTTL), result.Pair.Refresh.ExpiresAt, 5*time.Second)

				require.Equal(t, userID, result.Identity.UserID)
				require.Equal(t, []string{"admin"}, result.Identity.Roles)
				require.Equal(t, []string{"event.manage"}, result.Identity.Permissions)

				// Stored row carries the request metadata
				row, err := st.Refresh().Get(t.Context(), result.Pair.Refresh.Value)
				require.NoError(t, err)
				require.Equal(t, "test-agent", row.DeviceInfo)
				require.Equal(t, "127.0.0.1", row.IPAddress)
				require.False(t, row.Revoked)
			})
		})

		t.Run("email identifier ok", func(t *testing.T) {
			withService(t, func(s *AuthService, st repository.Storage, tx pgx.Tx) {
				seedAlice(t, tx, true)

				_, err := s.Login(t.Context(), "alice@masjid.id", "correct-pw", meta)

				require.NoError(t, err)
			})
		})

		t.Run("issued access token authenticates", func(t *testing.T) {
			withService(t, func(s *AuthService, st repository.Storage, tx pgx.Tx) {
				userID := seedAlice(t, tx, true)

				result, err := s.Login(t.Context(), "alice", "correct-pw", meta)
				require.NoError(t, err)

				identity, err := s.Authenticate(t.Context(), result.Pair.Access.Value)
				require.NoError(t, err)
				require.Equal(t, userID, identity.UserID)
				require.Equal(t, []string{"admin"}, identity.Roles)
			})
		})

		tests := []struct {
			name        string
			identifier  string
			password    string
			expectedErr error
		}{
			{
				name:        "fail on wrong password",
				identifier:  "alice",
				password:    "wrong-pw",
				expectedErr: apperrors.ErrInvalidCredentials,
			},
			{
				name:        "fail on unknown username",
				identifier:  "bob",
				password:    "correct-pw",
				expectedErr: apperrors.ErrInvalidCredentials,
			},
			{
				name:        "fail on unknown email",
				identifier:  "bob@masjid.id",
				password:    "correct-pw",
				expectedErr: apperrors.ErrInvalidCredentials,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				withService(t, func(s *AuthService, st repository.Storage, tx pgx.Tx) {
					userID := seedAlice(t, tx, true)

					_, err := s.Login(t.Context(), tt.identifier, tt.password, meta)

					require.Error(t, err)
					require.ErrorIs(t, err, tt.expectedErr)

					count, err := st.Refresh().CountActive(t.Context(), userID)
					require.NoError(t, err)
					require.Zero(t, count, "failed login must not create token rows")
				})
			})
		}

		t.Run("fail on inactive account", func(t *testing.T) {
			withService(t, func(s *AuthService, st repository.Storage, tx pgx.Tx) {
				seedAlice(t, tx, false)

				_, err := s.Login(t.Context(), "alice", "correct-pw", meta)

				require.Error(t, err)
				require.ErrorIs(t, err, apperrors.ErrAccountInactive)
			})
		})

		t.Run("device cap evicts oldest token", func(t *testing.T) {
			withService(t, func(s *AuthService, st repository.Storage, tx pgx.Tx) {
				userID := seedAlice(t, tx, true)

				secrets := make([]string, 0, testMaxTokens+1)
				for i := 0; i <= testMaxTokens; i++ {
					result, err := s.Login(t.Context(), "alice", "correct-pw", meta)
					require.NoError(t, err, "login %d should succeed", i+1)
					secrets = append(secrets, result.Pair.Refresh.Value)

					// created_at has second precision, make the ordering strict
					_, err = tx.Exec(t.Context(),
						`UPDATE refresh_tokens SET created_at = $1 WHERE token = $2`,
						time.Now().Add(time.Duration(i-10)*time.Minute), result.Pair.Refresh.Value)
					require.NoError(t, err)
				}

				count, err := st.Refresh().CountActive(t.Context(), userID)
				require.NoError(t, err)
				require.EqualValues(t, testMaxTokens, count, "cap is a hard ceiling")

				_, err = st.Refresh().Get(t.Context(), secrets[0])
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "the single oldest token must be evicted")

				for _, secret := range secrets[1:] {
					_, err := st.Refresh().Get(t.Context(), secret)
					require.NoError(t, err, "newer tokens must survive")
				}
			})
		})
	})

	t.Run("Refresh", func(t *testing.T) {
		t.Run("rotate once ok", func(t *testing.T) {
			withService(t, func(s *AuthService, st repository.Storage, tx pgx.Tx) {
				seedAlice(t, tx, true)
				initial, err := s.Login(t.Context(), "alice", "correct-pw", meta)
				require.NoError(t, err)

				pair, err := s.Refresh(t.Context(), initial.Pair.Refresh.Value, meta)

				require.NoError(t, err)
				require.NotEqual(t, initial.Pair.Access.Value, pair.Access.Value, "new access token should be different")
				require.NotEqual(t, initial.Pair.Refresh.Value, pair.Refresh.Value, "new refresh token should be different")
				require.WithinDuration(t, time.Now().Add(testRefreshTTL), pair.Refresh.ExpiresAt, 5*time.Second, "rotation computes a fresh expiry")

				_, err = st.Refresh().Get(t.Context(), initial.Pair.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "consumed row must be deleted, not kept")
			})
		})

		t.Run("second use of same token fails", func(t *testing.T) {
			withService(t, func(s *AuthService, st repository.Storage, tx pgx.Tx) {
				seedAlice(t, tx, true)
				initial, err := s.Login(t.Context(), "alice", "correct-pw", meta)
				require.NoError(t, err)

				_, err = s.Refresh(t.Context(), initial.Pair.Refresh.Value, meta)
				require.NoError(t, err)

				_, err = s.Refresh(t.Context(), initial.Pair.Refresh.Value, meta)
				require.Error(t, err)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "old secret is permanently dead")
			})
		})

		t.Run("unknown token fails", func(t *testing.T) {
			withService(t, func(s *AuthService, st repository.Storage, tx pgx.Tx) {
				_, err := s.Refresh(t.Context(), "no-such-token", meta)

				require.Error(t, err)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
			})
		})

		t.Run("expired token marked revoked", func(t *testing.T) {
			withService(t, func(s *AuthService, st repository.Storage, tx pgx.Tx) {
				userID := seedAlice(t, tx, true)

				expired, err := st.Refresh().Create(t.Context(), models.RefreshToken{
					ID:        uuid.New(),
					UserID:    userID,
					Token:     "expired-secret",
					ExpiresAt: time.Now().Add(-time.Hour),
					CreatedAt: time.Now().Add(-8 * 24 * time.Hour),
				})
				require.NoError(t, err)

				_, err = s.Refresh(t.Context(), expired.Token, meta)

				require.Error(t, err)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenExpired)

				// Mark, don't delete: the row stays as audit trail
				row, err := st.Refresh().Get(t.Context(), expired.Token)
				require.NoError(t, err)
				require.True(t, row.Revoked)
			})
		})

		t.Run("deactivated owner kills the token", func(t *testing.T) {
			withService(t, func(s *AuthService, st repository.Storage, tx pgx.Tx) {
				seedAlice(t, tx, true)
				initial, err := s.Login(t.Context(), "alice", "correct-pw", meta)
				require.NoError(t, err)

				_, err = tx.Exec(t.Context(), `UPDATE users SET is_active = false WHERE username = 'alice'`)
				require.NoError(t, err)

				_, err = s.Refresh(t.Context(), initial.Pair.Refresh.Value, meta)
				require.Error(t, err)
				require.ErrorIs(t, err, apperrors.ErrAccountInactive)

				_, err = st.Refresh().Get(t.Context(), initial.Pair.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "token must not stay usable for reactivation")
			})
		})
	})

	t.Run("Revoke", func(t *testing.T) {
		t.Run("is idempotent", func(t *testing.T) {
			withService(t, func(s *AuthService, st repository.Storage, tx pgx.Tx) {
				seedAlice(t, tx, true)
				initial, err := s.Login(t.Context(), "alice", "correct-pw", meta)
				require.NoError(t, err)

				require.NoError(t, s.Revoke(t.Context(), initial.Pair.Refresh.Value))
				require.NoError(t, s.Revoke(t.Context(), initial.Pair.Refresh.Value), "second revoke must not error")

				_, err = st.Refresh().Get(t.Context(), initial.Pair.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
			})
		})

		t.Run("unknown token is not an error", func(t *testing.T) {
			withService(t, func(s *AuthService, st repository.Storage, tx pgx.Tx) {
				require.NoError(t, s.Revoke(t.Context(), "no-such-token"))
			})
		})
	})

	t.Run("LogoutAll", func(t *testing.T) {
		withService(t, func(s *AuthService, st repository.Storage, tx pgx.Tx) {
			userID := seedAlice(t, tx, true)

			pairs := make([]models.TokenPair, 0, 3)
			for i := 0; i < 3; i++ {
				result, err := s.Login(t.Context(), "alice", "correct-pw", meta)
				require.NoError(t, err)
				pairs = append(pairs, result.Pair)
			}

			deleted, err := s.LogoutAll(t.Context(), userID)
			require.NoError(t, err)
			require.EqualValues(t, 3, deleted)

			for i, pair := range pairs {
				_, err := s.Refresh(t.Context(), pair.Refresh.Value, meta)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound,
					fmt.Sprintf("former token %d must be unusable after logout", i))
			}
		})
	})

	t.Run("Authenticate", func(t *testing.T) {
		t.Run("fail on garbage token", func(t *testing.T) {
			withService(t, func(s *AuthService, st repository.Storage, tx pgx.Tx) {
				_, err := s.Authenticate(t.Context(), "not-a-jwt")

				require.Error(t, err)
				require.ErrorIs(t, err, apperrors.ErrAccessTokenInvalid)
			})
		})

		t.Run("fail on deactivated account", func(t *testing.T) {
			withService(t, func(s *AuthService, st repository.Storage, tx pgx.Tx) {
				seedAlice(t, tx, true)
				result, err := s.Login(t.Context(), "alice", "correct-pw", meta)
				require.NoError(t, err)

				_, err = tx.Exec(t.Context(), `UPDATE users SET is_active = false WHERE username = 'alice'`)
				require.NoError(t, err)

				_, err = s.Authenticate(t.Context(), result.Pair.Access.Value)
				require.Error(t, err)
				assert.ErrorIs(t, err, apperrors.ErrAccountInactive)
			})
		})
	})

	t.Run("ListSessions", func(t *testing.T) {
		withService(t, func(s *AuthService, st repository.Storage, tx pgx.Tx) {
			userID := seedAlice(t, tx, true)

			for i := 0; i < 2; i++ {
				_, err := s.Login(t.Context(), "alice", "correct-pw", meta)
				require.NoError(t, err)
			}

			sessions, err := s.ListSessions(t.Context(), userID)

			require.NoError(t, err)
			require.Len(t, sessions, 2)
			for _, session := range sessions {
				require.Equal(t, "test-agent", session.DeviceInfo)
				require.Equal(t, "127.0.0.1", session.IPAddress)
			}
		})
	})

	t.Run("refresh secrets are unique and long enough", func(t *testing.T) {
		seen := map[string]bool{}
		for i := 0; i < 100; i++ {
			secret, err := newRefreshSecret()
			require.NoError(t, err)
			require.Len(t, secret, refreshSecretBytesLen*2, "hex encoding doubles the byte length")
			require.False(t, seen[secret], "secrets must not repeat")
			seen[secret] = true
		}
	})
}
