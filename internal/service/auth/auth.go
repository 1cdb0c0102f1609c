package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/masjidku/masjidauth/internal/apperrors"
	"github.com/masjidku/masjidauth/internal/models"
	"github.com/masjidku/masjidauth/internal/repository"
	"github.com/masjidku/masjidauth/internal/service/auth/tokenmanager"
)

const (
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultMaxActiveTokens = 5

	// Refresh secrets carry 256 bits of entropy from crypto/rand.
	refreshSecretBytesLen = 32
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type Config struct {
	// Hasher to compare user passwords on login
	// BcryptHasher is used if not set
	Hasher PasswordHasher

	// Refresh token lifetime
	// If not set then default (7 days) is used
	RefreshTokenTTL time.Duration

	// Hard ceiling of non-revoked refresh tokens per user
	// If not set then default (5) is used
	MaxActiveTokens int64
}

// Result of successful login: identity snapshot crosses to the caller here
// and nowhere else.
type LoginResult struct {
	Identity models.Identity
	Pair     models.TokenPair
}

// AuthService orchestrates login, refresh, revoke and logout over the
// refresh token store. It is the only component holding business logic.
type AuthService struct {
	token      *tokenmanager.TokenManager
	hasher     PasswordHasher
	storage    repository.Storage
	refreshTTL time.Duration
	maxActive  int64
}

func NewService(cfg Config, token *tokenmanager.TokenManager, storage repository.Storage) (*AuthService, error) {
	if token == nil || storage == nil {
		return nil, errors.New("token manager and storage must not be nil")
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = defaultRefreshTokenTTL
	}

	if cfg.MaxActiveTokens == 0 {
		cfg.MaxActiveTokens = defaultMaxActiveTokens
	}

	return &AuthService{
		token:      token,
		hasher:     hasher,
		storage:    storage,
		refreshTTL: cfg.RefreshTokenTTL,
		maxActive:  cfg.MaxActiveTokens,
	}, nil
}

// AccessTTL is the lifetime of issued access tokens
func (s *AuthService) AccessTTL() time.Duration {
	return s.token.AccessTTL()
}

// Login verifies credentials and issues a fresh token pair. Keeps at most
// MaxActiveTokens non-revoked refresh tokens per user, evicting the oldest.
func (s *AuthService) Login(ctx context.Context, identifier string, password string, meta models.ClientMeta) (LoginResult, error) {
	user, err := s.verifyCredentials(ctx, identifier, password)
	if err != nil {
		return LoginResult{}, err
	}

	if !user.IsActive {
		return LoginResult{}, apperrors.ErrAccountInactive
	}

	identity, err := s.buildIdentity(ctx, s.storage.User(), user)
	if err != nil {
		return LoginResult{}, err
	}

	access, err := s.token.Issue(identity, time.Now())
	if err != nil {
		return LoginResult{}, fmt.Errorf("error while issuing access token. Err: %w", err)
	}

	var refresh models.RefreshToken
	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		// Serialize count-and-evict per user, two concurrent logins must
		// not both observe count < cap and breach it
		if err := st.User().LockUser(ctx, user.ID); err != nil {
			return err
		}

		count, err := st.Refresh().CountActive(ctx, user.ID)
		if err != nil {
			return err
		}

		if count >= s.maxActive {
			if _, err := st.Refresh().EvictOldest(ctx, user.ID, s.maxActive-1); err != nil {
				return err
			}
		}

		refresh, err = s.createRefreshToken(ctx, st.Refresh(), user.ID, meta)
		return err
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("error while creating refresh token. Err: %w", err)
	}

	return LoginResult{
		Identity: identity,
		Pair: models.TokenPair{
			Access:  access,
			Refresh: models.IssuedToken{Value: refresh.Token, ExpiresAt: refresh.ExpiresAt},
		},
	}, nil
}

// Refresh exchanges a valid refresh token for a new pair. The consumed row is
// deleted and replaced atomically: the old secret is dead as soon as this call
// starts processing it, even on replay.
func (s *AuthService) Refresh(ctx context.Context, refreshString string, meta models.ClientMeta) (models.TokenPair, error) {
	var pair models.TokenPair

	// Terminal auth outcome decided inside the transaction. Kept apart from
	// the tx error so bookkeeping writes (marking an expired row revoked,
	// deleting a deactivated user's row) still commit.
	var authErr error

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		// Row lock makes concurrent refreshes with the same secret mutually
		// exclusive: the loser observes the deleted row and fails with
		// ErrRefreshTokenNotFound
		row, err := st.Refresh().FindValidForUpdate(ctx, refreshString)
		if err != nil {
			return err
		}

		if row.State(time.Now()) == models.StateExpired {
			// Mark, don't delete: keeps an audit trail of expiry events
			if err := st.Refresh().MarkRevoked(ctx, row.Token); err != nil {
				return err
			}
			authErr = apperrors.ErrRefreshTokenExpired
			return nil
		}

		user, err := st.User().GetUserByID(ctx, row.UserID)
		if err != nil {
			return err
		}

		if !user.IsActive {
			// Deactivation closes the window: the presented token dies with
			// the account instead of staying usable for a reactivation
			if _, err := st.Refresh().DeleteToken(ctx, row.Token); err != nil {
				return err
			}
			authErr = apperrors.ErrAccountInactive
			return nil
		}

		identity, err := s.buildIdentity(ctx, st.User(), user)
		if err != nil {
			return err
		}

		access, err := s.token.Issue(identity, time.Now())
		if err != nil {
			return err
		}

		// Rotate: delete consumed row, insert replacement. Both inside this
		// transaction so a crash can't leave the device with zero tokens.
		if _, err := st.Refresh().DeleteToken(ctx, row.Token); err != nil {
			return err
		}

		next, err := s.createRefreshToken(ctx, st.Refresh(), user.ID, meta)
		if err != nil {
			return err
		}

		pair = models.TokenPair{
			Access:  access,
			Refresh: models.IssuedToken{Value: next.Token, ExpiresAt: next.ExpiresAt},
		}
		return nil
	})
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("error while rotating refresh token. Err: %w", err)
	}
	if authErr != nil {
		return models.TokenPair{}, authErr
	}

	return pair, nil
}

// Revoke deletes the matching refresh token row. Idempotent: a missing row is
// not an error.
func (s *AuthService) Revoke(ctx context.Context, refreshString string) error {
	_, err := s.storage.Refresh().DeleteToken(ctx, refreshString)
	if err != nil {
		return fmt.Errorf("error while revoking refresh token. Err: %w", err)
	}
	return nil
}

// LogoutAll deletes every refresh token of the user regardless of state and
// returns the number of deleted rows.
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	deleted, err := s.storage.Refresh().DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("error while deleting user tokens. Err: %w", err)
	}
	return deleted, nil
}

// Authenticate verifies an access token and rebuilds the identity snapshot.
// Used by the HTTP middleware, this is the identity object everything
// downstream of the auth core consumes.
func (s *AuthService) Authenticate(ctx context.Context, accessString string) (models.Identity, error) {
	claims, err := s.token.Parse(accessString)
	if err != nil {
		return models.Identity{}, err
	}

	user, err := s.storage.User().GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			return models.Identity{}, apperrors.ErrAccessTokenInvalid
		}
		return models.Identity{}, err
	}

	if !user.IsActive {
		return models.Identity{}, apperrors.ErrAccountInactive
	}

	return s.buildIdentity(ctx, s.storage.User(), user)
}

// ListSessions returns the user's refresh token rows, newest first.
// Device info and IP are diagnostic only.
func (s *AuthService) ListSessions(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	return s.storage.Refresh().ListForUser(ctx, userID)
}

// verifyCredentials answers "who are you": identifier is classified as email
// or username by format and looked up on that field only. Unknown user and
// wrong password collapse into the same error to prevent enumeration.
// Whether the account is allowed in now is a separate concern of the caller.
func (s *AuthService) verifyCredentials(ctx context.Context, identifier string, password string) (models.User, error) {
	var user models.User
	var err error

	if _, mailErr := mail.ParseAddress(identifier); mailErr == nil {
		user, err = s.storage.User().GetUserByEmail(ctx, identifier)
	} else {
		user, err = s.storage.User().GetUserByUsername(ctx, identifier)
	}

	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return models.User{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return models.User{}, err
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return models.User{}, apperrors.ErrInvalidCredentials
	}

	return user, nil
}

// buildIdentity loads role and permission sets once and freezes them into an
// immutable snapshot
func (s *AuthService) buildIdentity(ctx context.Context, users repository.UserRepo, user models.User) (models.Identity, error) {
	roles, err := users.GetRoles(ctx, user.ID)
	if err != nil {
		return models.Identity{}, fmt.Errorf("error while loading user roles. Err: %w", err)
	}

	permissions, err := users.GetPermissions(ctx, user.ID)
	if err != nil {
		return models.Identity{}, fmt.Errorf("error while loading user permissions. Err: %w", err)
	}

	return models.Identity{
		UserID:      user.ID,
		Name:        user.Name,
		Username:    user.Username,
		Email:       user.Email,
		IsActive:    user.IsActive,
		Roles:       roles,
		Permissions: permissions,
	}, nil
}

func (s *AuthService) createRefreshToken(ctx context.Context, tokens repository.RefreshTokenRepo, userID uuid.UUID, meta models.ClientMeta) (models.RefreshToken, error) {
	secret, err := newRefreshSecret()
	if err != nil {
		return models.RefreshToken{}, err
	}

	now := time.Now().Truncate(time.Second)

	return tokens.Create(ctx, models.RefreshToken{
		ID:         uuid.New(),
		UserID:     userID,
		Token:      secret,
		ExpiresAt:  now.Add(s.refreshTTL),
		Revoked:    false,
		DeviceInfo: meta.DeviceInfo,
		IPAddress:  meta.IPAddress,
		CreatedAt:  now,
	})
}

// newRefreshSecret is the single secret generation strategy: hex encoded
// output of a cryptographically secure random source, never derived from
// timestamps or other predictable inputs.
func newRefreshSecret() (string, error) {
	b := make([]byte, refreshSecretBytesLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error while generating refresh secret. Err: %w", err)
	}
	return hex.EncodeToString(b), nil
}
