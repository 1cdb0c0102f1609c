package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/masjidku/masjidauth/internal/models"
)

// User repository interface
type UserRepo interface {
	// Get user by it's id, username or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	// Load role and permission name sets assigned to user
	GetRoles(ctx context.Context, userID uuid.UUID) ([]string, error)
	GetPermissions(ctx context.Context, userID uuid.UUID) ([]string, error)

	// Lock the user row until the transaction ends. Serializes token
	// issuance per user so concurrent logins can't both pass the device
	// cap check. If user not found must return apperrors.ErrUserNotFound
	LockUser(ctx context.Context, userID uuid.UUID) error
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	// Create token row
	Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Get token regardless of its state
	// If not found must return apperrors.ErrRefreshTokenNotFound
	Get(ctx context.Context, tokenString string) (models.RefreshToken, error)

	// Find non-revoked token by exact match and lock the row for the rest
	// of the transaction. Expiry is NOT checked here: the caller needs to
	// tell "not found or revoked" apart from "found but expired".
	// If not found must return apperrors.ErrRefreshTokenNotFound
	FindValidForUpdate(ctx context.Context, tokenString string) (models.RefreshToken, error)

	// Count non-revoked tokens for user, regardless of expiry
	CountActive(ctx context.Context, userID uuid.UUID) (int64, error)

	// Delete oldest-created non-revoked tokens for user until at most
	// keep rows remain. Returns number of deleted rows.
	EvictOldest(ctx context.Context, userID uuid.UUID, keep int64) (int64, error)

	// Set revoked flag, keeping the row for audit
	MarkRevoked(ctx context.Context, tokenString string) error

	// Delete row by token value. Returns number of deleted rows (0 or 1),
	// missing row is not an error.
	DeleteToken(ctx context.Context, tokenString string) (int64, error)

	// Delete every token row of user regardless of state
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)

	// List user tokens ordered by creation time, newest first
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error)

	// Cleanup queries. Count pair mirrors the purge pair so a dry run can
	// report without deleting. The expired purge skips rows the revoked
	// purge already matched to keep the two counts non-overlapping.
	CountRevokedBefore(ctx context.Context, updatedBefore time.Time) (int64, error)
	CountExpiredBefore(ctx context.Context, expiredBefore time.Time, revokedUpdatedBefore time.Time) (int64, error)
	PurgeRevokedBefore(ctx context.Context, updatedBefore time.Time) (int64, error)
	PurgeExpiredBefore(ctx context.Context, expiredBefore time.Time, revokedUpdatedBefore time.Time) (int64, error)
}

// Storage aggregates repositories over a single database handle
type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo

	// Run fn inside a database transaction. Rollback on error.
	InTx(ctx context.Context, fn func(s Storage) error) error
}
