package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/masjidku/masjidauth/internal/apperrors"
	"github.com/masjidku/masjidauth/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const tokenColumns = `id, user_id, token, expires_at, revoked, device_info, ip_address, created_at, updated_at`

const createToken = `-- name: createToken
INSERT INTO refresh_tokens (id, user_id, token, expires_at, revoked, device_info, ip_address, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
RETURNING ` + tokenColumns

func (r *RefreshTokenRepo) Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, createToken,
		token.ID, token.UserID, token.Token, token.ExpiresAt, token.Revoked,
		token.DeviceInfo, token.IPAddress, token.CreatedAt,
	)
	created, err := pgx.CollectOneRow(rows, rowToToken)
	if err != nil {
		return created, dbError(err)
	}
	return created, nil
}

const getToken = `-- name: getToken
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE token = $1
`

// Get token by its string regardless of state (revoked or expired included)
func (r *RefreshTokenRepo) Get(ctx context.Context, tokenString string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getToken, tokenString)
	return collectToken(rows)
}

const findValidToken = `-- name: findValidToken
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE token = $1 AND revoked = false
FOR UPDATE
`

// FindValidForUpdate finds a non-revoked token and locks its row. Concurrent
// refreshes with the same token string serialize here: the loser re-evaluates
// the predicate after the winner commits, sees no row and gets
// apperrors.ErrRefreshTokenNotFound. Expiry is left to the caller.
func (r *RefreshTokenRepo) FindValidForUpdate(ctx context.Context, tokenString string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, findValidToken, tokenString)
	return collectToken(rows)
}

const countActiveTokens = `-- name: countActiveTokens
SELECT count(*)
FROM refresh_tokens
WHERE user_id = $1 AND revoked = false
`

func (r *RefreshTokenRepo) CountActive(ctx context.Context, userID uuid.UUID) (int64, error) {
	rows, _ := r.DB.Query(ctx, countActiveTokens, userID)
	count, err := pgx.CollectOneRow(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, dbError(err)
	}
	return count, nil
}

const evictOldestTokens = `-- name: evictOldestTokens
DELETE FROM refresh_tokens
WHERE id IN (
	SELECT id
	FROM refresh_tokens
	WHERE user_id = $1 AND revoked = false
	ORDER BY created_at DESC
	OFFSET $2
)
`

// EvictOldest keeps the newest `keep` non-revoked rows of the user and
// deletes the rest, oldest first by created_at.
func (r *RefreshTokenRepo) EvictOldest(ctx context.Context, userID uuid.UUID, keep int64) (int64, error) {
	tag, err := r.DB.Exec(ctx, evictOldestTokens, userID, keep)
	if err != nil {
		return 0, dbError(err)
	}
	return tag.RowsAffected(), nil
}

const markTokenRevoked = `-- name: markTokenRevoked
UPDATE refresh_tokens
SET revoked = true, updated_at = $2
WHERE token = $1
`

// MarkRevoked flips the revoked flag keeping the row for audit.
// Used for expired tokens seen at refresh time, explicit logout deletes rows.
func (r *RefreshTokenRepo) MarkRevoked(ctx context.Context, tokenString string) error {
	tag, err := r.DB.Exec(ctx, markTokenRevoked, tokenString, time.Now())
	if err != nil {
		return dbError(err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrRefreshTokenNotFound
	}
	return nil
}

const deleteToken = `-- name: deleteToken
DELETE FROM refresh_tokens
WHERE token = $1
`

func (r *RefreshTokenRepo) DeleteToken(ctx context.Context, tokenString string) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteToken, tokenString)
	if err != nil {
		return 0, dbError(err)
	}
	return tag.RowsAffected(), nil
}

const deleteUserTokens = `-- name: deleteUserTokens
DELETE FROM refresh_tokens
WHERE user_id = $1
`

func (r *RefreshTokenRepo) DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteUserTokens, userID)
	if err != nil {
		return 0, dbError(err)
	}
	return tag.RowsAffected(), nil
}

const listUserTokens = `-- name: listUserTokens
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE user_id = $1
ORDER BY created_at DESC
`

func (r *RefreshTokenRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, listUserTokens, userID)
	tokens, err := pgx.CollectRows(rows, rowToToken)
	if err != nil {
		return nil, dbError(err)
	}
	return tokens, nil
}

const revokedBeforePredicate = `revoked = true AND updated_at < $1`

const countRevokedBefore = `-- name: countRevokedBefore
SELECT count(*)
FROM refresh_tokens
WHERE ` + revokedBeforePredicate

func (r *RefreshTokenRepo) CountRevokedBefore(ctx context.Context, updatedBefore time.Time) (int64, error) {
	rows, _ := r.DB.Query(ctx, countRevokedBefore, updatedBefore)
	count, err := pgx.CollectOneRow(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, dbError(err)
	}
	return count, nil
}

const purgeRevokedBefore = `-- name: purgeRevokedBefore
DELETE FROM refresh_tokens
WHERE ` + revokedBeforePredicate

func (r *RefreshTokenRepo) PurgeRevokedBefore(ctx context.Context, updatedBefore time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, purgeRevokedBefore, updatedBefore)
	if err != nil {
		return 0, dbError(err)
	}
	return tag.RowsAffected(), nil
}

// Expired pass excludes rows the revoked pass already matches, so the two
// sweep counters never count the same row twice.
const expiredBeforePredicate = `expires_at < $1 AND NOT (revoked = true AND updated_at < $2)`

const countExpiredBefore = `-- name: countExpiredBefore
SELECT count(*)
FROM refresh_tokens
WHERE ` + expiredBeforePredicate

func (r *RefreshTokenRepo) CountExpiredBefore(ctx context.Context, expiredBefore time.Time, revokedUpdatedBefore time.Time) (int64, error) {
	rows, _ := r.DB.Query(ctx, countExpiredBefore, expiredBefore, revokedUpdatedBefore)
	count, err := pgx.CollectOneRow(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, dbError(err)
	}
	return count, nil
}

const purgeExpiredBefore = `-- name: purgeExpiredBefore
DELETE FROM refresh_tokens
WHERE ` + expiredBeforePredicate

func (r *RefreshTokenRepo) PurgeExpiredBefore(ctx context.Context, expiredBefore time.Time, revokedUpdatedBefore time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, purgeExpiredBefore, expiredBefore, revokedUpdatedBefore)
	if err != nil {
		return 0, dbError(err)
	}
	return tag.RowsAffected(), nil
}

func collectToken(rows pgx.Rows) (models.RefreshToken, error) {
	token, err := pgx.CollectOneRow(rows, rowToToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, apperrors.ErrRefreshTokenNotFound
	default:
		return token, dbError(err)
	}
}

func rowToToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(
		&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.Revoked,
		&t.DeviceInfo, &t.IPAddress, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}
