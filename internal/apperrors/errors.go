package apperrors

import (
	"errors"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is inactive")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenExpired  = errors.New("refresh token is expired")
	ErrAccessTokenInvalid   = errors.New("access token is invalid or expired")

	// Transient infrastructure failure. The only error a caller may safely retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
