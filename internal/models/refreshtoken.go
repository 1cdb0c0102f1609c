package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenState is the lifecycle state of a refresh token. It is always derived
// from the stored fields on read and never persisted, so the revoked flag and
// the expiry check can not drift apart.
type TokenState int

const (
	StateActive TokenState = iota
	StateRevoked
	StateExpired
)

func (s TokenState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRevoked:
		return "revoked"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

type RefreshToken struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Token      string
	ExpiresAt  time.Time
	Revoked    bool
	DeviceInfo string
	IPAddress  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// State derives the lifecycle state at the given moment.
// Revocation wins over expiry for already revoked rows.
func (t RefreshToken) State(now time.Time) TokenState {
	switch {
	case t.Revoked:
		return StateRevoked
	case !t.ExpiresAt.After(now):
		return StateExpired
	default:
		return StateActive
	}
}

// Usable reports whether the token may still be exchanged.
func (t RefreshToken) Usable(now time.Time) bool {
	return t.State(now) == StateActive
}
