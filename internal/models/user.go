package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Name           string
	Username       string
	Email          string
	HashedPassword string
	IsActive       bool
}

// Identity is the verified snapshot of a user taken at authentication time.
// It is built once per authentication event and passed by value; nothing
// re-queries roles or permissions mid-flow.
type Identity struct {
	UserID      uuid.UUID
	Name        string
	Username    string
	Email       string
	IsActive    bool
	Roles       []string
	Permissions []string
}

// Role returns the primary role name or "user" if no role is assigned.
func (i Identity) Role() string {
	if len(i.Roles) == 0 {
		return "user"
	}
	return i.Roles[0]
}
