package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type SeedUser struct {
	ID           uuid.UUID
	Name         string
	Username     string
	Email        string
	PasswordHash string
	IsActive     bool
	Roles        []string
	Permissions  map[string][]string // role name -> permission names
}

// CreateUser inserts a user with roles and permissions for tests.
// The auth core itself never writes users, user management belongs to the
// admin CRUD layer outside this service.
func CreateUser(t *testing.T, db execer, u SeedUser) uuid.UUID {
	t.Helper()

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}

	_, err := db.Exec(t.Context(), `
		INSERT INTO users (id, name, username, email, password_hash, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Name, u.Username, u.Email, u.PasswordHash, u.IsActive,
	)
	require.NoError(t, err, "Error happened when seeding user")

	for _, role := range u.Roles {
		_, err = db.Exec(t.Context(), `
			INSERT INTO roles (name) VALUES ($1)
			ON CONFLICT (name) DO NOTHING`, role)
		require.NoError(t, err)

		_, err = db.Exec(t.Context(), `
			INSERT INTO user_roles (user_id, role_id)
			SELECT $1, id FROM roles WHERE name = $2`, u.ID, role)
		require.NoError(t, err)

		for _, permission := range u.Permissions[role] {
			_, err = db.Exec(t.Context(), `
				INSERT INTO permissions (name) VALUES ($1)
				ON CONFLICT (name) DO NOTHING`, permission)
			require.NoError(t, err)

			_, err = db.Exec(t.Context(), `
				INSERT INTO role_permissions (role_id, permission_id)
				SELECT r.id, p.id FROM roles r, permissions p
				WHERE r.name = $1 AND p.name = $2
				ON CONFLICT DO NOTHING`, role, permission)
			require.NoError(t, err)
		}
	}

	return u.ID
}
