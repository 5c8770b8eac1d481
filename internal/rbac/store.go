package rbac

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Store persists registry state. The Registry keeps the authoritative
// in-memory copy and writes through on every mutation.
type Store interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	UpsertPermission(ctx context.Context, perm Permission) error
	UpsertRole(ctx context.Context, role Role) error
	DeleteRole(ctx context.Context, name string) error
	ReplaceRolePermissions(ctx context.Context, role string, perms []string) error
	AddRolePermission(ctx context.Context, role, perm string) error
	RemoveRolePermission(ctx context.Context, role, perm string) error
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a PostgreSQL backed store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Snapshot reads every permission, role and grant.
func (s *PGStore) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Grants: make(map[string][]string)}

	rows, err := s.pool.Query(ctx, `SELECT name, description FROM permissions ORDER BY name`)
	if err != nil {
		return snap, err
	}
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Name, &p.Description); err != nil {
			rows.Close()
			return snap, err
		}
		snap.Permissions = append(snap.Permissions, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, err
	}

	rows, err = s.pool.Query(ctx, `SELECT name, COALESCE(parent, ''), description FROM roles ORDER BY name`)
	if err != nil {
		return snap, err
	}
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.Name, &r.Parent, &r.Description); err != nil {
			rows.Close()
			return snap, err
		}
		snap.Roles = append(snap.Roles, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, err
	}

	rows, err = s.pool.Query(ctx, `SELECT role_name, permission_name FROM role_permissions ORDER BY role_name, permission_name`)
	if err != nil {
		return snap, err
	}
	defer rows.Close()
	for rows.Next() {
		var role, perm string
		if err := rows.Scan(&role, &perm); err != nil {
			return snap, err
		}
		snap.Grants[role] = append(snap.Grants[role], perm)
	}
	return snap, rows.Err()
}

// UpsertPermission inserts or updates a permission description.
func (s *PGStore) UpsertPermission(ctx context.Context, perm Permission) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO permissions (name, description) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description`, perm.Name, perm.Description)
	return err
}

// UpsertRole inserts or updates a role including its parent link.
func (s *PGStore) UpsertRole(ctx context.Context, role Role) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO roles (name, parent, description) VALUES ($1, NULLIF($2, ''), $3)
		ON CONFLICT (name) DO UPDATE SET parent = EXCLUDED.parent, description = EXCLUDED.description, updated_at = NOW()`,
		role.Name, role.Parent, role.Description)
	return err
}

// DeleteRole removes a role; grants and user assignments cascade.
func (s *PGStore) DeleteRole(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM roles WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ReplaceRolePermissions swaps the direct grants of a role in one
// transaction.
func (s *PGStore) ReplaceRolePermissions(ctx context.Context, role string, perms []string) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_name = $1`, role); err != nil {
			return err
		}
		if len(perms) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, p := range perms {
			batch.Queue(`INSERT INTO role_permissions (role_name, permission_name) VALUES ($1, $2)`, role, p)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("rbac: replace grants: %w", err)
		}
		return nil
	})
}

// AddRolePermission grants a single permission.
func (s *PGStore) AddRolePermission(ctx context.Context, role, perm string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO role_permissions (role_name, permission_name) VALUES ($1, $2) ON CONFLICT DO NOTHING`, role, perm)
	return err
}

// RemoveRolePermission revokes a single permission.
func (s *PGStore) RemoveRolePermission(ctx context.Context, role, perm string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM role_permissions WHERE role_name = $1 AND permission_name = $2`, role, perm)
	return err
}

var _ Store = (*PGStore)(nil)
