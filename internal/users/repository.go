package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Repository defines persistence operations for user accounts. Lookups by
// key take IdentityKey output.
type Repository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsernameKey(ctx context.Context, key string) (*User, error)
	GetByEmailKey(ctx context.Context, key string) (*User, error)
	UsernameKeyTaken(ctx context.Context, key string) (bool, error)
	EmailKeyTaken(ctx context.Context, key string) (bool, error)
	Update(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, id int64, hash string) error
	ReplaceRoles(ctx context.Context, id int64, roles []string) error
	SoftDelete(ctx context.Context, id int64, at time.Time) error
	List(ctx context.Context, filter ListFilter) ([]User, error)
}

// Unique index names, see platform/db.EnsureSchema.
const (
	usernameConstraint = "users_username_key_idx"
	emailConstraint    = "users_email_key_idx"
)

const selectUser = `SELECT u.id, u.username, u.email, u.password_hash, u.is_active, u.created_at, u.updated_at, u.deleted_at,
	COALESCE(array_agg(ur.role_name ORDER BY ur.role_name) FILTER (WHERE ur.role_name IS NOT NULL), '{}')
FROM users u
LEFT JOIN user_roles ur ON ur.user_id = u.id`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Create inserts the account and its role assignments in one transaction.
// A unique index violation maps to shared.ErrDuplicateIdentity.
func (r *PGRepository) Create(ctx context.Context, user *User) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO users (username, username_key, email, email_key, password_hash, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			RETURNING id`,
			user.Username, IdentityKey(user.Username), user.Email, IdentityKey(user.Email),
			user.PasswordHash, user.IsActive, user.CreatedAt,
		).Scan(&user.ID)
		if err != nil {
			return mapWriteError(err)
		}
		return insertRoles(ctx, tx, user.ID, user.Roles)
	})
}

// GetByID fetches a live account by id.
func (r *PGRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	return r.getOne(ctx, selectUser+` WHERE u.id = $1 AND u.deleted_at IS NULL GROUP BY u.id`, id)
}

// GetByUsernameKey fetches a live account by folded username.
func (r *PGRepository) GetByUsernameKey(ctx context.Context, key string) (*User, error) {
	return r.getOne(ctx, selectUser+` WHERE u.username_key = $1 AND u.deleted_at IS NULL GROUP BY u.id`, key)
}

// GetByEmailKey fetches a live account by folded email.
func (r *PGRepository) GetByEmailKey(ctx context.Context, key string) (*User, error) {
	return r.getOne(ctx, selectUser+` WHERE u.email_key = $1 AND u.deleted_at IS NULL GROUP BY u.id`, key)
}

// UsernameKeyTaken reports whether any row, soft-deleted included, holds the key.
func (r *PGRepository) UsernameKeyTaken(ctx context.Context, key string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username_key = $1)`, key)
}

// EmailKeyTaken reports whether any row, soft-deleted included, holds the key.
func (r *PGRepository) EmailKeyTaken(ctx context.Context, key string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email_key = $1)`, key)
}

// Update persists username, email and status changes.
func (r *PGRepository) Update(ctx context.Context, user *User) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users
		SET username = $2, username_key = $3, email = $4, email_key = $5, is_active = $6, updated_at = $7
		WHERE id = $1 AND deleted_at IS NULL`,
		user.ID, user.Username, IdentityKey(user.Username), user.Email, IdentityKey(user.Email),
		user.IsActive, user.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// UpdatePassword replaces the stored hash.
func (r *PGRepository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ReplaceRoles swaps the user's role assignments atomically.
func (r *PGRepository) ReplaceRoles(ctx context.Context, id int64, roles []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND deleted_at IS NULL)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return shared.ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, id); err != nil {
			return err
		}
		return insertRoles(ctx, tx, id, roles)
	})
}

// SoftDelete disables the account and stamps deleted_at. Login and token
// history rows keep pointing at it.
func (r *PGRepository) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active = FALSE, deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// List returns accounts ordered by id.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]User, error) {
	query := selectUser + ` WHERE ($1 OR u.deleted_at IS NULL)
		AND ($2 = '' OR EXISTS (SELECT 1 FROM user_roles f WHERE f.user_id = u.id AND f.role_name = $2))
		GROUP BY u.id ORDER BY u.id`
	rows, err := r.pool.Query(ctx, query, filter.IncludeDeleted, filter.Role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *PGRepository) getOne(ctx context.Context, query string, arg any) (*User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

func (r *PGRepository) exists(ctx context.Context, query string, arg any) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, query, arg).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt, &u.Roles); err != nil {
		return nil, err
	}
	return &u, nil
}

func insertRoles(ctx context.Context, tx pgx.Tx, userID int64, roles []string) error {
	if len(roles) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, role := range roles {
		batch.Queue(`INSERT INTO user_roles (user_id, role_name) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, role)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("users: assign roles: %w", err)
	}
	return nil
}

func mapWriteError(err error) error {
	switch {
	case db.IsUniqueViolation(err, usernameConstraint):
		return fmt.Errorf("%w: username", shared.ErrDuplicateIdentity)
	case db.IsUniqueViolation(err, emailConstraint):
		return fmt.Errorf("%w: email", shared.ErrDuplicateIdentity)
	case db.IsUniqueViolation(err, ""):
		return shared.ErrDuplicateIdentity
	default:
		return err
	}
}

var _ Repository = (*PGRepository)(nil)
