package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// LoginRepository stores the append-only login history.
type LoginRepository interface {
	RecordLogin(ctx context.Context, login *UserLogin) error
	ListLogins(ctx context.Context, userID int64, limit int) ([]UserLogin, error)
	PruneLogins(ctx context.Context, before time.Time) (int64, error)
}

// TokenRepository stores issued auth tokens by digest.
type TokenRepository interface {
	CreateToken(ctx context.Context, token *AuthToken) error
	FindTokenByHash(ctx context.Context, hash string) (*AuthToken, error)
	RevokeToken(ctx context.Context, id uuid.UUID, at time.Time) error
	RevokeUserTokens(ctx context.Context, userID int64, at time.Time) (int64, error)
	PruneTokens(ctx context.Context, before time.Time) (int64, error)
}

// Repository defines persistence operations for auth module.
type Repository interface {
	LoginRepository
	TokenRepository
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// RecordLogin appends a login attempt.
func (r *PGRepository) RecordLogin(ctx context.Context, login *UserLogin) error {
	return r.pool.QueryRow(ctx, `INSERT INTO user_logins (user_id, identifier, success, ip, user_agent, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		login.UserID, login.Identifier, login.Success,
		pgtype.Text{String: login.IP, Valid: login.IP != ""},
		pgtype.Text{String: login.UserAgent, Valid: login.UserAgent != ""},
		login.AttemptedAt.UTC(),
	).Scan(&login.ID)
}

// ListLogins returns the newest attempts for a user.
func (r *PGRepository) ListLogins(ctx context.Context, userID int64, limit int) ([]UserLogin, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, identifier, success, COALESCE(ip, ''), COALESCE(user_agent, ''), attempted_at
		FROM user_logins WHERE user_id = $1 ORDER BY attempted_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserLogin
	for rows.Next() {
		var l UserLogin
		if err := rows.Scan(&l.ID, &l.UserID, &l.Identifier, &l.Success, &l.IP, &l.UserAgent, &l.AttemptedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// PruneLogins deletes attempts older than before.
func (r *PGRepository) PruneLogins(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_logins WHERE attempted_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CreateToken stores a newly issued token.
func (r *PGRepository) CreateToken(ctx context.Context, token *AuthToken) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO auth_tokens (id, user_id, token_hash, purpose, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		token.ID, token.UserID, token.TokenHash, token.Purpose, token.IssuedAt.UTC(), token.ExpiresAt.UTC())
	return err
}

// FindTokenByHash fetches a token by digest, revoked or not.
func (r *PGRepository) FindTokenByHash(ctx context.Context, hash string) (*AuthToken, error) {
	var t AuthToken
	err := r.pool.QueryRow(ctx, `SELECT id, user_id, token_hash, purpose, issued_at, expires_at, revoked_at
		FROM auth_tokens WHERE token_hash = $1`, hash,
	).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.Purpose, &t.IssuedAt, &t.ExpiresAt, &t.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// RevokeToken stamps revoked_at once; already revoked tokens are untouched.
func (r *PGRepository) RevokeToken(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE auth_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at.UTC())
	return err
}

// RevokeUserTokens revokes every live token of a user.
func (r *PGRepository) RevokeUserTokens(ctx context.Context, userID int64, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE auth_tokens SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`, userID, at.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PruneTokens deletes tokens that expired before the cutoff.
func (r *PGRepository) PruneTokens(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM auth_tokens WHERE expires_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)
