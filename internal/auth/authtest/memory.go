// Package authtest provides an in-memory auth.Repository for tests.
package authtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// MemoryRepository stores logins and tokens in maps.
type MemoryRepository struct {
	mu        sync.Mutex
	logins    []auth.UserLogin
	tokens    map[uuid.UUID]auth.AuthToken
	nextID    int64
	FailLog   error
	FailToken error
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tokens: make(map[uuid.UUID]auth.AuthToken)}
}

// RecordLogin appends a login, or fails with FailLog when set.
func (r *MemoryRepository) RecordLogin(ctx context.Context, login *auth.UserLogin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailLog != nil {
		return r.FailLog
	}
	r.nextID++
	login.ID = r.nextID
	r.logins = append(r.logins, *login)
	return nil
}

// ListLogins returns the newest attempts for userID.
func (r *MemoryRepository) ListLogins(ctx context.Context, userID int64, limit int) ([]auth.UserLogin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []auth.UserLogin
	for i := len(r.logins) - 1; i >= 0 && len(out) < limit; i-- {
		if l := r.logins[i]; l.UserID != nil && *l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

// PruneLogins drops attempts before the cutoff.
func (r *MemoryRepository) PruneLogins(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.logins[:0]
	var n int64
	for _, l := range r.logins {
		if l.AttemptedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	r.logins = kept
	return n, nil
}

// Logins returns a copy of every recorded attempt in insertion order.
func (r *MemoryRepository) Logins() []auth.UserLogin {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]auth.UserLogin(nil), r.logins...)
}

// CreateToken stores a token, or fails with FailToken when set.
func (r *MemoryRepository) CreateToken(ctx context.Context, token *auth.AuthToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailToken != nil {
		return r.FailToken
	}
	r.tokens[token.ID] = *token
	return nil
}

// FindTokenByHash looks a token up by digest.
func (r *MemoryRepository) FindTokenByHash(ctx context.Context, hash string) (*auth.AuthToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.TokenHash == hash {
			out := t
			return &out, nil
		}
	}
	return nil, shared.ErrNotFound
}

// RevokeToken stamps the token revoked.
func (r *MemoryRepository) RevokeToken(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[id]; ok && t.RevokedAt == nil {
		t.RevokedAt = &at
		r.tokens[id] = t
	}
	return nil
}

// RevokeUserTokens revokes every live token of the user.
func (r *MemoryRepository) RevokeUserTokens(ctx context.Context, userID int64, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &at
			r.tokens[id] = t
			n++
		}
	}
	return n, nil
}

// PruneTokens deletes tokens expired before the cutoff.
func (r *MemoryRepository) PruneTokens(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.tokens {
		if t.ExpiresAt.Before(before) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

// Tokens returns stored tokens ordered by issue time.
func (r *MemoryRepository) Tokens() []auth.AuthToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.AuthToken, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}

var _ auth.Repository = (*MemoryRepository)(nil)
