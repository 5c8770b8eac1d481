// Package userstest provides an in-memory users.Repository for tests.
package userstest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// MemoryRepository mimics the PostgreSQL repository, including the unique
// indexes on folded username and email.
type MemoryRepository struct {
	mu     sync.Mutex
	users  map[int64]users.User
	nextID int64
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[int64]users.User)}
}

// Create inserts the user, enforcing uniqueness atomically.
func (r *MemoryRepository) Create(ctx context.Context, user *users.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkUnique(0, user.Username, user.Email); err != nil {
		return err
	}
	r.nextID++
	user.ID = r.nextID
	r.users[user.ID] = clone(*user)
	return nil
}

// GetByID returns a live user.
func (r *MemoryRepository) GetByID(ctx context.Context, id int64) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, shared.ErrNotFound
	}
	out := clone(u)
	return &out, nil
}

// GetByUsernameKey returns a live user by folded username.
func (r *MemoryRepository) GetByUsernameKey(ctx context.Context, key string) (*users.User, error) {
	return r.find(func(u users.User) bool { return users.IdentityKey(u.Username) == key })
}

// GetByEmailKey returns a live user by folded email.
func (r *MemoryRepository) GetByEmailKey(ctx context.Context, key string) (*users.User, error) {
	return r.find(func(u users.User) bool { return users.IdentityKey(u.Email) == key })
}

// UsernameKeyTaken checks every row, soft-deleted included.
func (r *MemoryRepository) UsernameKeyTaken(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if users.IdentityKey(u.Username) == key {
			return true, nil
		}
	}
	return false, nil
}

// EmailKeyTaken checks every row, soft-deleted included.
func (r *MemoryRepository) EmailKeyTaken(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if users.IdentityKey(u.Email) == key {
			return true, nil
		}
	}
	return false, nil
}

// Update stores username, email and status changes.
func (r *MemoryRepository) Update(ctx context.Context, user *users.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.users[user.ID]
	if !ok || cur.DeletedAt != nil {
		return shared.ErrNotFound
	}
	if err := r.checkUnique(user.ID, user.Username, user.Email); err != nil {
		return err
	}
	cur.Username = user.Username
	cur.Email = user.Email
	cur.IsActive = user.IsActive
	cur.UpdatedAt = user.UpdatedAt
	r.users[user.ID] = cur
	return nil
}

// UpdatePassword replaces the stored hash.
func (r *MemoryRepository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.users[id]
	if !ok || cur.DeletedAt != nil {
		return shared.ErrNotFound
	}
	cur.PasswordHash = hash
	r.users[id] = cur
	return nil
}

// ReplaceRoles swaps the role set.
func (r *MemoryRepository) ReplaceRoles(ctx context.Context, id int64, roles []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.users[id]
	if !ok || cur.DeletedAt != nil {
		return shared.ErrNotFound
	}
	cur.Roles = append([]string(nil), roles...)
	r.users[id] = cur
	return nil
}

// SoftDelete disables the account.
func (r *MemoryRepository) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.users[id]
	if !ok || cur.DeletedAt != nil {
		return shared.ErrNotFound
	}
	cur.IsActive = false
	cur.DeletedAt = &at
	r.users[id] = cur
	return nil
}

// List returns users ordered by id.
func (r *MemoryRepository) List(ctx context.Context, filter users.ListFilter) ([]users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []users.User
	for _, u := range r.users {
		if u.DeletedAt != nil && !filter.IncludeDeleted {
			continue
		}
		if filter.Role != "" && !contains(u.Roles, filter.Role) {
			continue
		}
		out = append(out, clone(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Raw returns the stored row regardless of soft-delete state.
func (r *MemoryRepository) Raw(id int64) (users.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	return clone(u), ok
}

func (r *MemoryRepository) find(match func(users.User) bool) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.DeletedAt == nil && match(u) {
			out := clone(u)
			return &out, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *MemoryRepository) checkUnique(selfID int64, username, email string) error {
	uk, ek := users.IdentityKey(username), users.IdentityKey(email)
	for id, u := range r.users {
		if id == selfID {
			continue
		}
		if users.IdentityKey(u.Username) == uk {
			return fmt.Errorf("%w: username", shared.ErrDuplicateIdentity)
		}
		if users.IdentityKey(u.Email) == ek {
			return fmt.Errorf("%w: email", shared.ErrDuplicateIdentity)
		}
	}
	return nil
}

func clone(u users.User) users.User {
	u.Roles = append([]string(nil), u.Roles...)
	return u
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

var _ users.Repository = (*MemoryRepository)(nil)
