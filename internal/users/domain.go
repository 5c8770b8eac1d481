package users

import (
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// User represents a user account owned by the credential store.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Roles        []string   `json:"roles"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Principal converts the account into the request identity.
func (u *User) Principal() *shared.Principal {
	if u == nil || u.ID == 0 {
		return shared.Anonymous
	}
	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)
	return &shared.Principal{UserID: u.ID, Username: u.Username, Roles: roles}
}

// CreateUserInput carries the fields accepted by CreateUser.
type CreateUserInput struct {
	Username string   `json:"username" validate:"required,username"`
	Email    string   `json:"email" validate:"required,email,max=254"`
	Password string   `json:"password" validate:"required,min=8,max=128"`
	Roles    []string `json:"roles" validate:"omitempty,dive,required,max=64"`
}

// UpdateUserInput is a partial update; nil fields are left untouched.
type UpdateUserInput struct {
	Username *string   `json:"username,omitempty" validate:"omitempty,username"`
	Email    *string   `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Password *string   `json:"password,omitempty" validate:"omitempty,min=8,max=128"`
	IsActive *bool     `json:"is_active,omitempty"`
	Roles    *[]string `json:"roles,omitempty" validate:"omitempty,dive,required,max=64"`
}

// ListFilter narrows List results.
type ListFilter struct {
	IncludeDeleted bool
	Role           string
}

// Field names reported by ValidationError.
const (
	FieldUsername = "username"
	FieldEmail    = "email"
	FieldPassword = "password"
	FieldRoles    = "roles"
)

// ValidationError lists the fields that failed validation. It unwraps to
// shared.ErrInvalidInput.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is match shared.ErrInvalidInput.
func (e *ValidationError) Unwrap() error {
	return shared.ErrInvalidInput
}

func normaliseRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
