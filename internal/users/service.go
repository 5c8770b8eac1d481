package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// RoleChecker reports whether a role name is known to the authorization layer.
type RoleChecker interface {
	RoleExists(name string) bool
}

// TokenRevoker invalidates every credential issued to a user.
type TokenRevoker interface {
	RevokeUserTokens(ctx context.Context, userID int64) error
}

// Service handles user business logic.
type Service struct {
	repo    Repository
	roles   RoleChecker
	revoker TokenRevoker
	logger  *slog.Logger
	now     func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithRoleChecker validates role assignments against the given checker.
func WithRoleChecker(rc RoleChecker) Option {
	return func(s *Service) { s.roles = rc }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService builds Service instance.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetTokenRevoker wires the component that revokes tokens on delete. It is
// set after construction because the authenticator depends on this service.
func (s *Service) SetTokenRevoker(r TokenRevoker) {
	s.revoker = r
}

// CreateUser validates input, hashes the password and persists the account.
// The unique index is the final authority on duplicates; the pre-check only
// produces a friendlier error in the common case.
func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (*User, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.TrimSpace(input.Email)
	if err := ValidateUserData(input); err != nil {
		return nil, err
	}
	roles := normaliseRoles(input.Roles)
	if err := s.checkRoles(roles); err != nil {
		return nil, err
	}
	if taken, err := s.repo.UsernameKeyTaken(ctx, IdentityKey(input.Username)); err != nil {
		return nil, err
	} else if taken {
		return nil, fmt.Errorf("%w: username", shared.ErrDuplicateIdentity)
	}
	if taken, err := s.repo.EmailKeyTaken(ctx, IdentityKey(input.Email)); err != nil {
		return nil, err
	} else if taken {
		return nil, fmt.Errorf("%w: email", shared.ErrDuplicateIdentity)
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &User{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
		Roles:        roles,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("user created", slog.Int64("user_id", user.ID), slog.String("username", user.Username))
	return user, nil
}

// UpdateUser applies a partial update. Unknown ids yield shared.ErrNotFound.
func (s *Service) UpdateUser(ctx context.Context, id int64, input UpdateUserInput) (*User, error) {
	if err := ValidateUpdate(input); err != nil {
		return nil, err
	}
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	changed := false
	if input.Username != nil {
		name := strings.TrimSpace(*input.Username)
		if IdentityKey(name) != IdentityKey(user.Username) {
			if taken, err := s.repo.UsernameKeyTaken(ctx, IdentityKey(name)); err != nil {
				return nil, err
			} else if taken {
				return nil, fmt.Errorf("%w: username", shared.ErrDuplicateIdentity)
			}
		}
		user.Username = name
		changed = true
	}
	if input.Email != nil {
		email := strings.TrimSpace(*input.Email)
		if IdentityKey(email) != IdentityKey(user.Email) {
			if taken, err := s.repo.EmailKeyTaken(ctx, IdentityKey(email)); err != nil {
				return nil, err
			} else if taken {
				return nil, fmt.Errorf("%w: email", shared.ErrDuplicateIdentity)
			}
		}
		user.Email = email
		changed = true
	}
	if input.IsActive != nil {
		user.IsActive = *input.IsActive
		changed = true
	}
	if changed {
		user.UpdatedAt = s.now().UTC()
		if err := s.repo.Update(ctx, user); err != nil {
			return nil, err
		}
	}
	if input.Password != nil {
		if err := s.ChangePassword(ctx, id, *input.Password); err != nil {
			return nil, err
		}
	}
	if input.Roles != nil {
		roles, err := s.AssignRoles(ctx, id, *input.Roles)
		if err != nil {
			return nil, err
		}
		user.Roles = roles
	}
	if input.IsActive != nil && !*input.IsActive {
		if err := s.revokeTokens(ctx, id); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// ChangePassword rehashes and stores a new password.
func (s *Service) ChangePassword(ctx context.Context, id int64, plaintext string) error {
	if len(plaintext) < 8 {
		return &ValidationError{Fields: map[string]string{FieldPassword: "must be at least 8 characters"}}
	}
	hash, err := HashPassword(plaintext)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, id, hash)
}

// StorePasswordHash persists an already computed hash, used when a login
// upgrades a legacy hash.
func (s *Service) StorePasswordHash(ctx context.Context, id int64, hash string) error {
	return s.repo.UpdatePassword(ctx, id, hash)
}

// AssignRoles replaces the user's role set and returns the stored roles.
func (s *Service) AssignRoles(ctx context.Context, id int64, roles []string) ([]string, error) {
	roles = normaliseRoles(roles)
	if err := s.checkRoles(roles); err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceRoles(ctx, id, roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// DeleteUser soft-disables the account, keeping login and token history,
// and revokes every outstanding token.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if err := s.repo.SoftDelete(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("user disabled", slog.Int64("user_id", id))
	return s.revokeTokens(ctx, id)
}

// GetUserByID returns the live account with the given id.
func (s *Service) GetUserByID(ctx context.Context, id int64) (*User, error) {
	if id <= 0 {
		return nil, shared.ErrNotFound
	}
	return s.repo.GetByID(ctx, id)
}

// GetUserByUsername performs a case-insensitive lookup.
func (s *Service) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	key := IdentityKey(username)
	if key == "" {
		return nil, shared.ErrNotFound
	}
	return s.repo.GetByUsernameKey(ctx, key)
}

// GetUserByEmail performs a case-insensitive lookup.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	key := IdentityKey(email)
	if key == "" {
		return nil, shared.ErrNotFound
	}
	return s.repo.GetByEmailKey(ctx, key)
}

// FindByIdentifier resolves a username, falling back to email when the
// identifier looks like one.
func (s *Service) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	user, err := s.GetUserByUsername(ctx, identifier)
	if err == nil || !errors.Is(err, shared.ErrNotFound) {
		return user, err
	}
	if !strings.Contains(identifier, "@") {
		return nil, shared.ErrNotFound
	}
	return s.GetUserByEmail(ctx, identifier)
}

// IsUsernameAvailable reports whether no account, disabled ones included,
// holds the username.
func (s *Service) IsUsernameAvailable(ctx context.Context, username string) (bool, error) {
	key := IdentityKey(username)
	if key == "" {
		return false, nil
	}
	taken, err := s.repo.UsernameKeyTaken(ctx, key)
	return !taken, err
}

// IsEmailAvailable reports whether no account, disabled ones included,
// holds the email.
func (s *Service) IsEmailAvailable(ctx context.Context, email string) (bool, error) {
	key := IdentityKey(email)
	if key == "" {
		return false, nil
	}
	taken, err := s.repo.EmailKeyTaken(ctx, key)
	return !taken, err
}

// ListUsers returns accounts matching the filter.
func (s *Service) ListUsers(ctx context.Context, filter ListFilter) ([]User, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) checkRoles(roles []string) error {
	if s.roles == nil {
		return nil
	}
	for _, r := range roles {
		if !s.roles.RoleExists(r) {
			return &ValidationError{Fields: map[string]string{FieldRoles: "unknown role " + r}}
		}
	}
	return nil
}

func (s *Service) revokeTokens(ctx context.Context, id int64) error {
	if s.revoker == nil {
		return nil
	}
	if err := s.revoker.RevokeUserTokens(ctx, id); err != nil {
		return fmt.Errorf("users: revoke tokens: %w", err)
	}
	return nil
}
