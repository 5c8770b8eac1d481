package roles

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// UserRoles is the slice of the credential store used to change a user's
// role set.
type UserRoles interface {
	GetUserByID(ctx context.Context, id int64) (*users.User, error)
	AssignRoles(ctx context.Context, id int64, roles []string) ([]string, error)
}

// Service handles role administration on top of the registry.
type Service struct {
	registry *rbac.Registry
	users    UserRoles
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService builds Service instance.
func NewService(registry *rbac.Registry, users UserRoles, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: registry,
		users:    users,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) []rbac.Role {
	return s.registry.ListRoles()
}

// GetRole returns a role with its grants.
func (s *Service) GetRole(ctx context.Context, name string) (rbac.RoleDetail, error) {
	return s.registry.GetRole(name)
}

// CreateRole declares a new role with optional initial grants.
func (s *Service) CreateRole(ctx context.Context, input CreateRoleInput) (rbac.RoleDetail, error) {
	if err := s.check(input); err != nil {
		return rbac.RoleDetail{}, err
	}
	if s.registry.RoleExists(input.Name) {
		return rbac.RoleDetail{}, fmt.Errorf("%w: role %q", shared.ErrDuplicateIdentity, input.Name)
	}
	for _, perm := range input.Permissions {
		if !s.registry.PermissionExists(perm) {
			return rbac.RoleDetail{}, fmt.Errorf("%w: unknown permission %q", shared.ErrInvalidInput, perm)
		}
	}
	role, err := s.registry.RegisterRole(ctx, input.Name, input.Parent, input.Description)
	if err != nil {
		return rbac.RoleDetail{}, err
	}
	if len(input.Permissions) > 0 {
		if err := s.registry.SetRolePermissions(ctx, role.Name, input.Permissions); err != nil {
			return rbac.RoleDetail{}, err
		}
	}
	s.logger.Info("role created", slog.String("role", role.Name), slog.String("parent", role.Parent))
	return s.registry.GetRole(role.Name)
}

// UpdateRole changes the parent and/or description of a role.
func (s *Service) UpdateRole(ctx context.Context, name string, input UpdateRoleInput) (rbac.RoleDetail, error) {
	if err := s.check(input); err != nil {
		return rbac.RoleDetail{}, err
	}
	cur, err := s.registry.GetRole(name)
	if err != nil {
		return rbac.RoleDetail{}, err
	}
	parent, description := cur.Parent, cur.Description
	if input.Parent != nil {
		parent = *input.Parent
	}
	if input.Description != nil {
		description = *input.Description
	}
	if _, err := s.registry.RegisterRole(ctx, cur.Name, parent, description); err != nil {
		return rbac.RoleDetail{}, err
	}
	return s.registry.GetRole(cur.Name)
}

// DeleteRole removes a leaf role.
func (s *Service) DeleteRole(ctx context.Context, name string) error {
	return s.registry.DeleteRole(ctx, name)
}

// SetPermissions replaces the direct grants of a role.
func (s *Service) SetPermissions(ctx context.Context, name string, input PermissionsInput) (rbac.RoleDetail, error) {
	if err := s.check(input); err != nil {
		return rbac.RoleDetail{}, err
	}
	if err := s.registry.SetRolePermissions(ctx, name, input.Permissions); err != nil {
		return rbac.RoleDetail{}, err
	}
	return s.registry.GetRole(name)
}

// GrantPermission adds one direct grant.
func (s *Service) GrantPermission(ctx context.Context, name, perm string) error {
	return s.registry.AddRolePermission(ctx, name, perm)
}

// RevokePermission removes one direct grant.
func (s *Service) RevokePermission(ctx context.Context, name, perm string) error {
	return s.registry.RemoveRolePermission(ctx, name, perm)
}

// GrantToUser adds role to the user's role set.
func (s *Service) GrantToUser(ctx context.Context, userID int64, role string) ([]string, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !s.registry.RoleExists(role) {
		return nil, fmt.Errorf("%w: unknown role %q", shared.ErrInvalidInput, role)
	}
	if slices.Contains(user.Roles, role) {
		return user.Roles, nil
	}
	return s.users.AssignRoles(ctx, userID, append(user.Roles, role))
}

// RevokeFromUser removes role from the user's role set.
func (s *Service) RevokeFromUser(ctx context.Context, userID int64, role string) ([]string, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	kept := slices.DeleteFunc(slices.Clone(user.Roles), func(r string) bool { return r == role })
	if len(kept) == len(user.Roles) {
		return user.Roles, nil
	}
	return s.users.AssignRoles(ctx, userID, kept)
}

func (s *Service) check(input any) error {
	if err := s.validate.Struct(input); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	return nil
}
