package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Registry holds permissions, roles, the role hierarchy and direct grants.
// Reads take the read lock; mutations take the write lock, write through to
// the Store and invalidate the cache before releasing it, so a read that
// starts after a mutation returns always observes it.
type Registry struct {
	mu          sync.RWMutex
	store       Store
	cache       *PermissionCache
	logger      *slog.Logger
	permissions map[string]Permission
	roles       map[string]Role
	parents     map[string]string
	grants      map[string]set
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStore persists mutations. Without a store the registry is in-memory.
func WithStore(store Store) RegistryOption {
	return func(r *Registry) { r.store = store }
}

// WithCache replaces the default process-local cache.
func WithCache(cache *PermissionCache) RegistryOption {
	return func(r *Registry) { r.cache = cache }
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry builds an empty registry. Call Load to populate it from the
// store.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = NewPermissionCache()
	}
	r.resetLocked()
	return r
}

// Cache exposes the permission cache.
func (r *Registry) Cache() *PermissionCache {
	return r.cache
}

// Load replaces in-memory state with the store snapshot.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	snap, err := r.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("rbac: load: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
	for _, p := range snap.Permissions {
		r.permissions[p.Name] = p
	}
	for _, role := range snap.Roles {
		r.roles[role.Name] = role
		r.parents[role.Name] = role.Parent
	}
	for role, perms := range snap.Grants {
		g := make(set, len(perms))
		for _, p := range perms {
			g[p] = struct{}{}
		}
		r.grants[role] = g
	}
	r.cache.clearLocal()
	r.logger.Info("rbac registry loaded",
		slog.Int("permissions", len(r.permissions)),
		slog.Int("roles", len(r.roles)))
	return nil
}

// Reset drops all in-memory state and cached entries. The store is left
// untouched.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
	r.cache.clearLocal()
}

// ListenForInvalidation reloads state whenever another process mutates the
// registry. It returns once the subscription is established.
func (r *Registry) ListenForInvalidation(ctx context.Context) error {
	return r.cache.Listen(ctx, func(ctx context.Context, msg Invalidation) {
		if r.store == nil {
			r.mu.Lock()
			r.cache.Apply(msg)
			r.mu.Unlock()
			return
		}
		if err := r.Load(ctx); err != nil {
			r.logger.Error("rbac reload after remote invalidation", slog.Any("error", err))
		}
	})
}

// RegisterPermission declares a permission. Registering an existing name
// updates its description.
func (r *Registry) RegisterPermission(ctx context.Context, name, description string) (Permission, error) {
	name = NormalizePermission(name)
	if name == "" || name == Wildcard {
		return Permission{}, fmt.Errorf("%w: permission name required", shared.ErrInvalidInput)
	}
	perm := Permission{Name: name, Description: description}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.permissions[name]; ok && cur.Description == description {
		return cur, nil
	}
	if r.store != nil {
		if err := r.store.UpsertPermission(ctx, perm); err != nil {
			return Permission{}, err
		}
	}
	r.permissions[name] = perm
	return perm, nil
}

// RegisterRole declares a role, or updates the description and parent of an
// existing one. The parent must already exist.
func (r *Registry) RegisterRole(ctx context.Context, name, parent, description string) (Role, error) {
	name, parent = NormalizeRole(name), NormalizeRole(parent)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", shared.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkParentLocked(name, parent); err != nil {
		return Role{}, err
	}
	role := Role{Name: name, Parent: parent, Description: description}
	if r.store != nil {
		if err := r.store.UpsertRole(ctx, role); err != nil {
			return Role{}, err
		}
	}
	r.roles[name] = role
	r.parents[name] = parent
	// Lookups of an unregistered name cache an empty set, so new roles
	// invalidate as well.
	r.cache.Invalidate(ctx, descendants(r.parents, name)...)
	return role, nil
}

// SetRoleParent moves role under parent; an empty parent makes it a root.
func (r *Registry) SetRoleParent(ctx context.Context, role, parent string) error {
	role, parent = NormalizeRole(role), NormalizeRole(parent)
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.roles[role]
	if !ok {
		return fmt.Errorf("%w: role %q", shared.ErrNotFound, role)
	}
	if err := r.checkParentLocked(role, parent); err != nil {
		return err
	}
	cur.Parent = parent
	if r.store != nil {
		if err := r.store.UpsertRole(ctx, cur); err != nil {
			return err
		}
	}
	r.roles[role] = cur
	r.parents[role] = parent
	r.cache.Invalidate(ctx, descendants(r.parents, role)...)
	return nil
}

// DeleteRole removes a role that has no children.
func (r *Registry) DeleteRole(ctx context.Context, name string) error {
	name = NormalizeRole(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[name]; !ok {
		return fmt.Errorf("%w: role %q", shared.ErrNotFound, name)
	}
	if below := descendants(r.parents, name); len(below) > 1 {
		return fmt.Errorf("%w: role %q still has child roles", shared.ErrInvalidHierarchy, name)
	}
	if r.store != nil {
		if err := r.store.DeleteRole(ctx, name); err != nil {
			return err
		}
	}
	delete(r.roles, name)
	delete(r.parents, name)
	delete(r.grants, name)
	r.cache.Invalidate(ctx, name)
	return nil
}

// SetRolePermissions replaces the direct grants of role. The swap is atomic:
// concurrent readers see either the old or the new set.
func (r *Registry) SetRolePermissions(ctx context.Context, role string, perms []string) error {
	role = NormalizeRole(role)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[role]; !ok {
		return fmt.Errorf("%w: role %q", shared.ErrNotFound, role)
	}
	next := make(set, len(perms))
	for _, p := range perms {
		p = NormalizePermission(p)
		if _, ok := r.permissions[p]; !ok {
			return fmt.Errorf("%w: unknown permission %q", shared.ErrInvalidInput, p)
		}
		next[p] = struct{}{}
	}
	if r.store != nil {
		if err := r.store.ReplaceRolePermissions(ctx, role, next.sorted()); err != nil {
			return err
		}
	}
	r.grants[role] = next
	r.cache.Invalidate(ctx, descendants(r.parents, role)...)
	return nil
}

// AddRolePermission grants perm to role directly.
func (r *Registry) AddRolePermission(ctx context.Context, role, perm string) error {
	role, perm = NormalizeRole(role), NormalizePermission(perm)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkGrantLocked(role, perm); err != nil {
		return err
	}
	if r.grants[role].has(perm) {
		return nil
	}
	if r.store != nil {
		if err := r.store.AddRolePermission(ctx, role, perm); err != nil {
			return err
		}
	}
	if r.grants[role] == nil {
		r.grants[role] = make(set)
	}
	r.grants[role][perm] = struct{}{}
	r.cache.Invalidate(ctx, descendants(r.parents, role)...)
	return nil
}

// RemoveRolePermission revokes a direct grant. Permissions inherited from an
// ancestor are unaffected.
func (r *Registry) RemoveRolePermission(ctx context.Context, role, perm string) error {
	role, perm = NormalizeRole(role), NormalizePermission(perm)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkGrantLocked(role, perm); err != nil {
		return err
	}
	if !r.grants[role].has(perm) {
		return nil
	}
	if r.store != nil {
		if err := r.store.RemoveRolePermission(ctx, role, perm); err != nil {
			return err
		}
	}
	delete(r.grants[role], perm)
	r.cache.Invalidate(ctx, descendants(r.parents, role)...)
	return nil
}

// ClearPermissionCache drops every cached entry. Subsequent lookups return
// the same answers as before the clear.
func (r *Registry) ClearPermissionCache(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Clear(ctx)
}

// RoleExists reports whether name is a registered role.
func (r *Registry) RoleExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.roles[NormalizeRole(name)]
	return ok
}

// PermissionExists reports whether name is a registered permission.
func (r *Registry) PermissionExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.permissions[NormalizePermission(name)]
	return ok
}

// ListPermissions returns registered permissions ordered by name.
func (r *Registry) ListPermissions() []Permission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Permission, 0, len(r.permissions))
	for _, p := range r.permissions {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Permission) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// ListRoles returns registered roles ordered by name.
func (r *Registry) ListRoles() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role)
	}
	slices.SortFunc(out, func(a, b Role) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// GetRole returns a role with its direct and effective permissions.
func (r *Registry) GetRole(name string) (RoleDetail, error) {
	name = NormalizeRole(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[name]
	if !ok {
		return RoleDetail{}, fmt.Errorf("%w: role %q", shared.ErrNotFound, name)
	}
	return RoleDetail{
		Role:      role,
		Direct:    r.grants[name].sorted(),
		Effective: r.effectiveLocked(name).sorted(),
	}, nil
}

// GetPermissionsForRole returns the effective permissions of role: its own
// grants plus those of every ancestor. Unknown roles yield an empty set.
func (r *Registry) GetPermissionsForRole(role string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.effectiveLocked(NormalizeRole(role)).sorted()
}

// GetUserPermissions returns the union of effective permissions over the
// principal's roles.
func (r *Registry) GetUserPermissions(p *shared.Principal) []string {
	if p.IsAnonymous() {
		return []string{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	union := make(set)
	for _, role := range p.Roles {
		for perm := range r.effectiveLocked(NormalizeRole(role)) {
			union[perm] = struct{}{}
		}
	}
	return union.sorted()
}

// HasPermission reports whether the principal holds perm through any role.
// Unregistered permissions are never held.
func (r *Registry) HasPermission(p *shared.Principal, perm string) bool {
	if p.IsAnonymous() {
		return false
	}
	perm = NormalizePermission(perm)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasPermissionLocked(p, perm)
}

// CheckPermission returns shared.ErrUnauthenticated for anonymous principals,
// shared.ErrForbidden when perm is not held, and nil otherwise.
func (r *Registry) CheckPermission(ctx context.Context, p *shared.Principal, perm string) error {
	if p.IsAnonymous() {
		return shared.ErrUnauthenticated
	}
	if !r.HasPermission(p, perm) {
		return fmt.Errorf("%w: missing permission %q", shared.ErrForbidden, NormalizePermission(perm))
	}
	return nil
}

// RoleSatisfies reports whether holding role held meets a requirement for
// role required: either they are equal or required is an ancestor of held.
func (r *Registry) RoleSatisfies(held, required string) bool {
	held, required = NormalizeRole(held), NormalizeRole(required)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.roles[required]; !ok {
		return false
	}
	if _, ok := r.roles[held]; !ok {
		return false
	}
	return slices.Contains(ancestors(r.parents, held), required)
}

// PrincipalHasRole reports whether any of the principal's roles satisfies
// required.
func (r *Registry) PrincipalHasRole(p *shared.Principal, required string) bool {
	if p.IsAnonymous() {
		return false
	}
	for _, held := range p.Roles {
		if r.RoleSatisfies(held, required) {
			return true
		}
	}
	return false
}

func (r *Registry) hasPermissionLocked(p *shared.Principal, perm string) bool {
	if _, ok := r.permissions[perm]; !ok {
		return false
	}
	for _, role := range p.Roles {
		role = NormalizeRole(role)
		allowed := r.cache.Decision(role, perm, func() bool {
			return r.effectiveLocked(role).has(perm)
		})
		if allowed {
			return true
		}
	}
	return false
}

// effectiveLocked must be called with r.mu held. The returned set is shared
// with the cache and must not be modified.
func (r *Registry) effectiveLocked(role string) set {
	return r.cache.Permissions(role, func() set {
		out := make(set)
		if _, ok := r.roles[role]; !ok {
			return out
		}
		for _, anc := range ancestors(r.parents, role) {
			for perm := range r.grants[anc] {
				out[perm] = struct{}{}
			}
		}
		return out
	})
}

func (r *Registry) checkParentLocked(role, parent string) error {
	if parent == "" {
		return nil
	}
	if _, ok := r.roles[parent]; !ok {
		return fmt.Errorf("%w: unknown parent role %q", shared.ErrInvalidInput, parent)
	}
	return CheckRoleHierarchy(r.parents, role, parent)
}

func (r *Registry) checkGrantLocked(role, perm string) error {
	if _, ok := r.roles[role]; !ok {
		return fmt.Errorf("%w: role %q", shared.ErrNotFound, role)
	}
	if _, ok := r.permissions[perm]; !ok {
		return fmt.Errorf("%w: unknown permission %q", shared.ErrInvalidInput, perm)
	}
	return nil
}

func (r *Registry) resetLocked() {
	r.permissions = make(map[string]Permission)
	r.roles = make(map[string]Role)
	r.parents = make(map[string]string)
	r.grants = make(map[string]set)
}
