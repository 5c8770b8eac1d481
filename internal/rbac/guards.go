package rbac

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Guard checks the identity carried by ctx and returns nil to allow the
// call, shared.ErrUnauthenticated when nobody is logged in, or
// shared.ErrForbidden when the identity lacks the requirement.
type Guard func(ctx context.Context) error

// Operation is a protected unit of work.
type Operation func(ctx context.Context) error

// Protect returns an Operation that runs guards in order and only then
// delegates to op. The first failing guard's error is returned and op is
// never invoked.
func Protect(op Operation, guards ...Guard) Operation {
	return func(ctx context.Context) error {
		for _, g := range guards {
			if err := g(ctx); err != nil {
				return err
			}
		}
		return op(ctx)
	}
}

// RequireAuth rejects anonymous callers.
func RequireAuth() Guard {
	return func(ctx context.Context) error {
		if shared.PrincipalFromContext(ctx).IsAnonymous() {
			return shared.ErrUnauthenticated
		}
		return nil
	}
}

// RequireRole allows callers holding role or any role below it in the
// hierarchy.
func (r *Registry) RequireRole(role string) Guard {
	role = NormalizeRole(role)
	return func(ctx context.Context) error {
		p := shared.PrincipalFromContext(ctx)
		if p.IsAnonymous() {
			return shared.ErrUnauthenticated
		}
		if !r.PrincipalHasRole(p, role) {
			return fmt.Errorf("%w: requires role %q", shared.ErrForbidden, role)
		}
		return nil
	}
}

// RequirePermission allows callers whose roles grant perm.
func (r *Registry) RequirePermission(perm string) Guard {
	return func(ctx context.Context) error {
		return r.CheckPermission(ctx, shared.PrincipalFromContext(ctx), perm)
	}
}

// RequireAny allows callers holding at least one of perms. With no perms it
// only requires authentication.
func (r *Registry) RequireAny(perms ...string) Guard {
	return func(ctx context.Context) error {
		p := shared.PrincipalFromContext(ctx)
		if p.IsAnonymous() {
			return shared.ErrUnauthenticated
		}
		if len(perms) == 0 {
			return nil
		}
		for _, perm := range perms {
			if r.HasPermission(p, perm) {
				return nil
			}
		}
		return fmt.Errorf("%w: requires any of %v", shared.ErrForbidden, perms)
	}
}

// RequireAll allows callers holding every one of perms.
func (r *Registry) RequireAll(perms ...string) Guard {
	return func(ctx context.Context) error {
		p := shared.PrincipalFromContext(ctx)
		if p.IsAnonymous() {
			return shared.ErrUnauthenticated
		}
		for _, perm := range perms {
			if !r.HasPermission(p, perm) {
				return fmt.Errorf("%w: missing permission %q", shared.ErrForbidden, NormalizePermission(perm))
			}
		}
		return nil
	}
}

// AuthRequired wraps op with RequireAuth.
func AuthRequired(op Operation) Operation {
	return Protect(op, RequireAuth())
}

// RoleRequired wraps op with RequireRole.
func (r *Registry) RoleRequired(role string, op Operation) Operation {
	return Protect(op, r.RequireRole(role))
}

// PermissionRequired wraps op with RequirePermission.
func (r *Registry) PermissionRequired(perm string, op Operation) Operation {
	return Protect(op, r.RequirePermission(perm))
}
