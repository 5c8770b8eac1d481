package rbac

import (
	"slices"
	"strings"
)

// Role is a named bundle of permissions. A role with a Parent inherits every
// permission granted to the parent and its ancestors.
type Role struct {
	Name        string `json:"name"`
	Parent      string `json:"parent,omitempty"`
	Description string `json:"description"`
}

// Permission is an atomic capability such as "users.edit".
type Permission struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RoleDetail is a role together with its direct and effective grants.
type RoleDetail struct {
	Role
	Direct    []string `json:"direct_permissions"`
	Effective []string `json:"effective_permissions"`
}

// Snapshot is the full persisted registry state.
type Snapshot struct {
	Permissions []Permission
	Roles       []Role
	// Grants maps a role name to its directly granted permissions.
	Grants map[string][]string
}

// NormalizePermission canonicalises a permission name.
func NormalizePermission(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeRole canonicalises a role name.
func NormalizeRole(name string) string {
	return strings.TrimSpace(name)
}

type set map[string]struct{}

func (s set) has(v string) bool {
	_, ok := s[v]
	return ok
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}
