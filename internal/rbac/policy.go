package rbac

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Policy is the declarative registry document loaded at startup.
//
//	permissions:
//	  - name: users.view
//	    description: List user accounts
//	roles:
//	  - name: viewer
//	    permissions: [users.view]
//	  - name: editor
//	    parent: viewer
//	    permissions: [users.edit]
type Policy struct {
	Permissions []Permission `yaml:"permissions"`
	Roles       []PolicyRole `yaml:"roles"`
}

// PolicyRole is a role entry with its direct grants.
type PolicyRole struct {
	Name        string   `yaml:"name"`
	Parent      string   `yaml:"parent"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// ParsePolicy decodes a YAML policy, rejecting unknown keys.
func ParsePolicy(r io.Reader) (Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return Policy{}, fmt.Errorf("%w: policy: %v", shared.ErrInvalidInput, err)
	}
	return p, nil
}

// LoadPolicy parses a YAML policy from r and applies it.
func (r *Registry) LoadPolicy(ctx context.Context, src io.Reader) error {
	policy, err := ParsePolicy(src)
	if err != nil {
		return err
	}
	return r.ApplyPolicy(ctx, policy)
}

// LoadPolicyFile applies the policy stored at path.
func (r *Registry) LoadPolicyFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("rbac: open policy: %w", err)
	}
	defer f.Close()
	return r.LoadPolicy(ctx, f)
}

// ApplyPolicy registers permissions, then roles parents-first, then replaces
// each listed role's grants. Roles absent from the policy are left alone.
func (r *Registry) ApplyPolicy(ctx context.Context, policy Policy) error {
	for _, p := range policy.Permissions {
		if _, err := r.RegisterPermission(ctx, p.Name, p.Description); err != nil {
			return err
		}
	}

	pending := make([]PolicyRole, len(policy.Roles))
	copy(pending, policy.Roles)
	for len(pending) > 0 {
		var deferred []PolicyRole
		for _, role := range pending {
			parent := NormalizeRole(role.Parent)
			if parent != "" && !r.RoleExists(parent) && declares(pending, parent) {
				deferred = append(deferred, role)
				continue
			}
			if _, err := r.RegisterRole(ctx, role.Name, parent, role.Description); err != nil {
				return fmt.Errorf("rbac: policy role %q: %w", role.Name, err)
			}
		}
		if len(deferred) == len(pending) {
			return fmt.Errorf("%w: policy roles form a cycle", shared.ErrInvalidHierarchy)
		}
		pending = deferred
	}

	for _, role := range policy.Roles {
		if role.Permissions == nil {
			continue
		}
		if err := r.SetRolePermissions(ctx, role.Name, role.Permissions); err != nil {
			return fmt.Errorf("rbac: policy grants %q: %w", role.Name, err)
		}
	}
	return nil
}

// CorePolicy is the built-in vocabulary applied when no policy file is
// configured: viewer reads, editor manages users, admin manages access.
func CorePolicy() Policy {
	descriptions := shared.CoreScopeDescriptions()
	var policy Policy
	for _, name := range shared.CoreScopes() {
		policy.Permissions = append(policy.Permissions, Permission{Name: name, Description: descriptions[name]})
	}
	policy.Roles = []PolicyRole{
		{Name: shared.RoleViewer, Description: "Read-only access", Permissions: []string{shared.PermUsersView, shared.PermRolesView}},
		{Name: shared.RoleEditor, Parent: shared.RoleViewer, Description: "Manages user accounts", Permissions: []string{shared.PermUsersEdit}},
		{Name: shared.RoleAdmin, Parent: shared.RoleEditor, Description: "Manages roles and grants",
			Permissions: []string{shared.PermRolesEdit, shared.PermPermissionsView, shared.PermJobsView}},
	}
	return policy
}

func declares(roles []PolicyRole, name string) bool {
	for _, r := range roles {
		if NormalizeRole(r.Name) == name {
			return true
		}
	}
	return false
}
