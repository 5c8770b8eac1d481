package shared

// Core platform permissions guarding the admin surface.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermPermissionsView = "permissions.view"

	PermJobsView = "jobs.view"
)

// Built-in roles seeded on a fresh installation.
const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
		PermJobsView,
	}
}

// CoreScopeDescriptions maps each core permission to a human readable label.
func CoreScopeDescriptions() map[string]string {
	return map[string]string{
		PermUsersView:       "List and inspect user accounts",
		PermUsersEdit:       "Create, update and disable user accounts",
		PermRolesView:       "List roles and their grants",
		PermRolesEdit:       "Change role hierarchy and grants",
		PermPermissionsView: "List the permission vocabulary",
		PermJobsView:        "Inspect background job queues",
	}
}
