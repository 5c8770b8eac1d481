package roles

// CreateRoleInput is the payload accepted when declaring a role.
type CreateRoleInput struct {
	Name        string   `json:"name" validate:"required,max=64"`
	Parent      string   `json:"parent" validate:"omitempty,max=64"`
	Description string   `json:"description" validate:"max=255"`
	Permissions []string `json:"permissions" validate:"omitempty,dive,required"`
}

// UpdateRoleInput changes a role; nil fields are left untouched. An empty
// Parent detaches the role from its parent.
type UpdateRoleInput struct {
	Parent      *string `json:"parent,omitempty" validate:"omitempty,max=64"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=255"`
}

// PermissionsInput replaces the direct grants of a role.
type PermissionsInput struct {
	Permissions []string `json:"permissions" validate:"dive,required"`
}
