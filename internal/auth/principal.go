package auth

// Principal is a user with resolved roles and effective permissions, as of
// the moment it was loaded.
type Principal struct {
	User        User
	Roles       []Role
	Permissions map[string]struct{}
}

// NewPrincipal constructs a principal from resolved data.
func NewPrincipal(user User, roles []Role, permCodes []string) Principal {
	set := make(map[string]struct{}, len(permCodes))
	for _, c := range permCodes {
		set[c] = struct{}{}
	}
	return Principal{User: user, Roles: roles, Permissions: set}
}

// HasPermission reports whether the resolved set contains the code.
func (p Principal) HasPermission(code string) bool {
	_, ok := p.Permissions[code]
	return ok
}

// RoleNames returns the principal's role names in assignment order.
func (p Principal) RoleNames() []string {
	out := make([]string, 0, len(p.Roles))
	for _, r := range p.Roles {
		out = append(out, r.Name)
	}
	return out
}

// PermissionCodes returns the effective permission codes.
func (p Principal) PermissionCodes() []string {
	out := make([]string, 0, len(p.Permissions))
	for c := range p.Permissions {
		out = append(out, c)
	}
	return out
}
