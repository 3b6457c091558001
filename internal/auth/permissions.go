package auth

// Permission codes owned by the identity service.
const (
	PermUserRead   = "user:read"
	PermUserWrite  = "user:write"
	PermUserDelete = "user:delete"
	PermRoleRead   = "role:read"
	PermRoleWrite  = "role:write"
	PermRoleAssign = "role:assign"
)

const permissionService = "identity"

// BuiltinPermissions is the catalog ensured at startup. Codes are immutable
// identity: the same code must never change meaning across services.
var BuiltinPermissions = []Permission{
	{Code: PermUserRead, Service: permissionService, Description: "Read user information"},
	{Code: PermUserWrite, Service: permissionService, Description: "Create and modify users"},
	{Code: PermUserDelete, Service: permissionService, Description: "Delete users"},
	{Code: PermRoleRead, Service: permissionService, Description: "Read roles and permissions"},
	{Code: PermRoleWrite, Service: permissionService, Description: "Create and modify roles"},
	{Code: PermRoleAssign, Service: permissionService, Description: "Assign and remove user roles"},
}
