package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations the auth core needs. The store
// is the single enforcement point for uniqueness (email, role name,
// permission code, token hash) and for the revocation compare-and-set; the
// core never assumes in-process locking is enough.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, email, passwordHash string) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, offset, limit int) ([]User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error)
	DeleteUser(ctx context.Context, id string) error
	RecordLogin(ctx context.Context, id string, at time.Time) error

	// Roles.
	CreateRole(ctx context.Context, name, description string) (Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	DeleteRole(ctx context.Context, id string) error

	// Permission catalog and the role_permissions join.
	EnsurePermissions(ctx context.Context, perms []Permission) error
	ListPermissions(ctx context.Context) ([]Permission, error)
	SetRolePermissions(ctx context.Context, roleID string, codes []string) error
	RolePermissions(ctx context.Context, roleID string) ([]Permission, error)

	// The user_roles join.
	AssignRole(ctx context.Context, userID, roleID string) (UserRole, error)
	RemoveRole(ctx context.Context, userID, roleID string) error
	RolesForUser(ctx context.Context, userID string) ([]Role, error)
	PermissionCodesForUser(ctx context.Context, userID string) ([]string, error)

	// Refresh tokens.
	CreateRefreshToken(ctx context.Context, tok *RefreshToken) error
	GetRefreshToken(ctx context.Context, id string) (*RefreshToken, error)
	// RevokeRefreshToken sets revoked_at if and only if it is still null.
	// The boolean reports whether this call won the compare-and-set; under
	// concurrent redemption of one token exactly one caller sees true.
	RevokeRefreshToken(ctx context.Context, id string, at time.Time) (bool, error)
	RevokeRefreshTokensForUser(ctx context.Context, userID string, at time.Time) error
}
