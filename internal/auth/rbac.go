package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Resolver answers role and permission questions for a principal by walking
// the user→role→permission graph through explicit store queries. Nothing is
// cached beyond a single resolution; membership changes take effect on the
// next call.
type Resolver struct {
	store Store
}

// NewResolver constructs a Resolver.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// RolesOf returns all roles directly assigned to the user.
func (r *Resolver) RolesOf(ctx context.Context, userID string) ([]Role, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return r.store.RolesForUser(ctx, userID)
}

// EffectivePermissions returns the deduplicated union of permission codes
// reachable through any of the user's roles, sorted for stable output. A
// user with no roles gets an empty set, not an error.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	codes, err := r.store.PermissionCodesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// HasPermission reports whether the user's effective set contains the code.
// Codes are compared byte-for-byte; case matters.
func (r *Resolver) HasPermission(ctx context.Context, userID, code string) (bool, error) {
	perms, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == code {
			return true, nil
		}
	}
	return false, nil
}

// AssignRole adds the user↔role link. Assigning an already-held role is a
// no-op; a missing user or role is ErrNotFound.
func (r *Resolver) AssignRole(ctx context.Context, userID, roleID string) (UserRole, error) {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return UserRole{}, fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	return r.store.AssignRole(ctx, userID, roleID)
}

// RemoveRole drops the user↔role link. Removing a link that does not exist
// is a no-op; a missing user or role is ErrNotFound.
func (r *Resolver) RemoveRole(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	return r.store.RemoveRole(ctx, userID, roleID)
}
