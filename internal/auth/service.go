package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service is the composition point for credential verification, token
// issuance and RBAC resolution. It owns no persisted state of its own; the
// refresh-token row is the only durable session state, which keeps the
// service safe to run as multiple stateless instances.
type Service struct {
	store    Store
	issuer   *Issuer
	resolver *Resolver
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the session lifecycle service.
func NewService(store Store, issuer *Issuer, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		issuer:   issuer,
		resolver: NewResolver(store),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolver exposes the RBAC resolver for management operations.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Issuer exposes the token issuer, chiefly for access-token verification at
// the transport boundary.
func (s *Service) Issuer() *Issuer { return s.issuer }

// EnsureBuiltins makes sure the builtin permission catalog exists.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.store.EnsurePermissions(ctx, BuiltinPermissions)
}

// TokenPair is an access/refresh token set with expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Session is the result of a successful login or refresh: fresh tokens plus
// a public-safe projection of the principal.
type Session struct {
	TokenPair
	Principal Principal
}

// Register creates a new principal. Duplicate emails are ErrConflict.
func (s *Service) Register(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(password) < 8 {
		return User{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	return s.store.CreateUser(ctx, email, hash)
}

// Login authenticates credentials and issues a token pair. Unknown email,
// wrong password and disabled account all collapse into
// ErrInvalidCredentials; nothing about which check failed escapes.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if !user.Active {
		return Session{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	session, err := s.mintSession(ctx, user)
	if err != nil {
		return Session{}, err
	}
	now := s.now().UTC()
	if err := s.store.RecordLogin(ctx, user.ID, now); err != nil {
		return Session{}, err
	}
	session.Principal.User.LastLoginAt = &now
	return session, nil
}

// Refresh redeems a refresh token (revoking it, rotate-on-use) and issues a
// fresh pair. Invalid input means the caller must log in again.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	userID, err := s.issuer.Redeem(ctx, refreshToken)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrInvalidToken
		}
		return Session{}, err
	}
	if !user.Active {
		return Session{}, ErrInvalidToken
	}
	return s.mintSession(ctx, user)
}

// Logout revokes the refresh token. It always succeeds from the caller's
// perspective, even for tokens that were never valid, so logout leaks
// nothing and is safe to retry.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.issuer.Revoke(ctx, refreshToken)
}

// Principal loads a user with resolved roles and effective permissions.
func (s *Service) Principal(ctx context.Context, userID string) (Principal, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	roles, err := s.resolver.RolesOf(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	perms, err := s.resolver.EffectivePermissions(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	return NewPrincipal(user, roles, perms), nil
}

// Authorize checks a live permission for the user. A disabled principal has
// an empty effective set no matter what roles it still holds.
func (s *Service) Authorize(ctx context.Context, userID, code string) error {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	if !user.Active {
		return ErrUnauthorized
	}
	ok, err := s.resolver.HasPermission(ctx, userID, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func (s *Service) mintSession(ctx context.Context, user User) (Session, error) {
	principal, err := s.Principal(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	access, accessExp, err := s.issuer.IssueAccessToken(
		principal.User, principal.RoleNames(), principal.PermissionCodes())
	if err != nil {
		return Session{}, err
	}
	refresh, rec, err := s.issuer.IssueRefreshToken(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{
		TokenPair: TokenPair{
			AccessToken:      access,
			RefreshToken:     refresh,
			AccessExpiresAt:  accessExp,
			RefreshExpiresAt: rec.ExpiresAt,
		},
		Principal: principal,
	}, nil
}

// GetUser fetches a single user.
func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.GetUser(ctx, id)
}

// ListUsers pages through users.
func (s *Service) ListUsers(ctx context.Context, offset, limit int) ([]User, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListUsers(ctx, offset, limit)
}

// UpdateUser applies optional field changes; a password change is hashed
// here so plaintext never reaches the store.
func (s *Service) UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if upd.Email != nil {
		email := normalizeEmail(*upd.Email)
		if email == "" || !strings.Contains(email, "@") {
			return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		upd.Email = &email
	}
	if upd.Password != nil {
		if len(*upd.Password) < 8 {
			return User{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
		}
		hash, err := HashPassword(*upd.Password)
		if err != nil {
			return User{}, err
		}
		upd.Password = &hash
	}
	user, err := s.store.UpdateUser(ctx, id, upd)
	if err != nil {
		return User{}, err
	}
	// Disabling an account kills its open sessions, not just future logins.
	if upd.Active != nil && !*upd.Active {
		if err := s.store.RevokeRefreshTokensForUser(ctx, id, s.now().UTC()); err != nil {
			return User{}, err
		}
	}
	return user, nil
}

// ChangePassword rotates a user's own password after verifying the current
// one. A wrong current password is ErrInvalidCredentials, the same answer a
// failed login gets.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if len(next) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	_, err = s.store.UpdateUser(ctx, userID, UserUpdate{Password: &hash})
	return err
}

// DeleteUser removes the user; join rows and refresh tokens go with it.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.DeleteUser(ctx, id)
}

// CreateRole creates a role. Duplicate names are ErrConflict.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return s.store.CreateRole(ctx, name, strings.TrimSpace(description))
}

// GetRole fetches a single role.
func (s *Service) GetRole(ctx context.Context, id string) (Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.GetRole(ctx, id)
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// DeleteRole removes a role; both join tables are cleaned up with it.
func (s *Service) DeleteRole(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.DeleteRole(ctx, id)
}

// SetRolePermissions replaces the role's permission set with the given codes.
func (s *Service) SetRolePermissions(ctx context.Context, roleID string, codes []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.SetRolePermissions(ctx, roleID, dedupeStrings(codes))
}

// RolePermissions lists the permissions attached to a role.
func (s *Service) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.RolePermissions(ctx, roleID)
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
