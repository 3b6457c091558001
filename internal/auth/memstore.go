package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"idengine.org/internal/ids"
)

// MemStore implements Store with in-process concurrency safety. It backs
// tests and the no-database development mode; production deployments use the
// Postgres store.
type MemStore struct {
	mu        sync.Mutex
	users     map[string]*User
	roles     map[string]*Role
	perms     map[string]*Permission         // keyed by code
	userRoles map[string]map[string]UserRole // userID -> roleID -> link
	rolePerms map[string]map[string]struct{} // roleID -> code set
	tokens    map[string]*RefreshToken
	userOrder []string
	now       func() time.Time
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		users:     make(map[string]*User),
		roles:     make(map[string]*Role),
		perms:     make(map[string]*Permission),
		userRoles: make(map[string]map[string]UserRole),
		rolePerms: make(map[string]map[string]struct{}),
		tokens:    make(map[string]*RefreshToken),
		now:       time.Now,
	}
}

func (s *MemStore) CreateUser(ctx context.Context, email, passwordHash string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return User{}, ErrConflict
		}
	}
	now := s.now().UTC()
	u := &User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: passwordHash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.ID] = u
	s.userOrder = append(s.userOrder, u.ID)
	return *u, nil
}

func (s *MemStore) GetUser(ctx context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return *u, nil
}

func (s *MemStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return *u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemStore) ListUsers(ctx context.Context, offset, limit int) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset >= len(s.userOrder) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.userOrder) {
		end = len(s.userOrder)
	}
	out := make([]User, 0, end-offset)
	for _, id := range s.userOrder[offset:end] {
		out = append(out, *s.users[id])
	}
	return out, nil
}

func (s *MemStore) UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	if upd.Email != nil {
		for _, other := range s.users {
			if other.ID != id && other.Email == *upd.Email {
				return User{}, ErrConflict
			}
		}
		u.Email = *upd.Email
	}
	if upd.Password != nil {
		u.PasswordHash = *upd.Password
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.Avatar != nil {
		u.Avatar = *upd.Avatar
	}
	if upd.Active != nil {
		u.Active = *upd.Active
	}
	if upd.EmailVerified != nil {
		u.EmailVerified = *upd.EmailVerified
	}
	u.UpdatedAt = s.now().UTC()
	return *u, nil
}

func (s *MemStore) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	delete(s.userRoles, id)
	for tid, tok := range s.tokens {
		if tok.UserID == id {
			delete(s.tokens, tid)
		}
	}
	for i, uid := range s.userOrder {
		if uid == id {
			s.userOrder = append(s.userOrder[:i], s.userOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemStore) RecordLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	u.LastLoginAt = &t
	u.UpdatedAt = at
	return nil
}

func (s *MemStore) CreateRole(ctx context.Context, name, description string) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == name {
			return Role{}, ErrConflict
		}
	}
	now := s.now().UTC()
	r := &Role{ID: ids.New(), Name: name, Description: description, CreatedAt: now, UpdatedAt: now}
	s.roles[r.ID] = r
	return *r, nil
}

func (s *MemStore) GetRole(ctx context.Context, id string) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return *r, nil
}

func (s *MemStore) ListRoles(ctx context.Context) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemStore) DeleteRole(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return ErrNotFound
	}
	delete(s.roles, id)
	delete(s.rolePerms, id)
	for _, links := range s.userRoles {
		delete(links, id)
	}
	return nil
}

func (s *MemStore) EnsurePermissions(ctx context.Context, perms []Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	for _, p := range perms {
		if _, ok := s.perms[p.Code]; ok {
			continue
		}
		cp := p
		if cp.ID == "" {
			cp.ID = ids.New()
		}
		cp.CreatedAt = now
		s.perms[cp.Code] = &cp
	}
	return nil
}

func (s *MemStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemStore) SetRolePermissions(ctx context.Context, roleID string, codes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	set := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if _, ok := s.perms[code]; !ok {
			return ErrNotFound
		}
		set[code] = struct{}{}
	}
	s.rolePerms[roleID] = set
	return nil
}

func (s *MemStore) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]Permission, 0, len(s.rolePerms[roleID]))
	for code := range s.rolePerms[roleID] {
		out = append(out, *s.perms[code])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemStore) AssignRole(ctx context.Context, userID, roleID string) (UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return UserRole{}, ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return UserRole{}, ErrNotFound
	}
	links := s.userRoles[userID]
	if links == nil {
		links = make(map[string]UserRole)
		s.userRoles[userID] = links
	}
	if existing, ok := links[roleID]; ok {
		return existing, nil
	}
	link := UserRole{UserID: userID, RoleID: roleID, CreatedAt: s.now().UTC()}
	links[roleID] = link
	return link, nil
}

func (s *MemStore) RemoveRole(ctx context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	delete(s.userRoles[userID], roleID)
	return nil
}

func (s *MemStore) RolesForUser(ctx context.Context, userID string) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	links := s.userRoles[userID]
	out := make([]Role, 0, len(links))
	for roleID := range links {
		if r, ok := s.roles[roleID]; ok {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemStore) PermissionCodesForUser(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]struct{})
	for roleID := range s.userRoles[userID] {
		for code := range s.rolePerms[roleID] {
			set[code] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for code := range set {
		out = append(out, code)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemStore) CreateRefreshToken(ctx context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = s.now().UTC()
	}
	cp := *tok
	s.tokens[tok.ID] = &cp
	return nil
}

func (s *MemStore) GetRefreshToken(ctx context.Context, id string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s *MemStore) RevokeRefreshToken(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return false, nil
	}
	if tok.RevokedAt != nil {
		return false, nil
	}
	t := at
	tok.RevokedAt = &t
	return true, nil
}

func (s *MemStore) RevokeRefreshTokensForUser(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range s.tokens {
		if tok.UserID == userID && tok.RevokedAt == nil {
			t := at
			tok.RevokedAt = &t
		}
	}
	return nil
}

var _ Store = (*MemStore)(nil)
