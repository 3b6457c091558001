package auth

import "time"

// User is a principal: a human or service identity that can authenticate.
// PasswordHash never leaves the package boundary in API responses.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty"`
	Avatar        string     `json:"avatar,omitempty"`
	PasswordHash  string     `json:"-"`
	Active        bool       `json:"active"`
	EmailVerified bool       `json:"email_verified"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

// Role groups permissions into a coarse-grained bucket.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a fine-grained capability, identified by its code.
// Codes are namespaced `resource:action` strings and compared byte-for-byte.
type Permission struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Service     string    `json:"service"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserRole links a user to a role. The pair is unique.
type UserRole struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RolePermission links a role to a permission. The pair is unique.
type RolePermission struct {
	RoleID       string    `json:"role_id"`
	PermissionID string    `json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// RefreshToken is the persisted half of a refresh token. Only the SHA-256 of
// the secret portion is stored; the raw token is returned to the caller once
// at issuance and never again.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt *time.Time
}

// Usable reports whether the token may still be redeemed at the given instant.
// Revocation is one-way: once RevokedAt is set the token is dead forever.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// UserUpdate carries optional field changes for a user. Nil means unchanged.
type UserUpdate struct {
	Email         *string
	Password      *string
	FirstName     *string
	LastName      *string
	Avatar        *string
	Active        *bool
	EmailVerified *bool
}
