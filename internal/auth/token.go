package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"idengine.org/internal/ids"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims is the access-token claim bundle other services verify. Expiry is
// mandatory and checked by every verifier, not only at issuance.
type Claims struct {
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Issuer mints access tokens (signed, self-contained) and refresh tokens
// (opaque, persisted server-side). Refresh tokens rotate on use: redeeming
// one revokes it and the caller is expected to mint a replacement.
type Issuer struct {
	store      Store
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer)

// WithIssuerName overrides the `iss` claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) {
		if name = strings.TrimSpace(name); name != "" {
			i.issuer = name
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer. A missing signing secret is a construction
// error: callers are expected to fail startup, not degrade per-request.
func NewIssuer(store Store, secret string, opts ...IssuerOption) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is not configured")
	}
	iss := &Issuer{
		store:      store,
		secret:     []byte(secret),
		issuer:     "idengine",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss, nil
}

// IssueAccessToken signs an HS256 JWT for the user with the resolved role
// names and permission codes embedded.
func (i *Issuer) IssueAccessToken(user User, roles, permissions []string) (string, time.Time, error) {
	now := i.now().UTC()
	exp := now.Add(i.accessTTL)
	claims := Claims{
		Email:       user.Email,
		Roles:       roles,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// VerifyAccessToken checks signature, issuer and expiry of an access token.
func (i *Issuer) VerifyAccessToken(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	}, jwt.WithIssuer(i.issuer), jwt.WithExpirationRequired(), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueRefreshToken generates an unguessable refresh token, persists its hash
// and returns the raw `<id>.<secret>` value. The raw value is never
// recoverable afterwards.
func (i *Issuer) IssueRefreshToken(ctx context.Context, userID string) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	sum := sha256.Sum256([]byte(secret))
	rec := &RefreshToken{
		ID:        ids.New(),
		UserID:    userID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: i.now().UTC().Add(i.refreshTTL),
	}
	if err := i.store.CreateRefreshToken(ctx, rec); err != nil {
		return "", nil, err
	}
	return rec.ID + "." + secret, rec, nil
}

// Redeem validates a presented refresh token and, on success, revokes it
// (rotate on use) and returns the owning user id. Exactly one of N
// concurrent redemptions of the same token succeeds; the store's
// compare-and-set on revoked_at is the enforcement point.
func (i *Issuer) Redeem(ctx context.Context, presented string) (string, error) {
	tokenID, secret, err := splitRefreshToken(presented)
	if err != nil {
		return "", ErrInvalidToken
	}
	rec, err := i.store.GetRefreshToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	if !rec.Usable(i.now()) {
		return "", ErrInvalidToken
	}
	if !matchesTokenHash(rec.TokenHash, secret) {
		// A wrong secret against a valid id looks like token probing; burn
		// the stored token so the real one cannot be replayed either.
		_, _ = i.store.RevokeRefreshToken(ctx, rec.ID, i.now().UTC())
		return "", ErrInvalidToken
	}
	won, err := i.store.RevokeRefreshToken(ctx, rec.ID, i.now().UTC())
	if err != nil {
		return "", err
	}
	if !won {
		return "", ErrInvalidToken
	}
	return rec.UserID, nil
}

// Revoke marks a presented refresh token revoked. It is an idempotent no-op
// for malformed, unknown or already-revoked tokens so that logout is safe to
// retry and leaks nothing about token validity.
func (i *Issuer) Revoke(ctx context.Context, presented string) error {
	tokenID, _, err := splitRefreshToken(presented)
	if err != nil {
		return nil
	}
	_, err = i.store.RevokeRefreshToken(ctx, tokenID, i.now().UTC())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// AccessTTL exposes the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func matchesTokenHash(storedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(storedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(actual)) == 1
}
