package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestIssuer(t *testing.T, store Store, opts ...IssuerOption) *Issuer {
	t.Helper()
	iss, err := NewIssuer(store, "test-signing-secret", opts...)
	if err != nil {
		t.Fatal(err)
	}
	return iss
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer(NewMemStore(), "   "); err == nil {
		t.Fatal("expected construction error for blank secret")
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	iss := newTestIssuer(t, NewMemStore())
	user := User{ID: "user-1", Email: "alice@example.com"}

	token, exp, err := iss.IssueAccessToken(user, []string{"admin"}, []string{PermUserRead, PermUserWrite})
	if err != nil {
		t.Fatal(err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expiry %v is not in the future", exp)
	}

	claims, err := iss.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "alice@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "admin" {
		t.Fatalf("unexpected roles: %v", claims.Roles)
	}
	if len(claims.Permissions) != 2 {
		t.Fatalf("unexpected permissions: %v", claims.Permissions)
	}
	if claims.ID == "" {
		t.Fatal("missing jti")
	}
}

func TestVerifyAccessTokenRejectsGarbage(t *testing.T) {
	iss := newTestIssuer(t, NewMemStore())
	for _, token := range []string{"", "   ", "not.a.jwt", "a.b"} {
		if _, err := iss.VerifyAccessToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestVerifyAccessTokenRejectsWrongSecret(t *testing.T) {
	store := NewMemStore()
	iss := newTestIssuer(t, store)
	other, err := NewIssuer(store, "a-different-secret")
	if err != nil {
		t.Fatal(err)
	}

	token, _, err := iss.IssueAccessToken(User{ID: "u1"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.VerifyAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyAccessTokenExpiry(t *testing.T) {
	clock := time.Now()
	iss := newTestIssuer(t, NewMemStore(),
		WithAccessTTL(time.Minute),
		WithClock(func() time.Time { return clock }),
	)

	token, _, err := iss.IssueAccessToken(User{ID: "u1"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := iss.VerifyAccessToken(token); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}

	clock = clock.Add(2 * time.Minute)
	if _, err := iss.VerifyAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestRefreshTokenRedeemRotates(t *testing.T) {
	ctx := context.Background()
	iss := newTestIssuer(t, NewMemStore())

	raw, rec, err := iss.IssueRefreshToken(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(raw, ".") {
		t.Fatalf("unexpected token shape: %q", raw)
	}
	if strings.Contains(rec.TokenHash, strings.SplitN(raw, ".", 2)[1]) {
		t.Fatal("stored hash contains the raw secret")
	}

	userID, err := iss.Redeem(ctx, raw)
	if err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("redeemed for %q, want user-1", userID)
	}

	// Rotate on use: the same token is dead after one redemption.
	if _, err := iss.Redeem(ctx, raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second redeem: expected ErrInvalidToken, got %v", err)
	}
}

func TestRefreshTokenExpired(t *testing.T) {
	ctx := context.Background()
	clock := time.Now()
	iss := newTestIssuer(t, NewMemStore(),
		WithRefreshTTL(time.Hour),
		WithClock(func() time.Time { return clock }),
	)

	raw, _, err := iss.IssueRefreshToken(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(2 * time.Hour)
	if _, err := iss.Redeem(ctx, raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestRedeemMalformed(t *testing.T) {
	ctx := context.Background()
	iss := newTestIssuer(t, NewMemStore())
	for _, raw := range []string{"", "no-dot", ".leading", "trailing.", "unknown.secret"} {
		if _, err := iss.Redeem(ctx, raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", raw, err)
		}
	}
}

func TestRedeemWrongSecretBurnsToken(t *testing.T) {
	ctx := context.Background()
	iss := newTestIssuer(t, NewMemStore())

	raw, rec, err := iss.IssueRefreshToken(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := iss.Redeem(ctx, rec.ID+".guessed-secret"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	// Probing with the right id and a wrong secret kills the real token too.
	if _, err := iss.Redeem(ctx, raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected burned token to be unusable, got %v", err)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	ctx := context.Background()
	iss := newTestIssuer(t, NewMemStore())

	raw, _, err := iss.IssueRefreshToken(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := iss.Revoke(ctx, raw); err != nil {
			t.Fatalf("revoke #%d: %v", i+1, err)
		}
	}
	if err := iss.Revoke(ctx, "garbage"); err != nil {
		t.Fatalf("revoking garbage: %v", err)
	}
	if _, err := iss.Redeem(ctx, raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked token to be unusable, got %v", err)
	}
}

func TestConcurrentRedeemExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	iss := newTestIssuer(t, NewMemStore())

	raw, _, err := iss.IssueRefreshToken(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}

	const n = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := iss.Redeem(ctx, raw); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful redemption, got %d", successes)
	}
}
