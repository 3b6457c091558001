package httpapi

import (
	"io"
	"net/http"
	"testing"
)

func TestRegisterAndLoginFlow(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/register", map[string]any{
		"email":    "alice@example.com",
		"password": "password-1",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}
	var created userResponse
	decodeBody(t, resp, &created)
	if created.Email != "alice@example.com" || !created.Active {
		t.Fatalf("unexpected user: %+v", created)
	}

	resp = api.post("/v1/auth/login", map[string]any{
		"email":    "alice@example.com",
		"password": "password-1",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	var session sessionResponse
	decodeBody(t, resp, &session)
	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatalf("missing tokens: %+v", session)
	}
	if !session.RefreshExpiresAt.After(session.AccessExpiresAt) {
		t.Fatal("refresh token should outlive access token")
	}
	if session.User.ID != created.ID {
		t.Fatalf("session user %q, want %q", session.User.ID, created.ID)
	}
}

func TestRegisterValidation(t *testing.T) {
	api := newTestAPI(t)

	cases := []struct {
		name string
		body map[string]any
		code int
	}{
		{"bad email", map[string]any{"email": "nope", "password": "password-1"}, http.StatusBadRequest},
		{"short password", map[string]any{"email": "a@example.com", "password": "short"}, http.StatusBadRequest},
		{"empty body", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp := api.post("/v1/auth/register", tc.body, nil)
		resp.Body.Close()
		if resp.StatusCode != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.code, resp.StatusCode)
		}
	}

	ok := map[string]any{"email": "dup@example.com", "password": "password-1"}
	resp := api.post("/v1/auth/register", ok, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp = api.post("/v1/auth/register", ok, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", resp.StatusCode)
	}
}

func TestLoginDenialBodiesMatch(t *testing.T) {
	api := newTestAPI(t)
	api.seedAdmin("alice@example.com", "password-1")

	read := func(body map[string]any) *http.Response {
		t.Helper()
		return api.post("/v1/auth/login", body, nil)
	}

	wrongPassword := read(map[string]any{"email": "alice@example.com", "password": "wrong"})
	unknownEmail := read(map[string]any{"email": "ghost@example.com", "password": "wrong"})

	if wrongPassword.StatusCode != http.StatusUnauthorized || unknownEmail.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", wrongPassword.StatusCode, unknownEmail.StatusCode)
	}

	var a, b map[string]any
	decodeBody(t, wrongPassword, &a)
	decodeBody(t, unknownEmail, &b)
	// Identical denial message either way; only the request id may differ.
	if a["error"] != b["error"] || a["error"] != "invalid credentials" {
		t.Fatalf("denial bodies diverge: %v vs %v", a, b)
	}
}

func TestRefreshEndpointRotates(t *testing.T) {
	api := newTestAPI(t)
	api.seedAdmin("alice@example.com", "password-1")

	resp := api.post("/v1/auth/login", map[string]any{
		"email": "alice@example.com", "password": "password-1",
	}, nil)
	var first sessionResponse
	decodeBody(t, resp, &first)

	resp = api.post("/v1/auth/refresh", map[string]any{"refresh_token": first.RefreshToken}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d", resp.StatusCode)
	}
	var second sessionResponse
	decodeBody(t, resp, &second)
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	resp = api.post("/v1/auth/refresh", map[string]any{"refresh_token": first.RefreshToken}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("reused token: expected 401, got %d", resp.StatusCode)
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	api := newTestAPI(t)

	for _, token := range []string{"", "garbage", "id.secret"} {
		resp := api.post("/v1/auth/refresh", map[string]any{"refresh_token": token}, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401, got %d", token, resp.StatusCode)
		}
	}
}

func TestLogoutAlwaysSucceeds(t *testing.T) {
	api := newTestAPI(t)
	api.seedAdmin("alice@example.com", "password-1")

	resp := api.post("/v1/auth/login", map[string]any{
		"email": "alice@example.com", "password": "password-1",
	}, nil)
	var session sessionResponse
	decodeBody(t, resp, &session)

	for _, token := range []string{session.RefreshToken, session.RefreshToken, "garbage", ""} {
		resp := api.post("/v1/auth/logout", map[string]any{"refresh_token": token}, nil)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("logout %q: expected 200, got %d (%s)", token, resp.StatusCode, body)
		}
	}

	resp = api.post("/v1/auth/refresh", map[string]any{"refresh_token": session.RefreshToken}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", resp.StatusCode)
	}
}

func TestLoginRateLimited(t *testing.T) {
	api := newTestAPIWithOptions(t, 1, 1)
	api.seedAdmin("alice@example.com", "password-1")

	body := map[string]any{"email": "alice@example.com", "password": "wrong"}
	first := api.post("/v1/auth/login", body, nil)
	first.Body.Close()
	if first.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", first.StatusCode)
	}

	limited := false
	for i := 0; i < 5; i++ {
		resp := api.post("/v1/auth/login", body, nil)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("expected a 429 once the bucket drained")
	}
}
