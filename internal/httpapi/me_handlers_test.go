package httpapi

import (
	"context"
	"net/http"
	"testing"

	"idengine.org/internal/auth"
)

// registerAndLogin creates a role-less user and returns it with a live token.
func (c *apiClient) registerAndLogin(email, password string) (auth.User, string) {
	c.t.Helper()
	ctx := context.Background()
	user, err := c.svc.Register(ctx, email, password)
	if err != nil {
		c.t.Fatalf("register: %v", err)
	}
	session, err := c.svc.Login(ctx, email, password)
	if err != nil {
		c.t.Fatalf("login: %v", err)
	}
	return user, session.AccessToken
}

func TestMeRequiresToken(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/users/me", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestMeReturnsOwnProfileWithoutPermissions(t *testing.T) {
	api := newTestAPI(t)
	user, token := api.registerAndLogin("solo@example.com", "password-1")

	// No management permission is needed to read your own profile.
	resp := api.get("/v1/users/me", nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		User        userResponse `json:"user"`
		Roles       []auth.Role  `json:"roles"`
		Permissions []string     `json:"permissions"`
	}
	decodeBody(t, resp, &body)
	if body.User.ID != user.ID || body.User.Email != "solo@example.com" {
		t.Fatalf("unexpected user: %+v", body.User)
	}
	if len(body.Roles) != 0 || len(body.Permissions) != 0 {
		t.Fatalf("expected empty role set, got %+v / %+v", body.Roles, body.Permissions)
	}
}

func TestMeIncludesAssignedRoles(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.seedAdmin("admin@example.com", "password-1")

	resp := api.get("/v1/users/me", nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Roles       []auth.Role `json:"roles"`
		Permissions []string    `json:"permissions"`
	}
	decodeBody(t, resp, &body)
	if len(body.Roles) != 1 {
		t.Fatalf("expected one role, got %+v", body.Roles)
	}
	if len(body.Permissions) != len(auth.BuiltinPermissions) {
		t.Fatalf("expected the full catalog, got %v", body.Permissions)
	}
}

func TestMePatchUpdatesProfile(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.registerAndLogin("ada@example.com", "password-1")

	resp := api.do(http.MethodPatch, "/v1/users/me", map[string]any{
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"avatar":     "https://cdn.example.com/ada.png",
	}, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var updated userResponse
	decodeBody(t, resp, &updated)
	if updated.FirstName != "Ada" || updated.LastName != "Lovelace" {
		t.Fatalf("unexpected profile: %+v", updated)
	}
	if updated.Avatar != "https://cdn.example.com/ada.png" {
		t.Fatalf("unexpected avatar: %q", updated.Avatar)
	}

	// The change is durable, not just echoed.
	resp = api.get("/v1/users/me", nil, bearer(token))
	var body struct {
		User userResponse `json:"user"`
	}
	decodeBody(t, resp, &body)
	if body.User.FirstName != "Ada" {
		t.Fatalf("profile update not persisted: %+v", body.User)
	}
}

func TestMePatchRejectsBadEmail(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.registerAndLogin("ada@example.com", "password-1")

	resp := api.do(http.MethodPatch, "/v1/users/me", map[string]any{
		"email": "not-an-email",
	}, bearer(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestMePatchCannotEscalate(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.registerAndLogin("pleb@example.com", "password-1")

	// active and email_verified are admin-only fields; the self-service
	// route does not know them.
	resp := api.do(http.MethodPatch, "/v1/users/me", map[string]any{
		"email_verified": true,
	}, bearer(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestChangePasswordFlow(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.registerAndLogin("ada@example.com", "old-password-1")

	resp := api.post("/v1/users/me/change-password", map[string]any{
		"current_password": "old-password-1",
		"new_password":     "new-password-1",
	}, bearer(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	ctx := context.Background()
	if _, err := api.svc.Login(ctx, "ada@example.com", "old-password-1"); err == nil {
		t.Fatal("old password still accepted")
	}
	if _, err := api.svc.Login(ctx, "ada@example.com", "new-password-1"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.registerAndLogin("ada@example.com", "old-password-1")

	resp := api.post("/v1/users/me/change-password", map[string]any{
		"current_password": "guess-password",
		"new_password":     "new-password-1",
	}, bearer(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	// The password is unchanged.
	if _, err := api.svc.Login(context.Background(), "ada@example.com", "old-password-1"); err != nil {
		t.Fatalf("original password rejected: %v", err)
	}
}

func TestChangePasswordTooShort(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.registerAndLogin("ada@example.com", "old-password-1")

	resp := api.post("/v1/users/me/change-password", map[string]any{
		"current_password": "old-password-1",
		"new_password":     "short",
	}, bearer(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestMeUnknownSubroute(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.registerAndLogin("ada@example.com", "password-1")

	resp := api.get("/v1/users/me/sessions", nil, bearer(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
