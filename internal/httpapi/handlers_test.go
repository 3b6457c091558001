package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"

	"idengine.org/internal/auth"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	svc     *auth.Service
}

func newTestAPI(t *testing.T) *apiClient {
	return newTestAPIWithOptions(t, 100, 100)
}

func newTestAPIWithOptions(t *testing.T, loginRate, loginBurst int) *apiClient {
	t.Helper()

	store := auth.NewMemStore()
	iss, err := auth.NewIssuer(store, "test-secret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	svc := auth.NewService(store, iss)
	if err := svc.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}

	api := New(Options{
		Service:    svc,
		Logger:     zerolog.Nop(),
		Version:    "test",
		LoginRate:  loginRate,
		LoginBurst: loginBurst,
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		svc:     svc,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, headers)
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// seedAdmin registers a user holding the complete permission catalog and
// returns the user and a valid access token.
func (c *apiClient) seedAdmin(email, password string) (auth.User, string) {
	c.t.Helper()
	ctx := context.Background()

	user, err := c.svc.Register(ctx, email, password)
	if err != nil {
		c.t.Fatalf("register: %v", err)
	}
	role, err := c.svc.CreateRole(ctx, "admin-"+user.ID, "")
	if err != nil {
		c.t.Fatalf("create role: %v", err)
	}
	codes := make([]string, 0, len(auth.BuiltinPermissions))
	for _, p := range auth.BuiltinPermissions {
		codes = append(codes, p.Code)
	}
	if err := c.svc.SetRolePermissions(ctx, role.ID, codes); err != nil {
		c.t.Fatalf("set role permissions: %v", err)
	}
	if _, err := c.svc.Resolver().AssignRole(ctx, user.ID, role.ID); err != nil {
		c.t.Fatalf("assign role: %v", err)
	}
	session, err := c.svc.Login(ctx, email, password)
	if err != nil {
		c.t.Fatalf("login: %v", err)
	}
	return user, session.AccessToken
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestReadyz(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/readyz", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestUnknownRouteRequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	// Unauthenticated probes of unknown paths learn nothing about routing.
	resp := api.get("/v2/nope", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	_, token := api.seedAdmin("router@example.com", "password-1")
	resp = api.get("/v2/nope", nil, bearer(token))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestLoginMethodNotAllowed(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/auth/login", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != http.MethodPost {
		t.Fatalf("unexpected Allow header: %q", allow)
	}
}

func TestMalformedJSONRejected(t *testing.T) {
	api := newTestAPI(t)

	req, err := http.NewRequest(http.MethodPost, api.baseURL+"/v1/auth/login",
		bytes.NewReader([]byte(`{"email": "a@b.c", "password": "x"} trailing`)))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/login", map[string]any{
		"email": "a@b.c", "password": "x", "bogus": true,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
