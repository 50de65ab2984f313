// Package backoffice_test runs HTTP-level smoke tests for the admin router
// using net/http/httptest. No database is required — every asserted response
// comes from routing or middleware, which run before any service call.
package backoffice_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kmarket/settlement/internal/backoffice"
	"github.com/kmarket/settlement/internal/config"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func buildAdminRouter(t *testing.T, allowedIPs string) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{
			Env:                  "development",
			BackofficeAllowedIPs: allowedIPs,
		},
	}
	return backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{Cfg: cfg})
}

func doAdmin(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// ── JWT guard ─────────────────────────────────────────────────────────────────

// Every authenticated admin route must reject requests without a bearer token.
// A 401 (rather than 404) also proves the route is registered.
func TestAdminRoutes_RequireAuth(t *testing.T) {
	h := buildAdminRouter(t, "")

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/admin/dashboard"},
		{http.MethodGet, "/admin/markets"},
		{http.MethodGet, "/admin/positions"},
		{http.MethodGet, "/admin/positions?wallet=8f1k&status=placed"},
		{http.MethodGet, "/admin/events/failed"},
	}
	for _, rt := range routes {
		rr := doAdmin(t, h, rt.method, rt.path)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token = %d, want 401", rt.method, rt.path, rr.Code)
		}
	}
}

func TestAdminRoutes_MalformedBearer(t *testing.T) {
	h := buildAdminRouter(t, "")
	req := httptest.NewRequest(http.MethodGet, "/admin/positions", nil)
	req.Header.Set("Authorization", "Token abc") // not a Bearer scheme
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("malformed Authorization header = %d, want 401", rr.Code)
	}
}

// ── IP whitelist ──────────────────────────────────────────────────────────────

func TestIPWhitelist_BlocksUnknownIP(t *testing.T) {
	// httptest requests come from 192.0.2.1; whitelist someone else.
	h := buildAdminRouter(t, "10.0.0.1")
	rr := doAdmin(t, h, http.MethodGet, "/admin/dashboard")
	if rr.Code != http.StatusForbidden {
		t.Errorf("non-whitelisted IP = %d, want 403", rr.Code)
	}
}

func TestIPWhitelist_EmptyAllowsAll(t *testing.T) {
	h := buildAdminRouter(t, "")
	rr := doAdmin(t, h, http.MethodGet, "/admin/dashboard")
	if rr.Code == http.StatusForbidden {
		t.Error("empty whitelist should not block requests")
	}
}

// ── Login validation ──────────────────────────────────────────────────────────

func TestLogin_EmptyBody(t *testing.T) {
	h := buildAdminRouter(t, "")
	rr := doAdmin(t, h, http.MethodPost, "/admin/login")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("POST /admin/login empty body = %d, want 400", rr.Code)
	}
}
