package auth

import (
	"net/http"
	"testing"
)

func TestAuthSkipper_PublicPaths(t *testing.T) {
	for _, path := range []string{"/health", "/health/db", "/api/auth/login", "/api/auth/register", "/api/intake/schema"} {
		t.Run(path, func(t *testing.T) {
			c := contextWithRole("")
			c.SetPath(path)
			if !AuthSkipper(c) {
				t.Errorf("expected AuthSkipper to return true for %s", path)
			}
		})
	}
}

func TestAuthSkipper_ProtectedPaths(t *testing.T) {
	for _, path := range []string{"/api/children/:id", "/api/auth/switch", "/api/claims", "/", "/health/extra"} {
		t.Run(path, func(t *testing.T) {
			c := contextWithRole("")
			c.SetPath(path)
			if AuthSkipper(c) {
				t.Errorf("expected AuthSkipper to return false for %s", path)
			}
		})
	}
}

func TestIsPublicPath(t *testing.T) {
	if !IsPublicPath("/health") {
		t.Error("expected /health to be public")
	}
	if IsPublicPath("/api/claims") {
		t.Error("expected /api/claims to NOT be public")
	}
}

func TestJWTMiddleware_SkipsPublicPaths(t *testing.T) {
	cfg := JWTConfig{Issuer: newTestIssuer(), Skipper: AuthSkipper}
	c, err, _ := runMiddleware(t, cfg, "/api/auth/login", "")
	if err != nil {
		t.Fatalf("expected public path to pass, got %v", err)
	}
	if c.Response().Status != http.StatusOK {
		t.Errorf("expected 200, got %d", c.Response().Status)
	}
}

func TestJWTMiddleware_DoesNotSkipProtectedPaths(t *testing.T) {
	cfg := JWTConfig{Issuer: newTestIssuer(), Skipper: AuthSkipper}
	_, err, _ := runMiddleware(t, cfg, "/api/claims", "")
	expectStatus(t, err, http.StatusUnauthorized)
}
