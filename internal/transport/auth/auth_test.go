package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestStaticTableAuthenticatorRejectsMissingHeader(t *testing.T) {
	table := StaticTableAuthenticator{"tok": {TenantID: "t1"}}
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	if _, err := table.Authenticate(req); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestStaticTableAuthenticatorAcceptsKnownToken(t *testing.T) {
	table := StaticTableAuthenticator{"tok": {TenantID: "t1", ProjectID: "p1", AgentID: "a1", Role: "reader"}}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")

	p, err := table.Authenticate(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TenantID != "t1" || p.Role != "reader" {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return s
}

func TestJWTAuthenticatorAcceptsValidToken(t *testing.T) {
	auth := JWTAuthenticator{Secret: "shh"}
	token := signHS256(t, "shh", jwt.MapClaims{
		"tenant_id": "t1", "project_id": "p1", "agent_id": "a1", "read_profile": "all_scopes",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	p, err := auth.Authenticate(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TenantID != "t1" || p.ProjectID != "p1" || p.AgentID != "a1" {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestJWTAuthenticatorRejectsWrongSecret(t *testing.T) {
	auth := JWTAuthenticator{Secret: "shh"}
	token := signHS256(t, "other-secret", jwt.MapClaims{
		"tenant_id": "t1", "project_id": "p1", "agent_id": "a1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	if _, err := auth.Authenticate(req); err == nil {
		t.Fatal("expected an error for a token signed with the wrong secret")
	}
}

func TestJWTAuthenticatorRejectsMissingClaims(t *testing.T) {
	auth := JWTAuthenticator{Secret: "shh"}
	token := signHS256(t, "shh", jwt.MapClaims{
		"tenant_id": "t1", "exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	if _, err := auth.Authenticate(req); err == nil {
		t.Fatal("expected an error when project_id/agent_id claims are missing")
	}
}

func TestJWTAuthenticatorRejectsExpiredToken(t *testing.T) {
	auth := JWTAuthenticator{Secret: "shh"}
	token := signHS256(t, "shh", jwt.MapClaims{
		"tenant_id": "t1", "project_id": "p1", "agent_id": "a1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	if _, err := auth.Authenticate(req); err == nil {
		t.Fatal("expected an error for an expired token")
	}
}
