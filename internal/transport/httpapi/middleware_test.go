package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/transport/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestTenantHeaderMiddlewareRejectsMissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/notes", nil)
	req.Header.Set("X-ELF-Project-Id", "p1")
	req.Header.Set("X-ELF-Agent-Id", "a1")
	rec := httptest.NewRecorder()

	TenantHeaderMiddleware(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing X-ELF-Tenant-Id, got %d", rec.Code)
	}
}

func TestTenantHeaderMiddlewareRejectsCJK(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/notes", nil)
	req.Header.Set("X-ELF-Tenant-Id", "日本語")
	req.Header.Set("X-ELF-Project-Id", "p1")
	req.Header.Set("X-ELF-Agent-Id", "a1")
	rec := httptest.NewRecorder()

	TenantHeaderMiddleware(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for CJK tenant id, got %d", rec.Code)
	}
}

func TestTenantHeaderMiddlewarePassesValidHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/notes", nil)
	req.Header.Set("X-ELF-Tenant-Id", "t1")
	req.Header.Set("X-ELF-Project-Id", "p1")
	req.Header.Set("X-ELF-Agent-Id", "a1")
	rec := httptest.NewRecorder()

	var captured tenantCoords
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = tenantCoordsFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	TenantHeaderMiddleware(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if captured.TenantID != "t1" || captured.ProjectID != "p1" || captured.AgentID != "a1" {
		t.Fatalf("unexpected tenant coords: %+v", captured)
	}
}

func TestTenantHeaderMiddlewareRejectsPrincipalMismatch(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/notes", nil)
	req.Header.Set("X-ELF-Tenant-Id", "t1")
	req.Header.Set("X-ELF-Project-Id", "p1")
	req.Header.Set("X-ELF-Agent-Id", "a1")
	req = req.WithContext(withPrincipal(req.Context(), auth.Principal{TenantID: "t1", ProjectID: "p1", AgentID: "other-agent"}))
	rec := httptest.NewRecorder()

	TenantHeaderMiddleware(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when headers don't match the bearer token's principal, got %d", rec.Code)
	}
}

func TestReadProfileHeaderMiddlewareRequired(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/search", nil)
	rec := httptest.NewRecorder()

	ReadProfileHeaderMiddleware(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing X-ELF-Read-Profile, got %d", rec.Code)
	}
}

func TestReadProfileHeaderMiddlewareSetsProfile(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/search", nil)
	req.Header.Set("X-ELF-Read-Profile", string(domain.ReadProfileAllScopes))
	rec := httptest.NewRecorder()

	var captured tenantCoords
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = tenantCoordsFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	ReadProfileHeaderMiddleware(next).ServeHTTP(rec, req)

	if captured.ReadProfile != domain.ReadProfileAllScopes {
		t.Fatalf("expected read profile %q, got %q", domain.ReadProfileAllScopes, captured.ReadProfile)
	}
}

func TestAuthMiddlewarePassthroughWhenModeNotBearer(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/notes", nil)
	rec := httptest.NewRecorder()

	AuthMiddleware(nil, "")(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected auth to be a no-op when mode != bearer, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsUnknownToken(t *testing.T) {
	table := auth.StaticTableAuthenticator{"good-token": {TenantID: "t1", ProjectID: "p1", AgentID: "a1"}}
	req := httptest.NewRequest(http.MethodPost, "/v1/notes", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	rec := httptest.NewRecorder()

	AuthMiddleware(table, "bearer")(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown bearer token, got %d", rec.Code)
	}
}

func TestAuthMiddlewareAcceptsKnownToken(t *testing.T) {
	table := auth.StaticTableAuthenticator{"good-token": {TenantID: "t1", ProjectID: "p1", AgentID: "a1", Role: "writer"}}
	req := httptest.NewRequest(http.MethodPost, "/v1/notes", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()

	var found auth.Principal
	var ok bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		found, ok = principalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	AuthMiddleware(table, "bearer")(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for known token, got %d", rec.Code)
	}
	if !ok || found.AgentID != "a1" || found.Role != "writer" {
		t.Fatalf("expected principal to be set from token table, got %+v (ok=%v)", found, ok)
	}
}

func TestCorrelationMiddlewareGeneratesIDWhenAbsent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	var captured string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	CorrelationMiddleware(next).ServeHTTP(rec, req)

	if captured == "" {
		t.Fatal("expected a generated correlation id")
	}
	if rec.Header().Get("X-Correlation-ID") != captured {
		t.Fatalf("expected response header to echo correlation id %q, got %q", captured, rec.Header().Get("X-Correlation-ID"))
	}
}

func TestCorrelationMiddlewareEchoesSuppliedID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "caller-supplied-id")
	rec := httptest.NewRecorder()

	CorrelationMiddleware(okHandler()).ServeHTTP(rec, req)

	if rec.Header().Get("X-Correlation-ID") != "caller-supplied-id" {
		t.Fatalf("expected correlation id to be echoed verbatim, got %q", rec.Header().Get("X-Correlation-ID"))
	}
}

func TestMapErrorStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"non-english", apperr.NonEnglishInput("$.text", "bad"), http.StatusUnprocessableEntity},
		{"invalid-request", apperr.InvalidRequest("bad"), http.StatusBadRequest},
		{"scope-denied", apperr.ScopeDenied("nope"), http.StatusForbidden},
		{"storage", apperr.Storage(nil, "db down"), http.StatusInternalServerError},
		{"unwrapped", http.ErrBodyNotAllowed, http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := mapError(c.err).status; got != c.want {
			t.Errorf("%s: mapError status = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestMapErrorHidesInternalDetail(t *testing.T) {
	apiErr := mapError(apperr.Storage(nil, "leaked connection string"))
	if apiErr.Message == "leaked connection string" {
		t.Fatal("storage error detail must not reach the caller-visible message")
	}
}
