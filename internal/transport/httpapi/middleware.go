package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elf-memory/elf/internal/cjk"
	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/transport/auth"
)

const maxHeaderLen = 128

// CorrelationMiddleware reads X-Correlation-ID, generating one if the
// caller didn't supply it, and echoes it back on the response. Grounded on
// the teacher's internal/httpapi.CorrelationMiddleware.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", id)
		r = r.WithContext(withCorrelationID(r.Context(), id))
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one structured line per request at completion.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("correlation_id", CorrelationID(r.Context())).
				Msg("request handled")
		})
	}
}

// AuthMiddleware runs authenticator against every request when mode ==
// "bearer", storing the resolved auth.Principal in context for
// TenantHeaderMiddleware to cross-check. Any other mode (including "", or a
// nil authenticator) is a no-op, matching a trusted-network deployment that
// relies solely on the tenant headers.
func AuthMiddleware(authenticator auth.Authenticator, mode string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if mode != "bearer" || authenticator == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := authenticator.Authenticate(r)
			if err != nil {
				if errors.Is(err, auth.ErrUnauthenticated) {
					writeAPIError(w, r, scopeDeniedErr("missing or invalid credential"))
					return
				}
				writeAPIError(w, r, internalErr("AUTH_UNAVAILABLE"))
				return
			}
			r = r.WithContext(withPrincipal(r.Context(), p))
			next.ServeHTTP(w, r)
		})
	}
}

func validateHeaderValue(name, v string) *apiError {
	if strings.TrimSpace(v) == "" {
		return invalidRequestErr(name + " is required")
	}
	if len(v) > maxHeaderLen {
		return invalidRequestErr(name + " exceeds maximum length")
	}
	if cjk.ContainsCJK(v) {
		return invalidRequestErr(name + " must not contain CJK characters")
	}
	return nil
}

// TenantHeaderMiddleware extracts and validates the three coordinates every
// operation needs (spec §6: "X-ELF-Tenant-Id, X-ELF-Project-Id,
// X-ELF-Agent-Id ... non-empty, <=128 chars, no CJK"). When a principal was
// already established by AuthMiddleware, the header values must match
// it exactly — a token can't be used to claim different coordinates.
func TenantHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get("X-ELF-Tenant-Id")
		projectID := r.Header.Get("X-ELF-Project-Id")
		agentID := r.Header.Get("X-ELF-Agent-Id")

		for name, v := range map[string]string{
			"X-ELF-Tenant-Id": tenantID, "X-ELF-Project-Id": projectID, "X-ELF-Agent-Id": agentID,
		} {
			if apiErr := validateHeaderValue(name, v); apiErr != nil {
				writeAPIError(w, r, apiErr)
				return
			}
		}

		if p, ok := principalFrom(r.Context()); ok {
			if p.TenantID != tenantID || p.ProjectID != projectID || p.AgentID != agentID {
				writeAPIError(w, r, scopeDeniedErr("token does not authorize these coordinates"))
				return
			}
		}

		r = r.WithContext(withTenantCoords(r.Context(), tenantCoords{TenantID: tenantID, ProjectID: projectID, AgentID: agentID}))
		next.ServeHTTP(w, r)
	})
}

// ReadProfileHeaderMiddleware extracts X-ELF-Read-Profile, required on
// every search-family endpoint (spec §6).
func ReadProfileHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profile := r.Header.Get("X-ELF-Read-Profile")
		if apiErr := validateHeaderValue("X-ELF-Read-Profile", profile); apiErr != nil {
			writeAPIError(w, r, apiErr)
			return
		}
		t := tenantCoordsFrom(r.Context())
		t.ReadProfile = domain.ReadProfile(profile)
		r = r.WithContext(withTenantCoords(r.Context(), t))
		next.ServeHTTP(w, r)
	})
}
