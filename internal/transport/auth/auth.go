// Package auth is the boundary-stub authenticator ELF's HTTP transport asks
// to resolve an inbound request's bearer token into a tenant/project/agent
// identity (spec §6 "CLI / HTTP (boundary)"). The core write/search/sharing
// services never import this package: they only see plain strings, the way
// internal/httpapi treats internal/auth as a pluggable boundary concern in
// the teacher.
package auth

import (
	"errors"
	"net/http"

	"github.com/elf-memory/elf/internal/domain"
)

// Principal is what a bearer token resolves to.
type Principal struct {
	TenantID    string
	ProjectID   string
	AgentID     string
	ReadProfile domain.ReadProfile
	Role        string
}

// ErrUnauthenticated is returned by an Authenticator when the request
// carries no usable credential or the credential doesn't verify.
var ErrUnauthenticated = errors.New("auth: request is not authenticated")

// Authenticator resolves an http.Request's credential into a Principal.
// Two implementations ship in this package: StaticTableAuthenticator (spec
// §6's literal "static key table" contract) and JWTAuthenticator (an
// HS256-only reference adapter for deployments that front ELF with a token
// issuer instead of a fixed table).
type Authenticator interface {
	Authenticate(r *http.Request) (Principal, error)
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return "", false
	}
	token := h[len(prefix):]
	if token == "" {
		return "", false
	}
	return token, true
}
