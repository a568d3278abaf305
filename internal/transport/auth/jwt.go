package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/elf-memory/elf/internal/domain"
)

// JWTAuthenticator verifies an HS256 bearer token and maps its claims to a
// Principal. Grounded on the teacher's internal/auth.ValidateToken's HS256
// branch — the shared-secret "backend token" path, not the RS256/JWKS
// upstream-IdP machinery, which has no equivalent identity provider in
// ELF's scope (spec §6 names no OIDC integration).
type JWTAuthenticator struct {
	Secret string
}

type elfClaims struct {
	TenantID    string `json:"tenant_id"`
	ProjectID   string `json:"project_id"`
	AgentID     string `json:"agent_id"`
	ReadProfile string `json:"read_profile"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

func (a JWTAuthenticator) Authenticate(r *http.Request) (Principal, error) {
	token, ok := bearerToken(r)
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	if a.Secret == "" {
		return Principal{}, errors.New("auth: JWTAuthenticator has no secret configured")
	}

	claims := &elfClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.Secret), nil
	})
	if err != nil || !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.TenantID == "" || claims.ProjectID == "" || claims.AgentID == "" {
		return Principal{}, fmt.Errorf("%w: token is missing tenant_id/project_id/agent_id claims", ErrUnauthenticated)
	}

	return Principal{
		TenantID: claims.TenantID, ProjectID: claims.ProjectID, AgentID: claims.AgentID,
		ReadProfile: domain.ReadProfile(claims.ReadProfile), Role: claims.Role,
	}, nil
}
