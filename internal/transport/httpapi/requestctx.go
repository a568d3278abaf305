package httpapi

import (
	"context"

	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/transport/auth"
)

type ctxKey string

const (
	ctxKeyCorrelationID ctxKey = "correlationId"
	ctxKeyTenant        ctxKey = "tenant"
	ctxKeyPrincipal     ctxKey = "principal"
)

// tenantCoords is the three header-derived identifiers required on every
// request (spec §6: "X-ELF-Tenant-Id, X-ELF-Project-Id, X-ELF-Agent-Id").
type tenantCoords struct {
	TenantID    string
	ProjectID   string
	AgentID     string
	ReadProfile domain.ReadProfile // only set on search-family routes
}

func withTenantCoords(ctx context.Context, t tenantCoords) context.Context {
	return context.WithValue(ctx, ctxKeyTenant, t)
}

func tenantCoordsFrom(ctx context.Context) tenantCoords {
	t, _ := ctx.Value(ctxKeyTenant).(tenantCoords)
	return t
}

// Populated only when an Authenticator is configured; when set,
// TenantHeaderMiddleware rejects tenant header values that differ from it,
// so a caller can't claim coordinates its credential doesn't grant.
func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

func principalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(auth.Principal)
	return p, ok
}

func withCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

// CorrelationID retrieves the request's correlation id, generated by
// CorrelationMiddleware if the caller didn't supply one.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyCorrelationID).(string)
	return id
}
