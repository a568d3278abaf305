package sharing

import (
	"context"
	"strings"
	"time"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/store"
)

// GrantUpsertRequest is space_grant_upsert()'s request (spec §4.5). Exactly
// one of GranteeKind's two shapes applies: project grantee_kind requires
// GranteeAgentID to be empty, agent grantee_kind requires it to be set.
type GrantUpsertRequest struct {
	TenantID       string
	ProjectID      string
	AgentID        string // space owner, i.e. the grantor
	Scope          domain.Scope
	GranteeKind    domain.SpaceGrantGranteeKind
	GranteeAgentID string
}

// GrantUpsertResult is space_grant_upsert()'s response.
type GrantUpsertResult struct {
	Scope          domain.Scope
	GranteeKind    domain.SpaceGrantGranteeKind
	GranteeAgentID string
	Granted        bool
}

func validateGranteeAgentID(kind domain.SpaceGrantGranteeKind, granteeAgentID string) (*string, error) {
	trimmed := strings.TrimSpace(granteeAgentID)
	switch kind {
	case domain.GranteeKindAgent:
		if trimmed == "" {
			return nil, apperr.InvalidRequest("grantee_agent_id is required for agent grantee_kind")
		}
		return &trimmed, nil
	case domain.GranteeKindProject:
		if trimmed != "" {
			return nil, apperr.InvalidRequest("grantee_agent_id must be empty for project grantee_kind")
		}
		return nil, nil
	default:
		return nil, apperr.InvalidRequest("grantee_kind must be project or agent")
	}
}

// GrantUpsert opens (or re-opens, if previously revoked) a project_shared/
// org_shared scope to either an entire project or one named agent (spec
// §4.5 "space_grant_upsert/revoke/list: idempotent grants keyed as in §3").
func (s *Service) GrantUpsert(ctx context.Context, req GrantUpsertRequest) (*GrantUpsertResult, error) {
	if err := requireCoords(req.TenantID, req.ProjectID, req.AgentID); err != nil {
		return nil, err
	}
	if !scopeWriteAllowed(s.Cfg, req.Scope) {
		return nil, apperr.ScopeDenied("Scope is not allowed.")
	}
	granteeAgentID, err := validateGranteeAgentID(req.GranteeKind, req.GranteeAgentID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.Store.UpsertSpaceGrant(ctx, s.Store.Pool(), &domain.SpaceGrant{
		TenantID: req.TenantID, ProjectID: req.ProjectID, Scope: req.Scope,
		SpaceOwnerID: req.AgentID, GranteeKind: req.GranteeKind, GranteeAgentID: granteeAgentID,
		GrantedBy: req.AgentID, GrantedAt: now,
	}); err != nil {
		return nil, err
	}

	result := GrantUpsertResult{Scope: req.Scope, GranteeKind: req.GranteeKind, Granted: true}
	if granteeAgentID != nil {
		result.GranteeAgentID = *granteeAgentID
	}
	return &result, nil
}

// GrantRevokeRequest is space_grant_revoke()'s request (spec §4.5).
type GrantRevokeRequest struct {
	TenantID       string
	ProjectID      string
	AgentID        string // space owner
	Scope          domain.Scope
	GranteeKind    domain.SpaceGrantGranteeKind
	GranteeAgentID string
}

// GrantRevokeResult is space_grant_revoke()'s response.
type GrantRevokeResult struct {
	Revoked bool
}

// GrantRevoke sets revoked_at/revoked_by on the currently active grant
// matching the given coordinates (spec §4.5: "Revoke sets revoked_at=now,
// revoked_by=agent").
func (s *Service) GrantRevoke(ctx context.Context, req GrantRevokeRequest) (*GrantRevokeResult, error) {
	if err := requireCoords(req.TenantID, req.ProjectID, req.AgentID); err != nil {
		return nil, err
	}
	granteeAgentID, err := validateGranteeAgentID(req.GranteeKind, req.GranteeAgentID)
	if err != nil {
		return nil, err
	}
	if !scopeWriteAllowed(s.Cfg, req.Scope) {
		return nil, apperr.ScopeDenied("Scope is not allowed.")
	}

	now := time.Now().UTC()
	err = s.Store.RevokeSpaceGrant(ctx, req.TenantID, req.ProjectID, req.Scope, req.AgentID, req.GranteeKind, granteeAgentID, req.AgentID, now)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apperr.InvalidRequest("No active grant found.")
		}
		return nil, err
	}
	return &GrantRevokeResult{Revoked: true}, nil
}

// GrantsListRequest is space_grants_list()'s request (spec §4.5).
type GrantsListRequest struct {
	TenantID  string
	ProjectID string
	AgentID   string // space owner
	Scope     domain.Scope
}

// GrantItem is one listed grant.
type GrantItem struct {
	Scope          domain.Scope
	GranteeKind    domain.SpaceGrantGranteeKind
	GranteeAgentID *string
	GrantedBy      string
	GrantedAt      time.Time
}

// GrantsListResult is space_grants_list()'s response.
type GrantsListResult struct {
	Grants []GrantItem
}

// GrantsList returns every non-revoked grant the caller has opened as
// space owner for one scope (spec §4.5: "Listing only returns non-revoked
// grants for the caller as space owner").
func (s *Service) GrantsList(ctx context.Context, req GrantsListRequest) (*GrantsListResult, error) {
	if err := requireCoords(req.TenantID, req.ProjectID, req.AgentID); err != nil {
		return nil, err
	}
	if !scopeWriteAllowed(s.Cfg, req.Scope) {
		return nil, apperr.ScopeDenied("Scope is not allowed.")
	}

	all, err := s.Store.ListActiveGrants(ctx, req.TenantID, req.ProjectID)
	if err != nil {
		return nil, err
	}
	out := make([]GrantItem, 0, len(all))
	for _, g := range all {
		if g.Scope != req.Scope || g.SpaceOwnerID != req.AgentID {
			continue
		}
		out = append(out, GrantItem{
			Scope: g.Scope, GranteeKind: g.GranteeKind, GranteeAgentID: g.GranteeAgentID,
			GrantedBy: g.GrantedBy, GrantedAt: g.GrantedAt,
		})
	}
	return &GrantsListResult{Grants: out}, nil
}
