package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/sharing"
)

type publishRequestDTO struct {
	Scope domain.Scope `json:"scope"`
}

// Publish handles POST /v1/notes/{id}/publish (spec §4.5).
func (s *Server) Publish(w http.ResponseWriter, r *http.Request) {
	noteID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeAPIError(w, r, invalidRequestErr("id path parameter must be a UUID"))
		return
	}
	var body publishRequestDTO
	if err := readJSON(r, &body); err != nil {
		writeAPIError(w, r, invalidRequestErr("malformed request body"))
		return
	}
	t := tenantCoordsFrom(r.Context())

	result, svcErr := s.Sharing.Publish(r.Context(), sharing.PublishRequest{
		TenantID: t.TenantID, ProjectID: t.ProjectID, AgentID: t.AgentID,
		NoteID: noteID, Scope: body.Scope,
	})
	if svcErr != nil {
		writeServiceError(w, r, svcErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"note_id": result.NoteID, "scope": result.Scope})
}

// Unpublish handles POST /v1/notes/{id}/unpublish (spec §4.5).
func (s *Server) Unpublish(w http.ResponseWriter, r *http.Request) {
	noteID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeAPIError(w, r, invalidRequestErr("id path parameter must be a UUID"))
		return
	}
	t := tenantCoordsFrom(r.Context())

	result, svcErr := s.Sharing.Unpublish(r.Context(), sharing.UnpublishRequest{
		TenantID: t.TenantID, ProjectID: t.ProjectID, AgentID: t.AgentID, NoteID: noteID,
	})
	if svcErr != nil {
		writeServiceError(w, r, svcErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"note_id": result.NoteID, "scope": result.Scope})
}

type grantUpsertRequestDTO struct {
	Scope          domain.Scope                 `json:"scope"`
	GranteeKind    domain.SpaceGrantGranteeKind `json:"grantee_kind"`
	GranteeAgentID string                       `json:"grantee_agent_id,omitempty"`
}

// GrantUpsert handles POST /v1/space-grants (spec §4.5 space_grant_upsert).
func (s *Server) GrantUpsert(w http.ResponseWriter, r *http.Request) {
	var body grantUpsertRequestDTO
	if err := readJSON(r, &body); err != nil {
		writeAPIError(w, r, invalidRequestErr("malformed request body"))
		return
	}
	t := tenantCoordsFrom(r.Context())

	result, err := s.Sharing.GrantUpsert(r.Context(), sharing.GrantUpsertRequest{
		TenantID: t.TenantID, ProjectID: t.ProjectID, AgentID: t.AgentID,
		Scope: body.Scope, GranteeKind: body.GranteeKind, GranteeAgentID: body.GranteeAgentID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type grantRevokeRequestDTO struct {
	Scope          domain.Scope                 `json:"scope"`
	GranteeKind    domain.SpaceGrantGranteeKind `json:"grantee_kind"`
	GranteeAgentID string                       `json:"grantee_agent_id,omitempty"`
}

// GrantRevoke handles DELETE /v1/space-grants (spec §4.5
// space_grant_revoke). Uses a JSON body rather than query params since the
// grant's identity has four parts, matching how GrantUpsert takes its shape.
func (s *Server) GrantRevoke(w http.ResponseWriter, r *http.Request) {
	var body grantRevokeRequestDTO
	if err := readJSON(r, &body); err != nil {
		writeAPIError(w, r, invalidRequestErr("malformed request body"))
		return
	}
	t := tenantCoordsFrom(r.Context())

	result, err := s.Sharing.GrantRevoke(r.Context(), sharing.GrantRevokeRequest{
		TenantID: t.TenantID, ProjectID: t.ProjectID, AgentID: t.AgentID,
		Scope: body.Scope, GranteeKind: body.GranteeKind, GranteeAgentID: body.GranteeAgentID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GrantsList handles GET /v1/space-grants?scope=... (spec §4.5
// space_grants_list).
func (s *Server) GrantsList(w http.ResponseWriter, r *http.Request) {
	t := tenantCoordsFrom(r.Context())
	scope := domain.Scope(r.URL.Query().Get("scope"))
	if scope == "" {
		writeAPIError(w, r, invalidRequestErr("scope query parameter is required"))
		return
	}

	result, err := s.Sharing.GrantsList(r.Context(), sharing.GrantsListRequest{
		TenantID: t.TenantID, ProjectID: t.ProjectID, AgentID: t.AgentID, Scope: scope,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
