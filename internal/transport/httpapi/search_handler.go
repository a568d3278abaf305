package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/retrieval"
	"github.com/elf-memory/elf/internal/session"
)

type searchRequestDTO struct {
	Query      string           `json:"query"`
	NoteType   *domain.NoteType `json:"note_type,omitempty"`
	TopK       int              `json:"top_k,omitempty"`
	CandidateK int              `json:"candidate_k,omitempty"`
	RecordHits *bool            `json:"record_hits,omitempty"`
}

func searchItemDTO(it retrieval.SearchItem) map[string]any {
	return map[string]any{
		"note_id": it.NoteID, "chunk_id": it.ChunkID, "type": it.Type, "key": it.Key,
		"scope": it.Scope, "agent_id": it.AgentID, "importance": it.Importance,
		"confidence": it.Confidence, "updated_at": it.UpdatedAt, "expires_at": it.ExpiresAt,
		"snippet": it.Snippet, "retrieval_rank": it.RetrievalRank, "final_score": it.FinalScore,
		"matched_terms": it.MatchedTerms, "matched_fields": it.MatchedFields, "boosts": it.Boosts,
	}
}

// Search handles POST /v1/search (spec §4.3).
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var body searchRequestDTO
	if err := readJSON(r, &body); err != nil {
		writeAPIError(w, r, invalidRequestErr("malformed request body"))
		return
	}
	t := tenantCoordsFrom(r.Context())

	recordHits := true
	if body.RecordHits != nil {
		recordHits = *body.RecordHits
	}

	result, err := s.Retrieval.Search(r.Context(), retrieval.SearchRequest{
		TenantID: t.TenantID, ProjectID: t.ProjectID, AgentID: t.AgentID,
		ReadProfile: t.ReadProfile, Query: body.Query, NoteType: body.NoteType,
		TopK: body.TopK, CandidateK: body.CandidateK, RecordHits: recordHits,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	items := make([]map[string]any, len(result.Items))
	for i, it := range result.Items {
		items[i] = searchItemDTO(it)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trace_id": result.TraceID, "items": items, "candidate_count": result.CandidateCount,
		"expansion_mode": result.ExpansionMode, "expanded_queries": result.ExpandedQueries,
	})
}

type createSessionRequestDTO struct {
	Query      string           `json:"query"`
	NoteType   *domain.NoteType `json:"note_type,omitempty"`
	TopK       int              `json:"top_k,omitempty"`
	CandidateK int              `json:"candidate_k,omitempty"`
}

func indexItemDTO(it domain.IndexItemRecord) map[string]any {
	return map[string]any{
		"note_id": it.NoteID, "chunk_id": it.ChunkID, "type": it.Type, "key": it.Key,
		"scope": it.Scope, "agent_id": it.AgentID, "importance": it.Importance,
		"confidence": it.Confidence, "updated_at": it.UpdatedAt, "expires_at": it.ExpiresAt,
		"final_score": it.FinalScore, "summary": it.Summary, "retrieval_rank": it.RetrievalRank,
	}
}

// CreateSession handles POST /v1/search/sessions (spec §4.4 "Session
// creation").
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionRequestDTO
	if err := readJSON(r, &body); err != nil {
		writeAPIError(w, r, invalidRequestErr("malformed request body"))
		return
	}
	t := tenantCoordsFrom(r.Context())

	result, err := s.Session.Create(r.Context(), session.CreateRequest{
		TenantID: t.TenantID, ProjectID: t.ProjectID, AgentID: t.AgentID,
		ReadProfile: t.ReadProfile, Query: body.Query, NoteType: body.NoteType,
		TopK: body.TopK, CandidateK: body.CandidateK,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	items := make([]map[string]any, len(result.Items))
	for i, it := range result.Items {
		items[i] = indexItemDTO(it)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trace_id": result.TraceID, "search_session_id": result.SearchSessionID,
		"expires_at": result.ExpiresAt, "items": items,
	})
}

func parseSessionID(r *http.Request) (uuid.UUID, *apiError) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.UUID{}, invalidRequestErr("id path parameter must be a UUID")
	}
	return id, nil
}

// GetSession handles GET /v1/search/sessions/{id} (spec §4.4 "Sliding +
// absolute TTL").
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	id, apiErr := parseSessionID(r)
	if apiErr != nil {
		writeAPIError(w, r, apiErr)
		return
	}
	t := tenantCoordsFrom(r.Context())

	topK := 0
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			topK = v
		}
	}

	result, err := s.Session.Get(r.Context(), session.GetRequest{
		TenantID: t.TenantID, ProjectID: t.ProjectID, AgentID: t.AgentID,
		SearchSessionID: id, TopK: topK,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	items := make([]map[string]any, len(result.Items))
	for i, it := range result.Items {
		items[i] = indexItemDTO(it)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trace_id": result.TraceID, "search_session_id": result.SearchSessionID,
		"expires_at": result.ExpiresAt, "items": items,
	})
}

// Timeline handles GET /v1/search/sessions/{id}/timeline (spec §4.4
// "Timeline view").
func (s *Server) Timeline(w http.ResponseWriter, r *http.Request) {
	id, apiErr := parseSessionID(r)
	if apiErr != nil {
		writeAPIError(w, r, apiErr)
		return
	}
	t := tenantCoordsFrom(r.Context())

	result, err := s.Session.Timeline(r.Context(), session.TimelineRequest{
		TenantID: t.TenantID, ProjectID: t.ProjectID, AgentID: t.AgentID,
		SearchSessionID: id, GroupBy: r.URL.Query().Get("group_by"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	groups := make([]map[string]any, len(result.Groups))
	for i, g := range result.Groups {
		items := make([]map[string]any, len(g.Items))
		for j, it := range g.Items {
			items[j] = indexItemDTO(it)
		}
		groups[i] = map[string]any{"date": g.Date, "items": items}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"search_session_id": result.SearchSessionID, "expires_at": result.ExpiresAt, "groups": groups,
	})
}

type detailsRequestDTO struct {
	NoteIDs    []uuid.UUID `json:"note_ids"`
	RecordHits *bool       `json:"record_hits,omitempty"`
}

// Details handles POST /v1/search/sessions/{id}/details (spec §4.4
// "Details view").
func (s *Server) Details(w http.ResponseWriter, r *http.Request) {
	id, apiErr := parseSessionID(r)
	if apiErr != nil {
		writeAPIError(w, r, apiErr)
		return
	}
	var body detailsRequestDTO
	if err := readJSON(r, &body); err != nil {
		writeAPIError(w, r, invalidRequestErr("malformed request body"))
		return
	}
	t := tenantCoordsFrom(r.Context())

	result, err := s.Session.Details(r.Context(), session.DetailsRequest{
		TenantID: t.TenantID, ProjectID: t.ProjectID, AgentID: t.AgentID,
		SearchSessionID: id, NoteIDs: body.NoteIDs, RecordHits: body.RecordHits,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	results := make([]map[string]any, len(result.Results))
	for i, res := range result.Results {
		entry := map[string]any{"note_id": res.NoteID}
		if res.Error != nil {
			entry["error"] = map[string]any{"code": res.Error.Code, "message": res.Error.Message}
		} else {
			entry["note"] = res.Note
		}
		results[i] = entry
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"search_session_id": result.SearchSessionID, "expires_at": result.ExpiresAt, "results": results,
	})
}
