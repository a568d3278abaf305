package mcp

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/retrieval"
	"github.com/elf-memory/elf/internal/session"
)

// SearchParams is search's MCP argument shape (spec §4.3).
type SearchParams struct {
	Query      string           `json:"query"`
	NoteType   *domain.NoteType `json:"note_type,omitempty"`
	TopK       int              `json:"top_k,omitempty"`
	CandidateK int              `json:"candidate_k,omitempty"`
}

func searchItemPayload(it retrieval.SearchItem) map[string]any {
	return map[string]any{
		"note_id": it.NoteID, "chunk_id": it.ChunkID, "type": it.Type, "key": it.Key,
		"scope": it.Scope, "agent_id": it.AgentID, "snippet": it.Snippet,
		"final_score": it.FinalScore, "matched_terms": it.MatchedTerms,
	}
}

// SearchHandler builds the search tool's Handler against retr. Always
// RecordHits=true, since an MCP caller has no "preview" concept distinct
// from a committed read the way internal/session's frozen result set does.
func SearchHandler(retr *retrieval.Service) Handler {
	return func(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
		var params SearchParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, NewToolError(ErrCodeInvalidParams, "invalid arguments: "+err.Error())
		}
		result, err := retr.Search(ctx, retrieval.SearchRequest{
			TenantID: tc.TenantID, ProjectID: tc.ProjectID, AgentID: tc.AgentID,
			ReadProfile: domain.ReadProfile(tc.ReadProfile), Query: params.Query,
			NoteType: params.NoteType, TopK: params.TopK, CandidateK: params.CandidateK,
			RecordHits: true,
		})
		if err != nil {
			return nil, err
		}
		items := make([]map[string]any, len(result.Items))
		for i, it := range result.Items {
			items[i] = searchItemPayload(it)
		}
		return map[string]any{"trace_id": result.TraceID, "items": items}, nil
	}
}

var SearchToolDefinition = ToolDefinition{
	Name:        "search",
	Description: "Hybrid retrieval over stored memory notes for the current tenant/project/agent and read profile.",
	InputSchema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"query": map[string]any{"type": "string"}, "top_k": map[string]any{"type": "integer"}},
		"required":   []string{"query"},
	},
}

// SearchSessionCreateParams is search_session_create's MCP argument shape
// (spec §4.4 "Session creation").
type SearchSessionCreateParams struct {
	Query      string           `json:"query"`
	NoteType   *domain.NoteType `json:"note_type,omitempty"`
	TopK       int              `json:"top_k,omitempty"`
	CandidateK int              `json:"candidate_k,omitempty"`
}

func indexItemPayload(it domain.IndexItemRecord) map[string]any {
	return map[string]any{
		"note_id": it.NoteID, "type": it.Type, "key": it.Key, "scope": it.Scope,
		"summary": it.Summary, "final_score": it.FinalScore, "retrieval_rank": it.RetrievalRank,
	}
}

// SearchSessionCreateHandler builds the search_session_create tool's
// Handler against sess.
func SearchSessionCreateHandler(sess *session.Service) Handler {
	return func(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
		var params SearchSessionCreateParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, NewToolError(ErrCodeInvalidParams, "invalid arguments: "+err.Error())
		}
		result, err := sess.Create(ctx, session.CreateRequest{
			TenantID: tc.TenantID, ProjectID: tc.ProjectID, AgentID: tc.AgentID,
			ReadProfile: domain.ReadProfile(tc.ReadProfile), Query: params.Query,
			NoteType: params.NoteType, TopK: params.TopK, CandidateK: params.CandidateK,
		})
		if err != nil {
			return nil, err
		}
		items := make([]map[string]any, len(result.Items))
		for i, it := range result.Items {
			items[i] = indexItemPayload(it)
		}
		return map[string]any{
			"search_session_id": result.SearchSessionID, "expires_at": result.ExpiresAt, "items": items,
		}, nil
	}
}

var SearchSessionCreateToolDefinition = ToolDefinition{
	Name:        "search_session_create",
	Description: "Run one retrieval pass and freeze the ranked result set into a progressive search session for further paging.",
	InputSchema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
		"required":   []string{"query"},
	},
}

// SearchSessionDetailsParams is search_session_details's MCP argument shape
// (spec §4.4 "Details view").
type SearchSessionDetailsParams struct {
	SearchSessionID uuid.UUID   `json:"search_session_id"`
	NoteIDs         []uuid.UUID `json:"note_ids"`
}

// SearchSessionDetailsHandler builds the search_session_details tool's
// Handler against sess.
func SearchSessionDetailsHandler(sess *session.Service) Handler {
	return func(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
		var params SearchSessionDetailsParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, NewToolError(ErrCodeInvalidParams, "invalid arguments: "+err.Error())
		}
		result, err := sess.Details(ctx, session.DetailsRequest{
			TenantID: tc.TenantID, ProjectID: tc.ProjectID, AgentID: tc.AgentID,
			SearchSessionID: params.SearchSessionID, NoteIDs: params.NoteIDs,
		})
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, len(result.Results))
		for i, res := range result.Results {
			entry := map[string]any{"note_id": res.NoteID}
			if res.Error != nil {
				entry["error"] = map[string]any{"code": res.Error.Code, "message": res.Error.Message}
			} else {
				entry["note"] = res.Note
			}
			out[i] = entry
		}
		return map[string]any{
			"search_session_id": result.SearchSessionID, "expires_at": result.ExpiresAt, "results": out,
		}, nil
	}
}

var SearchSessionDetailsToolDefinition = ToolDefinition{
	Name:        "search_session_details",
	Description: "Fetch full note details for specific note_ids within a previously created search session.",
	InputSchema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"search_session_id": map[string]any{"type": "string"}, "note_ids": map[string]any{"type": "array"}},
		"required":   []string{"search_session_id", "note_ids"},
	},
}
