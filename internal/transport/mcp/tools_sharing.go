package mcp

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/sharing"
)

// PublishParams is publish's MCP argument shape (spec §4.5).
type PublishParams struct {
	NoteID uuid.UUID    `json:"note_id"`
	Scope  domain.Scope `json:"scope"`
}

// PublishHandler builds the publish tool's Handler against shr.
func PublishHandler(shr *sharing.Service) Handler {
	return func(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
		var params PublishParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, NewToolError(ErrCodeInvalidParams, "invalid arguments: "+err.Error())
		}
		result, err := shr.Publish(ctx, sharing.PublishRequest{
			TenantID: tc.TenantID, ProjectID: tc.ProjectID, AgentID: tc.AgentID,
			NoteID: params.NoteID, Scope: params.Scope,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"note_id": result.NoteID, "scope": result.Scope}, nil
	}
}

var PublishToolDefinition = ToolDefinition{
	Name:        "publish",
	Description: "Move an owned note into a shared scope band, ensuring an active project-wide grant exists.",
	InputSchema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"note_id": map[string]any{"type": "string"}, "scope": map[string]any{"type": "string"}},
		"required":   []string{"note_id", "scope"},
	},
}

// UnpublishParams is unpublish's MCP argument shape (spec §4.5).
type UnpublishParams struct {
	NoteID uuid.UUID `json:"note_id"`
}

// UnpublishHandler builds the unpublish tool's Handler against shr.
func UnpublishHandler(shr *sharing.Service) Handler {
	return func(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
		var params UnpublishParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, NewToolError(ErrCodeInvalidParams, "invalid arguments: "+err.Error())
		}
		result, err := shr.Unpublish(ctx, sharing.UnpublishRequest{
			TenantID: tc.TenantID, ProjectID: tc.ProjectID, AgentID: tc.AgentID, NoteID: params.NoteID,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"note_id": result.NoteID, "scope": result.Scope}, nil
	}
}

var UnpublishToolDefinition = ToolDefinition{
	Name:        "unpublish",
	Description: "Move a note back to agent_private scope.",
	InputSchema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"note_id": map[string]any{"type": "string"}},
		"required":   []string{"note_id"},
	},
}

// SpaceGrantUpsertParams is space_grant_upsert's MCP argument shape (spec
// §4.5).
type SpaceGrantUpsertParams struct {
	Scope          domain.Scope                 `json:"scope"`
	GranteeKind    domain.SpaceGrantGranteeKind `json:"grantee_kind"`
	GranteeAgentID string                       `json:"grantee_agent_id,omitempty"`
}

// SpaceGrantUpsertHandler builds the space_grant_upsert tool's Handler
// against shr.
func SpaceGrantUpsertHandler(shr *sharing.Service) Handler {
	return func(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
		var params SpaceGrantUpsertParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, NewToolError(ErrCodeInvalidParams, "invalid arguments: "+err.Error())
		}
		result, err := shr.GrantUpsert(ctx, sharing.GrantUpsertRequest{
			TenantID: tc.TenantID, ProjectID: tc.ProjectID, AgentID: tc.AgentID,
			Scope: params.Scope, GranteeKind: params.GranteeKind, GranteeAgentID: params.GranteeAgentID,
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

var SpaceGrantUpsertToolDefinition = ToolDefinition{
	Name:        "space_grant_upsert",
	Description: "Open (or re-open) a shared scope to an entire project or to one named agent.",
	InputSchema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"scope": map[string]any{"type": "string"}, "grantee_kind": map[string]any{"type": "string"}},
		"required":   []string{"scope", "grantee_kind"},
	},
}
