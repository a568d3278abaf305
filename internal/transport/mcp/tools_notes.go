package mcp

import (
	"context"
	"encoding/json"

	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/writegate"
	"github.com/elf-memory/elf/internal/writepipeline"
)

// SpanParam is a rune-index (character) range into a note's text.
type SpanParam struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// RedactionParam is one Remove-or-Replace instruction in a WritePolicyParam.
type RedactionParam struct {
	Span        SpanParam `json:"span"`
	Replacement string    `json:"replacement,omitempty"`
	Remove      bool      `json:"remove,omitempty"`
}

// WritePolicyParam mirrors writegate.Policy: an optional set of
// pre-redaction instructions (SPEC_FULL.md §5.4) a caller can attach to a
// note.
type WritePolicyParam struct {
	Exclusions []SpanParam      `json:"exclusions,omitempty"`
	Redactions []RedactionParam `json:"redactions,omitempty"`
}

func (p *WritePolicyParam) toPolicy() *writegate.Policy {
	if p == nil || (len(p.Exclusions) == 0 && len(p.Redactions) == 0) {
		return nil
	}
	policy := &writegate.Policy{}
	for _, s := range p.Exclusions {
		policy.Exclusions = append(policy.Exclusions, writegate.Span{Start: s.Start, End: s.End})
	}
	for _, r := range p.Redactions {
		policy.Redactions = append(policy.Redactions, writegate.Redaction{
			Span:        writegate.Span{Start: r.Span.Start, End: r.Span.End},
			Replacement: r.Replacement,
			Remove:      r.Remove,
		})
	}
	return policy
}

// NoteInputParam is one caller-typed note in an add_note call.
type NoteInputParam struct {
	NoteType   domain.NoteType   `json:"note_type"`
	Key        *string           `json:"key,omitempty"`
	Text       string            `json:"text"`
	Importance float32           `json:"importance"`
	Confidence float32           `json:"confidence"`
	TTLDays    *int              `json:"ttl_days,omitempty"`
	SourceRef  map[string]any    `json:"source_ref,omitempty"`
	Policy     *WritePolicyParam `json:"policy,omitempty"`
}

// AddNoteParams is add_note's MCP argument shape (spec §4.1).
type AddNoteParams struct {
	Scope domain.Scope     `json:"scope"`
	Notes []NoteInputParam `json:"notes"`
}

func noteResultsPayload(results []writepipeline.NoteResult) map[string]any {
	out := make([]map[string]any, len(results))
	for i, res := range results {
		entry := map[string]any{"op": res.Op, "reason_code": res.ReasonCode, "reason": res.Reason}
		if res.NoteID != nil {
			entry["note_id"] = res.NoteID.String()
		}
		out[i] = entry
	}
	return map[string]any{"results": out}
}

// AddNoteHandler builds the add_note tool's Handler against wp.
func AddNoteHandler(wp *writepipeline.Service) Handler {
	return func(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
		var params AddNoteParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, NewToolError(ErrCodeInvalidParams, "invalid arguments: "+err.Error())
		}
		notes := make([]writepipeline.AddNoteInput, len(params.Notes))
		for i, n := range params.Notes {
			notes[i] = writepipeline.AddNoteInput{
				NoteType: n.NoteType, Key: n.Key, Text: n.Text,
				Importance: n.Importance, Confidence: n.Confidence,
				TTLDays: n.TTLDays, SourceRef: n.SourceRef,
				Policy: n.Policy.toPolicy(),
			}
		}
		results, err := wp.AddNote(ctx, writepipeline.AddNoteRequest{
			TenantID: tc.TenantID, ProjectID: tc.ProjectID, AgentID: tc.AgentID,
			Scope: params.Scope, Notes: notes,
		})
		if err != nil {
			return nil, err
		}
		return noteResultsPayload(results), nil
	}
}

// AddNoteToolDefinition is the add_note tool's MCP schema.
var AddNoteToolDefinition = ToolDefinition{
	Name:        "add_note",
	Description: "Store one or more caller-typed memory notes for the current tenant/project/agent.",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"scope": map[string]any{"type": "string", "enum": []string{"agent_private", "project_shared", "org_shared"}},
			"notes": map[string]any{"type": "array"},
		},
		"required": []string{"scope", "notes"},
	},
}

// EventMessageParam is one chat transcript turn in an add_event call.
type EventMessageParam struct {
	Role    string  `json:"role"`
	Content string  `json:"content"`
	Ts      *string `json:"ts,omitempty"`
	MsgID   *string `json:"msg_id,omitempty"`
}

// AddEventParams is add_event's MCP argument shape (spec §4.1).
type AddEventParams struct {
	Scope    *domain.Scope       `json:"scope,omitempty"`
	DryRun   bool                `json:"dry_run,omitempty"`
	Messages []EventMessageParam `json:"messages"`
}

// AddEventHandler builds the add_event tool's Handler against wp and
// extractor. Returns ErrCodeInternal if extractor is nil.
func AddEventHandler(wp *writepipeline.Service, extractor writepipeline.Extractor) Handler {
	return func(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
		if extractor == nil {
			return nil, NewToolError(ErrCodeInternal, "no extractor configured for add_event")
		}
		var params AddEventParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, NewToolError(ErrCodeInvalidParams, "invalid arguments: "+err.Error())
		}
		messages := make([]writepipeline.EventMessage, len(params.Messages))
		for i, m := range params.Messages {
			messages[i] = writepipeline.EventMessage{Role: m.Role, Content: m.Content, Ts: m.Ts, MsgID: m.MsgID}
		}
		results, err := wp.AddEvent(ctx, writepipeline.AddEventRequest{
			TenantID: tc.TenantID, ProjectID: tc.ProjectID, AgentID: tc.AgentID,
			Scope: params.Scope, DryRun: params.DryRun, Messages: messages,
		}, extractor)
		if err != nil {
			return nil, err
		}
		return noteResultsPayload(results), nil
	}
}

// AddEventToolDefinition is the add_event tool's MCP schema.
var AddEventToolDefinition = ToolDefinition{
	Name:        "add_event",
	Description: "Extract candidate memory notes from a chat transcript and apply them, evidence-gated against the source messages.",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"scope":    map[string]any{"type": "string"},
			"dry_run":  map[string]any{"type": "boolean"},
			"messages": map[string]any{"type": "array"},
		},
		"required": []string{"messages"},
	},
}
