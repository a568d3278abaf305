package httpapi

import (
	"net/http"

	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/writegate"
	"github.com/elf-memory/elf/internal/writepipeline"
)

type spanDTO struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type redactionDTO struct {
	Span        spanDTO `json:"span"`
	Replacement string  `json:"replacement,omitempty"`
	Remove      bool    `json:"remove,omitempty"`
}

// writePolicyDTO mirrors writegate.Policy: an optional set of pre-redaction
// instructions (SPEC_FULL.md §5.4) a caller can attach to a note.
type writePolicyDTO struct {
	Exclusions []spanDTO      `json:"exclusions,omitempty"`
	Redactions []redactionDTO `json:"redactions,omitempty"`
}

func (d *writePolicyDTO) toPolicy() *writegate.Policy {
	if d == nil || (len(d.Exclusions) == 0 && len(d.Redactions) == 0) {
		return nil
	}
	p := &writegate.Policy{}
	for _, s := range d.Exclusions {
		p.Exclusions = append(p.Exclusions, writegate.Span{Start: s.Start, End: s.End})
	}
	for _, r := range d.Redactions {
		p.Redactions = append(p.Redactions, writegate.Redaction{
			Span:        writegate.Span{Start: r.Span.Start, End: r.Span.End},
			Replacement: r.Replacement,
			Remove:      r.Remove,
		})
	}
	return p
}

type addNoteInputDTO struct {
	NoteType   domain.NoteType `json:"note_type"`
	Key        *string         `json:"key,omitempty"`
	Text       string          `json:"text"`
	Importance float32         `json:"importance"`
	Confidence float32         `json:"confidence"`
	TTLDays    *int            `json:"ttl_days,omitempty"`
	SourceRef  map[string]any  `json:"source_ref,omitempty"`
	Policy     *writePolicyDTO `json:"policy,omitempty"`
}

type addNoteRequestDTO struct {
	Scope domain.Scope      `json:"scope"`
	Notes []addNoteInputDTO `json:"notes"`
}

type noteResultDTO struct {
	NoteID     *string `json:"note_id,omitempty"`
	Op         string  `json:"op"`
	ReasonCode string  `json:"reason_code,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// AddNote handles POST /v1/notes (spec §4.1 add_note).
func (s *Server) AddNote(w http.ResponseWriter, r *http.Request) {
	var body addNoteRequestDTO
	if err := readJSON(r, &body); err != nil {
		writeAPIError(w, r, invalidRequestErr("malformed request body"))
		return
	}
	t := tenantCoordsFrom(r.Context())

	notes := make([]writepipeline.AddNoteInput, len(body.Notes))
	for i, n := range body.Notes {
		notes[i] = writepipeline.AddNoteInput{
			NoteType: n.NoteType, Key: n.Key, Text: n.Text,
			Importance: n.Importance, Confidence: n.Confidence,
			TTLDays: n.TTLDays, SourceRef: n.SourceRef,
			Policy: n.Policy.toPolicy(),
		}
	}

	results, err := s.WritePipe.AddNote(r.Context(), writepipeline.AddNoteRequest{
		TenantID: t.TenantID, ProjectID: t.ProjectID, AgentID: t.AgentID,
		Scope: body.Scope, Notes: notes,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": toNoteResultDTOs(results)})
}

func toNoteResultDTOs(results []writepipeline.NoteResult) []noteResultDTO {
	out := make([]noteResultDTO, len(results))
	for i, res := range results {
		dto := noteResultDTO{Op: string(res.Op), ReasonCode: res.ReasonCode, Reason: res.Reason}
		if res.NoteID != nil {
			id := res.NoteID.String()
			dto.NoteID = &id
		}
		out[i] = dto
	}
	return out
}

type eventMessageDTO struct {
	Role    string  `json:"role"`
	Content string  `json:"content"`
	Ts      *string `json:"ts,omitempty"`
	MsgID   *string `json:"msg_id,omitempty"`
}

type addEventRequestDTO struct {
	Scope    *domain.Scope     `json:"scope,omitempty"`
	DryRun   bool              `json:"dry_run,omitempty"`
	Messages []eventMessageDTO `json:"messages"`
}

// AddEvent handles POST /v1/events (spec §4.1 add_event). Returns 500 with
// an EXTRACTOR_UNCONFIGURED code if the server has no Extractor configured, since
// add_event's whole job is LLM-backed extraction (spec §4.1: "extracted via
// an LLM provider call").
func (s *Server) AddEvent(w http.ResponseWriter, r *http.Request) {
	if s.Extractor == nil {
		writeAPIError(w, r, internalErr("EXTRACTOR_UNCONFIGURED"))
		return
	}
	var body addEventRequestDTO
	if err := readJSON(r, &body); err != nil {
		writeAPIError(w, r, invalidRequestErr("malformed request body"))
		return
	}
	t := tenantCoordsFrom(r.Context())

	messages := make([]writepipeline.EventMessage, len(body.Messages))
	for i, m := range body.Messages {
		messages[i] = writepipeline.EventMessage{Role: m.Role, Content: m.Content, Ts: m.Ts, MsgID: m.MsgID}
	}

	results, err := s.WritePipe.AddEvent(r.Context(), writepipeline.AddEventRequest{
		TenantID: t.TenantID, ProjectID: t.ProjectID, AgentID: t.AgentID,
		Scope: body.Scope, DryRun: body.DryRun, Messages: messages,
	}, s.Extractor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]noteResultDTO, len(results))
	for i, res := range results {
		dto := noteResultDTO{Op: string(res.Op), ReasonCode: res.ReasonCode, Reason: res.Reason}
		if res.NoteID != nil {
			id := res.NoteID.String()
			dto.NoteID = &id
		}
		out[i] = dto
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}
