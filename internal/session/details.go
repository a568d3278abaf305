package session

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/store"
)

// queryHash mirrors internal/retrieval's fnv-64a digest so memory_hits rows
// recorded from a session detail read use the same query_hash format as
// ones recorded from a live search (spec §4.3/§4.4 "Hit recording").
func queryHash(query string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(query))
	return fmt.Sprintf("%016x", h.Sum64())
}

// DetailsRequest is search_details()'s request (spec §4.4 "Details view").
type DetailsRequest struct {
	TenantID        string
	ProjectID       string
	AgentID         string
	SearchSessionID uuid.UUID
	NoteIDs         []uuid.UUID
	RecordHits      *bool // nil means "default true"
}

// DetailError is a per-note coded failure, distinct from a transport-level
// apperr.Error since it applies to one item within an otherwise-successful
// response (same pattern as writepipeline's per-note REJECTED reason_code).
type DetailError struct {
	Code    string
	Message string
}

// DetailResult is one requested note_id's outcome: either a hydrated note
// or a coded error.
type DetailResult struct {
	NoteID uuid.UUID
	Note   *domain.Note
	Error  *DetailError
}

// DetailsResult is search_details()'s response.
type DetailsResult struct {
	SearchSessionID uuid.UUID
	ExpiresAt       time.Time
	Results         []DetailResult
}

// Details re-runs the scope/expiry/ACL checks from the server-side ACL
// re-check against each requested note_id, provided it was part of the
// frozen session result set (spec §4.4 "Details view"). Hits are recorded
// for every successfully-returned note, once per distinct note_id, unless
// record_hits is explicitly false.
func (s *Service) Details(ctx context.Context, req DetailsRequest) (*DetailsResult, error) {
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.AgentID) == "" {
		return nil, apperr.InvalidRequest("tenant_id, project_id, and agent_id are required")
	}
	now := time.Now().UTC()
	sess, expiresAt, err := s.loadAndTouch(ctx, req.SearchSessionID, req.TenantID, req.ProjectID, req.AgentID, now)
	if err != nil {
		return nil, err
	}

	allowedScopeList, ok := s.Cfg.Scopes.ReadProfiles.Scopes(string(sess.ReadProfile))
	if !ok {
		return nil, apperr.InvalidRequestf("unknown read_profile %q", sess.ReadProfile)
	}
	allowedScopes := make(map[domain.Scope]bool, len(allowedScopeList))
	for _, sc := range allowedScopeList {
		allowedScopes[domain.Scope(sc)] = true
	}

	byNoteID := make(map[uuid.UUID]domain.IndexItemRecord, len(sess.Items))
	for _, item := range sess.Items {
		byNoteID[item.NoteID] = item
	}

	inSession := make([]uuid.UUID, 0, len(req.NoteIDs))
	seenInSession := make(map[uuid.UUID]bool, len(req.NoteIDs))
	for _, id := range req.NoteIDs {
		if _, ok := byNoteID[id]; ok && !seenInSession[id] {
			seenInSession[id] = true
			inSession = append(inSession, id)
		}
	}
	notes, err := s.Store.ListByIDs(ctx, inSession)
	if err != nil {
		return nil, err
	}
	notesByID := make(map[uuid.UUID]*domain.Note, len(notes))
	for _, n := range notes {
		notesByID[n.NoteID] = n
	}

	recordHitsEnabled := req.RecordHits == nil || *req.RecordHits
	var hits []store.HitRecord
	hitSeen := make(map[uuid.UUID]bool, len(req.NoteIDs))

	results := make([]DetailResult, 0, len(req.NoteIDs))
	for _, id := range req.NoteIDs {
		item, inSess := byNoteID[id]
		if !inSess {
			results = append(results, DetailResult{NoteID: id, Error: &DetailError{
				Code: "NOT_IN_SESSION", Message: "Requested note_id is not present in the search session.",
			}})
			continue
		}
		note, found := notesByID[id]
		if !found {
			results = append(results, DetailResult{NoteID: id, Error: &DetailError{
				Code: "NOTE_NOT_FOUND", Message: "Note not found.",
			}})
			continue
		}
		if code, message, ok := classifyNoteAccess(note, req.TenantID, req.ProjectID, req.AgentID, allowedScopes, now); !ok {
			results = append(results, DetailResult{NoteID: id, Error: &DetailError{Code: code, Message: message}})
			continue
		}

		results = append(results, DetailResult{NoteID: id, Note: note})
		if recordHitsEnabled && !hitSeen[id] {
			hitSeen[id] = true
			hits = append(hits, store.HitRecord{
				NoteID: id, ChunkID: item.ChunkID, QueryHash: queryHash(sess.Query),
				Rank: item.RetrievalRank, FinalScore: item.FinalScore,
			})
		}
	}

	if len(hits) > 0 {
		if err := s.Store.RecordHits(ctx, hits, now); err != nil {
			s.log.Warn().Err(err).Msg("detail hit recording failed, results still returned")
		}
	}

	return &DetailsResult{SearchSessionID: sess.SearchSessionID, ExpiresAt: expiresAt, Results: results}, nil
}

// classifyNoteAccess re-runs the scope/expiry/ACL checks with a specific
// failure code per condition, for precise per-item error reporting (spec
// §4.4's reuse of §4.3's checks, grounded on progressive_search.rs's
// validate_note_access). A tenant/project mismatch is reported as
// NOTE_NOT_FOUND rather than a more specific code, so a caller never learns
// that a note exists in another tenant/project.
func classifyNoteAccess(n *domain.Note, tenantID, projectID, agentID string, allowedScopes map[domain.Scope]bool, now time.Time) (code, message string, ok bool) {
	if n.TenantID != tenantID || n.ProjectID != projectID {
		return "NOTE_NOT_FOUND", "Note not found.", false
	}
	if n.Status != domain.NoteStatusActive {
		return "NOTE_INACTIVE", "Note is not active.", false
	}
	if n.ExpiresAt != nil && !n.ExpiresAt.After(now) {
		return "NOTE_EXPIRED", "Note is expired.", false
	}
	if n.Scope == domain.ScopeAgentPrivate && n.AgentID != agentID {
		return "SCOPE_DENIED", "Note scope is not allowed for this read_profile.", false
	}
	if !allowedScopes[n.Scope] {
		return "SCOPE_DENIED", "Note scope is not allowed for this read_profile.", false
	}
	return "", "", true
}
