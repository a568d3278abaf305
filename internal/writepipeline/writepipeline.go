// Package writepipeline implements ELF's two write entry points: add_note
// (direct, caller-typed notes) and add_event (LLM-extracted from a chat
// transcript, evidence-gated). Grounded on
// original_source/packages/elf-service/src/{add_note,add_event}.rs and
// src/lib.rs's resolve_update/insert_version/enqueue_outbox_tx helpers,
// re-expressed as Go methods on a Service that composes internal/store,
// internal/writegate, internal/cjk, internal/chunking, and
// internal/providers the way the teacher composes its syncservice around
// internal/db and internal/auth.
package writepipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/chunking"
	"github.com/elf-memory/elf/internal/cjk"
	"github.com/elf-memory/elf/internal/config"
	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/obslog"
	"github.com/elf-memory/elf/internal/providers"
	"github.com/elf-memory/elf/internal/store"
	"github.com/elf-memory/elf/internal/writegate"
)

// NoteOp mirrors the original's NoteOp tagged union (spec §4.1/§4.2).
type NoteOp string

const (
	NoteOpAdd      NoteOp = "ADD"
	NoteOpUpdate   NoteOp = "UPDATE"
	NoteOpNone     NoteOp = "NONE"
	NoteOpRejected NoteOp = "REJECTED"
)

const evidenceMismatchReason = "REJECT_EVIDENCE_MISMATCH"

// Service composes everything the write pipeline needs: the relational
// store, provider capabilities, and config.
type Service struct {
	Store     *store.Store
	Cfg       *config.Config
	Embedder  providers.Embedder
	Tokenizer *chunking.Tokenizer
	log       zerolog.Logger
}

// NewService builds a writepipeline.Service.
func NewService(st *store.Store, cfg *config.Config, embedder providers.Embedder, tok *chunking.Tokenizer) *Service {
	return &Service{Store: st, Cfg: cfg, Embedder: embedder, Tokenizer: tok, log: obslog.Component("writepipeline")}
}

// AddNoteInput is one caller-typed note (spec §4.1 add_note).
type AddNoteInput struct {
	NoteType   domain.NoteType
	Key        *string
	Text       string
	Importance float32
	Confidence float32
	TTLDays    *int
	SourceRef  map[string]any

	// Policy, when set, is applied to Text (SPEC_FULL.md §5.4) before the
	// writegate admission checks run. The resulting Audit is folded into
	// SourceRef under "redaction_audit" so it survives on the NoteVersion
	// trail.
	Policy *writegate.Policy
}

// AddNoteRequest is the add_note operation's full request.
type AddNoteRequest struct {
	TenantID  string
	ProjectID string
	AgentID   string
	Scope     domain.Scope
	Notes     []AddNoteInput
}

// NoteResult is one per-note outcome.
type NoteResult struct {
	NoteID     *uuid.UUID
	Op         NoteOp
	ReasonCode string
	Reason     string
}

// AddNote validates, dedups, and persists each note in the request,
// enqueuing an indexing_outbox row for every note that changes (spec §4.1).
func (s *Service) AddNote(ctx context.Context, req AddNoteRequest) ([]NoteResult, error) {
	if len(req.Notes) == 0 {
		return nil, apperr.InvalidRequest("notes list is empty")
	}

	for idx, n := range req.Notes {
		if cjk.ContainsCJK(n.Text) {
			return nil, apperr.NonEnglishInput(fmt.Sprintf("$.notes[%d].text", idx), "note text contains CJK characters")
		}
		if n.Key != nil && cjk.ContainsCJK(*n.Key) {
			return nil, apperr.NonEnglishInput(fmt.Sprintf("$.notes[%d].key", idx), "note key contains CJK characters")
		}
		if path := cjk.FindCJKPath(n.SourceRef, fmt.Sprintf("$.notes[%d].source_ref", idx)); path != "" {
			return nil, apperr.NonEnglishInput(path, "source_ref contains CJK characters")
		}
	}

	now := time.Now().UTC()
	embedVersion := EmbeddingVersion(s.Cfg)
	results := make([]NoteResult, 0, len(req.Notes))

	for _, n := range req.Notes {
		if n.Policy != nil {
			redacted, audit, err := writegate.ApplyPolicy(n.Text, n.Policy)
			if err != nil {
				return nil, err
			}
			n.Text = redacted
			if len(audit.Exclusions) > 0 || len(audit.Redactions) > 0 {
				if n.SourceRef == nil {
					n.SourceRef = map[string]any{}
				}
				n.SourceRef["redaction_audit"] = audit
			}
		}

		reasonCode, ok := writegate.Check(writegate.Input{Type: n.NoteType, Scope: req.Scope, Text: n.Text}, s.Cfg)
		if !ok {
			results = append(results, NoteResult{Op: NoteOpRejected, ReasonCode: string(reasonCode)})
			continue
		}

		result, err := s.applyNote(ctx, req.TenantID, req.ProjectID, req.AgentID, req.Scope, n, embedVersion, now, "add_note")
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	return results, nil
}

// applyNote runs resolve_update inside a transaction and persists the
// resulting ADD/UPDATE/NONE outcome (original_source add_note.rs body).
func (s *Service) applyNote(ctx context.Context, tenantID, projectID, agentID string, scope domain.Scope, n AddNoteInput, embedVersion string, now time.Time, actor string) (NoteResult, error) {
	var result NoteResult

	err := s.Store.WithTx(ctx, func(tx pgx.Tx) error {
		decision, err := s.resolveUpdate(ctx, tx, tenantID, projectID, agentID, scope, n.NoteType, n.Key, n.Text, embedVersion, now)
		if err != nil {
			return err
		}

		switch decision.Kind {
		case decisionAdd:
			expiresAt := computeExpiresAt(n.TTLDays, n.NoteType, s.Cfg, now)
			note := &domain.Note{
				NoteID: decision.NoteID, TenantID: tenantID, ProjectID: projectID, AgentID: agentID,
				Scope: scope, Type: n.NoteType, Key: n.Key, Text: n.Text,
				Importance: n.Importance, Confidence: n.Confidence, Status: domain.NoteStatusActive,
				CreatedAt: now, UpdatedAt: now, ExpiresAt: expiresAt, EmbeddingVersion: embedVersion,
				SourceRef: n.SourceRef, HitCount: 0,
			}
			if err := s.insertNoteTx(ctx, tx, note); err != nil {
				return err
			}
			if err := s.insertVersionTx(ctx, tx, note.NoteID, domain.VersionOpAdd, nil, noteSnapshot(note), actor, actor, now); err != nil {
				return err
			}
			if err := s.enqueueOutboxTx(ctx, tx, note.NoteID, domain.OutboxOpUpsert, embedVersion, now); err != nil {
				return err
			}
			result = NoteResult{NoteID: &note.NoteID, Op: NoteOpAdd}

		case decisionUpdate:
			existing, err := s.getNoteForUpdateTx(ctx, tx, decision.NoteID)
			if err != nil {
				return err
			}
			prevSnapshot := noteSnapshot(existing)

			var expiresAt *time.Time
			if n.TTLDays != nil {
				expiresAt = computeExpiresAt(n.TTLDays, n.NoteType, s.Cfg, now)
			} else {
				expiresAt = existing.ExpiresAt
			}

			unchanged := existing.Text == n.Text &&
				floatEqual(existing.Importance, n.Importance) &&
				floatEqual(existing.Confidence, n.Confidence) &&
				expiresAtEqual(existing.ExpiresAt, expiresAt) &&
				sourceRefEqual(existing.SourceRef, n.SourceRef)

			if unchanged {
				result = NoteResult{NoteID: &existing.NoteID, Op: NoteOpNone}
				return nil
			}

			existing.Text = n.Text
			existing.Importance = n.Importance
			existing.Confidence = n.Confidence
			existing.UpdatedAt = now
			existing.ExpiresAt = expiresAt
			existing.SourceRef = n.SourceRef

			if err := s.updateNoteTx(ctx, tx, existing, now); err != nil {
				return err
			}
			if err := s.insertVersionTx(ctx, tx, existing.NoteID, domain.VersionOpUpdate, prevSnapshot, noteSnapshot(existing), actor, actor, now); err != nil {
				return err
			}
			if err := s.enqueueOutboxTx(ctx, tx, existing.NoteID, domain.OutboxOpUpsert, existing.EmbeddingVersion, now); err != nil {
				return err
			}
			result = NoteResult{NoteID: &existing.NoteID, Op: NoteOpUpdate}

		case decisionNone:
			result = NoteResult{NoteID: &decision.NoteID, Op: NoteOpNone}
		}
		return nil
	})
	if err != nil {
		return NoteResult{}, err
	}
	return result, nil
}

// EventMessage is one chat transcript turn (spec §4.1 add_event). JSON tags
// are the wire shape ProviderExtractor marshals for the extract provider
// call.
type EventMessage struct {
	Role    string  `json:"role"`
	Content string  `json:"content"`
	Ts      *string `json:"ts,omitempty"`
	MsgID   *string `json:"msg_id,omitempty"`
}

// AddEventRequest is the add_event operation's request.
type AddEventRequest struct {
	TenantID  string
	ProjectID string
	AgentID   string
	Scope     *domain.Scope
	DryRun    bool
	Messages  []EventMessage
}

// EventResult mirrors AddEventResult: a per-extracted-note outcome.
type EventResult struct {
	NoteID     *uuid.UUID
	Op         NoteOp
	ReasonCode string
	Reason     string
}

// EvidenceQuote anchors an extracted note to a specific message's text.
type EvidenceQuote struct {
	MessageIndex int
	Quote        string
}

// ExtractedNote is one candidate note surfaced by the LLM extractor.
type ExtractedNote struct {
	NoteType        domain.NoteType
	Key             *string
	Text            string
	Importance      float32
	Confidence      float32
	TTLDays         *int
	ScopeSuggestion *domain.Scope
	Evidence        []EvidenceQuote
	Reason          string
}

// Extractor is the narrow capability add_event needs; implemented by a
// provider HTTP client adapting providers.Extractor's raw JSON contract.
type Extractor interface {
	ExtractNotes(ctx context.Context, messages []EventMessage, maxNotes, maxChars int) ([]ExtractedNote, error)
}

// AddEvent extracts candidate notes from a chat transcript via extractor,
// evidence-gates each one against the source messages, then applies the
// same resolve_update path as AddNote (spec §4.1).
func (s *Service) AddEvent(ctx context.Context, req AddEventRequest, extractor Extractor) ([]EventResult, error) {
	if len(req.Messages) == 0 {
		return nil, apperr.InvalidRequest("messages list is empty")
	}
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.AgentID) == "" {
		return nil, apperr.InvalidRequest("tenant_id, project_id, and agent_id are required")
	}
	if req.Scope != nil && strings.TrimSpace(string(*req.Scope)) == "" {
		return nil, apperr.InvalidRequest("scope must not be empty when provided")
	}
	for idx, msg := range req.Messages {
		if cjk.ContainsCJK(msg.Content) {
			return nil, apperr.NonEnglishInput(fmt.Sprintf("$.messages[%d].content", idx), "message content contains CJK characters")
		}
	}

	extracted, err := extractor.ExtractNotes(ctx, req.Messages, s.Cfg.Memory.MaxNotesPerAddEvent, s.Cfg.Memory.MaxNoteChars)
	if err != nil {
		return nil, apperr.Provider(err, "extract candidate notes")
	}
	if len(extracted) > s.Cfg.Memory.MaxNotesPerAddEvent {
		extracted = extracted[:s.Cfg.Memory.MaxNotesPerAddEvent]
	}

	now := time.Now().UTC()
	embedVersion := EmbeddingVersion(s.Cfg)
	messageTexts := make([]string, len(req.Messages))
	for i, m := range req.Messages {
		messageTexts[i] = m.Content
	}

	results := make([]EventResult, 0, len(extracted))
	for _, note := range extracted {
		scope := req.Scope
		if scope == nil {
			scope = note.ScopeSuggestion
		}
		resolvedScope := domain.Scope("")
		if scope != nil {
			resolvedScope = *scope
		}

		if len(note.Evidence) < s.Cfg.Security.EvidenceMinQuotes || len(note.Evidence) > s.Cfg.Security.EvidenceMaxQuotes {
			results = append(results, EventResult{Op: NoteOpRejected, ReasonCode: evidenceMismatchReason, Reason: note.Reason})
			continue
		}

		evidenceOK := true
		for _, q := range note.Evidence {
			if !writegate.QuoteMatches(q.Quote, messageTextAt(messageTexts, q.MessageIndex), s.Cfg.Security.EvidenceMaxQuoteChars) {
				evidenceOK = false
				break
			}
		}
		if !evidenceOK {
			results = append(results, EventResult{Op: NoteOpRejected, ReasonCode: evidenceMismatchReason, Reason: note.Reason})
			continue
		}

		reasonCode, ok := writegate.Check(writegate.Input{Type: note.NoteType, Scope: resolvedScope, Text: note.Text}, s.Cfg)
		if !ok {
			results = append(results, EventResult{Op: NoteOpRejected, ReasonCode: string(reasonCode), Reason: note.Reason})
			continue
		}

		var eventResult EventResult
		err := s.Store.WithTx(ctx, func(tx pgx.Tx) error {
			decision, err := s.resolveUpdate(ctx, tx, req.TenantID, req.ProjectID, req.AgentID, resolvedScope, note.NoteType, note.Key, note.Text, embedVersion, now)
			if err != nil {
				return err
			}

			if req.DryRun {
				eventResult = EventResult{NoteID: &decision.NoteID, Op: decisionOp(decision.Kind), Reason: note.Reason}
				return nil
			}

			sourceRef := map[string]any{"evidence": evidenceToMaps(note.Evidence), "reason": note.Reason}

			switch decision.Kind {
			case decisionAdd:
				expiresAt := computeExpiresAt(note.TTLDays, note.NoteType, s.Cfg, now)
				newNote := &domain.Note{
					NoteID: decision.NoteID, TenantID: req.TenantID, ProjectID: req.ProjectID, AgentID: req.AgentID,
					Scope: resolvedScope, Type: note.NoteType, Key: note.Key, Text: note.Text,
					Importance: note.Importance, Confidence: note.Confidence, Status: domain.NoteStatusActive,
					CreatedAt: now, UpdatedAt: now, ExpiresAt: expiresAt, EmbeddingVersion: embedVersion,
					SourceRef: sourceRef,
				}
				if err := s.insertNoteTx(ctx, tx, newNote); err != nil {
					return err
				}
				if err := s.insertVersionTx(ctx, tx, newNote.NoteID, domain.VersionOpAdd, nil, noteSnapshot(newNote), "add_event", "add_event", now); err != nil {
					return err
				}
				if err := s.enqueueOutboxTx(ctx, tx, newNote.NoteID, domain.OutboxOpUpsert, embedVersion, now); err != nil {
					return err
				}
				eventResult = EventResult{NoteID: &newNote.NoteID, Op: NoteOpAdd, Reason: note.Reason}

			case decisionUpdate:
				existing, err := s.getNoteForUpdateTx(ctx, tx, decision.NoteID)
				if err != nil {
					return err
				}
				prevSnapshot := noteSnapshot(existing)
				existing.Text = note.Text
				existing.Importance = note.Importance
				existing.Confidence = note.Confidence
				existing.UpdatedAt = now
				existing.ExpiresAt = computeExpiresAt(note.TTLDays, note.NoteType, s.Cfg, now)
				existing.SourceRef = sourceRef
				if err := s.updateNoteTx(ctx, tx, existing, now); err != nil {
					return err
				}
				if err := s.insertVersionTx(ctx, tx, existing.NoteID, domain.VersionOpUpdate, prevSnapshot, noteSnapshot(existing), "add_event", "add_event", now); err != nil {
					return err
				}
				if err := s.enqueueOutboxTx(ctx, tx, existing.NoteID, domain.OutboxOpUpsert, existing.EmbeddingVersion, now); err != nil {
					return err
				}
				eventResult = EventResult{NoteID: &existing.NoteID, Op: NoteOpUpdate, Reason: note.Reason}

			case decisionNone:
				eventResult = EventResult{NoteID: &decision.NoteID, Op: NoteOpNone, Reason: note.Reason}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		results = append(results, eventResult)
	}

	return results, nil
}

func messageTextAt(texts []string, idx int) string {
	if idx < 0 || idx >= len(texts) {
		return ""
	}
	return texts[idx]
}

func evidenceToMaps(quotes []EvidenceQuote) []map[string]any {
	out := make([]map[string]any, len(quotes))
	for i, q := range quotes {
		out[i] = map[string]any{"message_index": q.MessageIndex, "quote": q.Quote}
	}
	return out
}

func decisionOp(k decisionKind) NoteOp {
	switch k {
	case decisionAdd:
		return NoteOpAdd
	case decisionUpdate:
		return NoteOpUpdate
	default:
		return NoteOpNone
	}
}

// EmbeddingVersion derives the embedding-version tag stamped on every note
// and chunk, so a provider/model/dimension change never silently mixes
// incompatible vectors (original_source lib.rs embedding_version()).
func EmbeddingVersion(cfg *config.Config) string {
	return fmt.Sprintf("%s:%s:%d", cfg.Providers.Embedding.ProviderID, cfg.Providers.Embedding.Model, cfg.Storage.Qdrant.VectorDim)
}

func floatEqual(a, b float32) bool {
	const eps = 1e-6
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func expiresAtEqual(a, b *time.Time) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Equal(*b)
}

func sourceRefEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if fmt.Sprint(v) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}

func noteSnapshot(n *domain.Note) map[string]any {
	return map[string]any{
		"note_id":           n.NoteID.String(),
		"tenant_id":         n.TenantID,
		"project_id":        n.ProjectID,
		"agent_id":          n.AgentID,
		"scope":             string(n.Scope),
		"type":              string(n.Type),
		"key":               n.Key,
		"text":              n.Text,
		"importance":        n.Importance,
		"confidence":        n.Confidence,
		"status":            string(n.Status),
		"updated_at":        n.UpdatedAt.Format(time.RFC3339Nano),
		"expires_at":        formatExpiresAt(n.ExpiresAt),
		"embedding_version": n.EmbeddingVersion,
		"source_ref":        n.SourceRef,
	}
}

func formatExpiresAt(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}
