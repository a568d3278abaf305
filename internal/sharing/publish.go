package sharing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/domain"
)

// PublishRequest is publish()'s request (spec §4.5).
type PublishRequest struct {
	TenantID  string
	ProjectID string
	AgentID   string
	NoteID    uuid.UUID
	Scope     domain.Scope // must be project_shared or org_shared
}

// PublishResult is publish()'s response.
type PublishResult struct {
	NoteID uuid.UUID
	Scope  domain.Scope
}

// Publish moves an owned, active, non-expired note into a shared scope band,
// ensuring an active project-wide grant exists so other agents in the
// project can immediately read it without a separate grant step (spec
// §4.5: "ensure an active project SpaceGrant exists ... insert-or-revive").
// Already being in the target scope is a no-op success, matching
// sharing.rs's publish_note.
func (s *Service) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if err := requireCoords(req.TenantID, req.ProjectID, req.AgentID); err != nil {
		return nil, err
	}
	if req.Scope != domain.ScopeProjectShared && req.Scope != domain.ScopeOrgShared {
		return nil, apperr.InvalidRequest("scope must be project_shared or org_shared")
	}
	if !scopeWriteAllowed(s.Cfg, req.Scope) {
		return nil, apperr.ScopeDenied("Scope is not allowed.")
	}

	now := time.Now().UTC()
	var result PublishResult

	err := s.Store.WithTx(ctx, func(tx pgx.Tx) error {
		note, err := ownedActiveNote(ctx, s.Store, tx, req.NoteID, req.TenantID, req.ProjectID, req.AgentID, now)
		if err != nil {
			return err
		}

		if err := s.Store.UpsertSpaceGrant(ctx, tx, &domain.SpaceGrant{
			TenantID: req.TenantID, ProjectID: req.ProjectID, Scope: req.Scope,
			SpaceOwnerID: req.AgentID, GranteeKind: domain.GranteeKindProject, GranteeAgentID: nil,
			GrantedBy: req.AgentID, GrantedAt: now,
		}); err != nil {
			return err
		}

		if note.Scope == req.Scope {
			result = PublishResult{NoteID: note.NoteID, Scope: note.Scope}
			return nil
		}

		prevSnapshot := noteSnapshot(note)
		note.Scope = req.Scope
		note.UpdatedAt = now

		if err := s.Store.InsertVersionTx(ctx, tx, &domain.NoteVersion{
			VersionID: uuid.New(), NoteID: note.NoteID, Op: domain.VersionOpPublish,
			PrevSnapshot: prevSnapshot, NewSnapshot: noteSnapshot(note),
			Reason: "publish_note", Actor: req.AgentID, Ts: now,
		}); err != nil {
			return err
		}
		if err := s.Store.SetNoteScopeTx(ctx, tx, note.NoteID, note.Scope, now); err != nil {
			return err
		}
		if err := s.Store.EnqueueOutbox(ctx, tx, &domain.IndexingOutbox{
			OutboxID: uuid.New(), NoteID: note.NoteID, Op: domain.OutboxOpUpsert,
			EmbeddingVersion: note.EmbeddingVersion, Status: domain.OutboxStatusPending,
			AvailableAt: now, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}

		result = PublishResult{NoteID: note.NoteID, Scope: note.Scope}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// UnpublishRequest is unpublish()'s request (spec §4.5).
type UnpublishRequest struct {
	TenantID  string
	ProjectID string
	AgentID   string
	NoteID    uuid.UUID
}

// UnpublishResult is unpublish()'s response.
type UnpublishResult struct {
	NoteID uuid.UUID
	Scope  domain.Scope
}

// Unpublish moves an owned, active note back to agent_private — symmetric
// to Publish (spec §4.5: "unpublish(note_id): symmetric back to
// agent_private").
func (s *Service) Unpublish(ctx context.Context, req UnpublishRequest) (*UnpublishResult, error) {
	if err := requireCoords(req.TenantID, req.ProjectID, req.AgentID); err != nil {
		return nil, err
	}
	if !scopeWriteAllowed(s.Cfg, domain.ScopeAgentPrivate) {
		return nil, apperr.ScopeDenied("Scope is not allowed.")
	}

	now := time.Now().UTC()
	var result UnpublishResult

	err := s.Store.WithTx(ctx, func(tx pgx.Tx) error {
		note, err := ownedActiveNote(ctx, s.Store, tx, req.NoteID, req.TenantID, req.ProjectID, req.AgentID, now)
		if err != nil {
			return err
		}
		if note.Scope == domain.ScopeAgentPrivate {
			result = UnpublishResult{NoteID: note.NoteID, Scope: note.Scope}
			return nil
		}

		prevSnapshot := noteSnapshot(note)
		note.Scope = domain.ScopeAgentPrivate
		note.UpdatedAt = now

		if err := s.Store.InsertVersionTx(ctx, tx, &domain.NoteVersion{
			VersionID: uuid.New(), NoteID: note.NoteID, Op: domain.VersionOpUnpublish,
			PrevSnapshot: prevSnapshot, NewSnapshot: noteSnapshot(note),
			Reason: "unpublish_note", Actor: req.AgentID, Ts: now,
		}); err != nil {
			return err
		}
		if err := s.Store.SetNoteScopeTx(ctx, tx, note.NoteID, note.Scope, now); err != nil {
			return err
		}
		if err := s.Store.EnqueueOutbox(ctx, tx, &domain.IndexingOutbox{
			OutboxID: uuid.New(), NoteID: note.NoteID, Op: domain.OutboxOpUpsert,
			EmbeddingVersion: note.EmbeddingVersion, Status: domain.OutboxStatusPending,
			AvailableAt: now, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}

		result = UnpublishResult{NoteID: note.NoteID, Scope: note.Scope}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
