package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/domain"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("not found")

// InsertNote inserts a brand-new note row (add_note / add_event step d).
func (s *Store) InsertNote(ctx context.Context, n *domain.Note) error {
	srcRef, err := json.Marshal(n.SourceRef)
	if err != nil {
		return fmt.Errorf("marshal source_ref: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO memory_notes
			(note_id, tenant_id, project_id, agent_id, scope, type, key, text,
			 importance, confidence, status, created_at, updated_at, expires_at,
			 embedding_version, source_ref, hit_count, last_hit_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		n.NoteID, n.TenantID, n.ProjectID, n.AgentID, string(n.Scope), string(n.Type), n.Key, n.Text,
		n.Importance, n.Confidence, string(n.Status), n.CreatedAt, n.UpdatedAt, n.ExpiresAt,
		n.EmbeddingVersion, srcRef, n.HitCount, n.LastHitAt,
	)
	if err != nil {
		return apperr.Storage(err, "insert note")
	}
	return nil
}

// UpdateNoteFields applies resolve_update's mutable fields (text/importance/
// confidence/status/expires_at/embedding_version) and bumps updated_at.
func (s *Store) UpdateNoteFields(ctx context.Context, noteID uuid.UUID, text string, importance, confidence float32, status domain.NoteStatus, expiresAt *time.Time, embeddingVersion string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE memory_notes
		SET text=$2, importance=$3, confidence=$4, status=$5, expires_at=$6,
		    embedding_version=$7, updated_at=$8
		WHERE note_id=$1`,
		noteID, text, importance, confidence, string(status), expiresAt, embeddingVersion, now,
	)
	if err != nil {
		return apperr.Storage(err, "update note")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetNoteStatus transitions a note's status only (e.g. delete); scope
// changes go through SetNoteScope.
func (s *Store) SetNoteStatus(ctx context.Context, noteID uuid.UUID, status domain.NoteStatus, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE memory_notes SET status=$2, updated_at=$3 WHERE note_id=$1`,
		noteID, string(status), now)
	if err != nil {
		return apperr.Storage(err, "set note status")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetNoteScope changes a note's scope band (publish to project_shared/
// org_shared, or unpublish back to agent_private).
func (s *Store) SetNoteScope(ctx context.Context, noteID uuid.UUID, scope domain.Scope, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE memory_notes SET scope=$2, updated_at=$3 WHERE note_id=$1`,
		noteID, string(scope), now)
	if err != nil {
		return apperr.Storage(err, "set note scope")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordHit increments hit_count and bumps last_hit_at for a retrieved note.
func (s *Store) RecordHit(ctx context.Context, noteID uuid.UUID, now time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE memory_notes SET hit_count = hit_count + 1, last_hit_at=$2 WHERE note_id=$1`,
		noteID, now)
	if err != nil {
		return apperr.Storage(err, "record hit")
	}
	return nil
}

func scanNote(row scannable) (*domain.Note, error) {
	var n domain.Note
	var scope, typ, status string
	var srcRef []byte
	err := row.Scan(
		&n.NoteID, &n.TenantID, &n.ProjectID, &n.AgentID, &scope, &typ, &n.Key, &n.Text,
		&n.Importance, &n.Confidence, &status, &n.CreatedAt, &n.UpdatedAt, &n.ExpiresAt,
		&n.EmbeddingVersion, &srcRef, &n.HitCount, &n.LastHitAt,
	)
	if err != nil {
		return nil, err
	}
	n.Scope = domain.Scope(scope)
	n.Type = domain.NoteType(typ)
	n.Status = domain.NoteStatus(status)
	if len(srcRef) > 0 {
		if err := json.Unmarshal(srcRef, &n.SourceRef); err != nil {
			return nil, fmt.Errorf("unmarshal source_ref: %w", err)
		}
	}
	return &n, nil
}

const noteColumns = `note_id, tenant_id, project_id, agent_id, scope, type, key, text,
	importance, confidence, status, created_at, updated_at, expires_at,
	embedding_version, source_ref, hit_count, last_hit_at`

// GetNote fetches a single note by id regardless of status.
func (s *Store) GetNote(ctx context.Context, noteID uuid.UUID) (*domain.Note, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+noteColumns+` FROM memory_notes WHERE note_id=$1`, noteID)
	n, err := scanNote(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, apperr.Storage(err, "get note")
	}
	return n, nil
}

// FindActiveByTypeKey finds the active note matching (tenant, project, agent,
// scope, type, key) for resolve_update's exact-key match (spec §4.2 step c,
// path 1).
func (s *Store) FindActiveByTypeKey(ctx context.Context, tenantID, projectID, agentID string, scope domain.Scope, noteType domain.NoteType, key string, now time.Time) (*domain.Note, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+noteColumns+` FROM memory_notes
		WHERE tenant_id=$1 AND project_id=$2 AND agent_id=$3 AND scope=$4 AND type=$5 AND key=$6
		  AND status='active' AND (expires_at IS NULL OR expires_at > $7)
		LIMIT 1`,
		tenantID, projectID, agentID, string(scope), string(noteType), key, now)
	n, err := scanNote(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, apperr.Storage(err, "find active note by type/key")
	}
	return n, nil
}

// ListActiveBySameTypeScope lists active notes sharing (tenant, project,
// agent, scope, type) for resolve_update's similarity dedup pass (spec §4.2
// step c, path 2). Results are capped to a bounded candidate set so dedup
// scanning stays cheap even for prolific agents.
func (s *Store) ListActiveBySameTypeScope(ctx context.Context, tenantID, projectID, agentID string, scope domain.Scope, noteType domain.NoteType, now time.Time, limit int) ([]*domain.Note, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+noteColumns+` FROM memory_notes
		WHERE tenant_id=$1 AND project_id=$2 AND agent_id=$3 AND scope=$4 AND type=$5
		  AND status='active' AND (expires_at IS NULL OR expires_at > $6)
		ORDER BY updated_at DESC
		LIMIT $7`,
		tenantID, projectID, agentID, string(scope), string(noteType), now, limit)
	if err != nil {
		return nil, apperr.Storage(err, "list active notes by type/scope")
	}
	defer rows.Close()

	var out []*domain.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, apperr.Storage(err, "scan note")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListByIDs fetches notes for a set of ids, used to hydrate retrieval
// candidates after the vector store returns chunk ids.
func (s *Store) ListByIDs(ctx context.Context, noteIDs []uuid.UUID) ([]*domain.Note, error) {
	if len(noteIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+noteColumns+` FROM memory_notes WHERE note_id = ANY($1)`, noteIDs)
	if err != nil {
		return nil, apperr.Storage(err, "list notes by ids")
	}
	defer rows.Close()

	var out []*domain.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, apperr.Storage(err, "scan note")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
