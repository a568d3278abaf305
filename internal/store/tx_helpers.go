package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/domain"
)

// This file holds the DB-parameterized variants of store operations the
// write pipeline needs inside a single resolve_update transaction
// (original_source lib.rs: everything from the key lookup through the
// outbox enqueue happens on one sqlx::Transaction). Each mirrors its
// pool-bound sibling in notes.go/versions.go/embeddings.go/outbox.go but
// takes the tx explicitly instead of using s.pool.

// InsertNoteTx inserts a note using the given transaction handle.
func (s *Store) InsertNoteTx(ctx context.Context, db DB, n *domain.Note) error {
	srcRef, err := json.Marshal(n.SourceRef)
	if err != nil {
		return fmt.Errorf("marshal source_ref: %w", err)
	}
	_, err = db.Exec(ctx, `
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
		return apperr.Storage(err, "insert note (tx)")
	}
	return nil
}

// UpdateNoteTx applies a full in-place update of a note's mutable fields.
func (s *Store) UpdateNoteTx(ctx context.Context, db DB, n *domain.Note, now time.Time) error {
	srcRef, err := json.Marshal(n.SourceRef)
	if err != nil {
		return fmt.Errorf("marshal source_ref: %w", err)
	}
	_, err = db.Exec(ctx, `
		UPDATE memory_notes
		SET text=$2, importance=$3, confidence=$4, updated_at=$5, expires_at=$6, source_ref=$7
		WHERE note_id=$1`,
		n.NoteID, n.Text, n.Importance, n.Confidence, now, n.ExpiresAt, srcRef,
	)
	if err != nil {
		return apperr.Storage(err, "update note (tx)")
	}
	return nil
}

// SetNoteScopeTx changes a note's scope band inside a transaction (publish/
// unpublish need the scope change, version row, and outbox enqueue to
// commit or roll back together).
func (s *Store) SetNoteScopeTx(ctx context.Context, db DB, noteID uuid.UUID, scope domain.Scope, now time.Time) error {
	_, err := db.Exec(ctx, `UPDATE memory_notes SET scope=$2, updated_at=$3 WHERE note_id=$1`,
		noteID, string(scope), now)
	if err != nil {
		return apperr.Storage(err, "set note scope (tx)")
	}
	return nil
}

// GetNoteForUpdateTx fetches a note with FOR UPDATE row locking, so
// concurrent resolve_update calls targeting the same note serialize.
func (s *Store) GetNoteForUpdateTx(ctx context.Context, db DB, noteID uuid.UUID) (*domain.Note, error) {
	row := db.QueryRow(ctx, `SELECT `+noteColumns+` FROM memory_notes WHERE note_id=$1 FOR UPDATE`, noteID)
	n, err := scanNote(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, apperr.Storage(err, "get note for update (tx)")
	}
	return n, nil
}

// FindActiveByTypeKeyTx is FindActiveByTypeKey scoped to a transaction.
func (s *Store) FindActiveByTypeKeyTx(ctx context.Context, db DB, tenantID, projectID, agentID string, scope domain.Scope, noteType domain.NoteType, key string, now time.Time) (uuid.UUID, error) {
	row := db.QueryRow(ctx, `
		SELECT note_id FROM memory_notes
		WHERE tenant_id=$1 AND project_id=$2 AND agent_id=$3 AND scope=$4 AND type=$5 AND key=$6
		  AND status='active' AND (expires_at IS NULL OR expires_at > $7)
		LIMIT 1`,
		tenantID, projectID, agentID, string(scope), string(noteType), key, now)
	var id uuid.UUID
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, apperr.Storage(err, "find active note by type/key (tx)")
	}
	return id, nil
}

// ListActiveIDsBySameTypeScopeTx lists active note ids sharing
// (tenant, project, agent, scope, type), for the resolve_update candidate
// bucket.
func (s *Store) ListActiveIDsBySameTypeScopeTx(ctx context.Context, db DB, tenantID, projectID, agentID string, scope domain.Scope, noteType domain.NoteType, now time.Time) ([]uuid.UUID, error) {
	rows, err := db.Query(ctx, `
		SELECT note_id FROM memory_notes
		WHERE tenant_id=$1 AND project_id=$2 AND agent_id=$3 AND scope=$4 AND type=$5
		  AND status='active' AND (expires_at IS NULL OR expires_at > $6)`,
		tenantID, projectID, agentID, string(scope), string(noteType), now)
	if err != nil {
		return nil, apperr.Storage(err, "list active note ids (tx)")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Storage(err, "scan active note id (tx)")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindSimilarAmongTx runs the cosine-similarity comparison against a
// pre-selected candidate id set inside a transaction (resolve_update's
// embedding-comparison step).
func (s *Store) FindSimilarAmongTx(ctx context.Context, db DB, ids []uuid.UUID, embeddingVersion string, vec []float32) ([]SimilarNote, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.Query(ctx, `
		SELECT note_id, 1 - (embedding <=> $3) AS similarity
		FROM note_embeddings
		WHERE note_id = ANY($1) AND embedding_version=$2`,
		ids, embeddingVersion, pgvector.NewVector(vec),
	)
	if err != nil {
		return nil, apperr.Storage(err, "find similar among candidates (tx)")
	}
	defer rows.Close()

	var out []SimilarNote
	for rows.Next() {
		var sn SimilarNote
		if err := rows.Scan(&sn.NoteID, &sn.Similarity); err != nil {
			return nil, apperr.Storage(err, "scan similar note (tx)")
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// ReplaceChunksTx is ReplaceChunks scoped to an existing transaction, so the
// indexing worker can commit the chunk replace and the embedding upserts
// that follow it as one unit.
func (s *Store) ReplaceChunksTx(ctx context.Context, db DB, noteID uuid.UUID, chunks []*domain.NoteChunk) error {
	if _, err := db.Exec(ctx, `DELETE FROM memory_note_chunks WHERE note_id=$1`, noteID); err != nil {
		return apperr.Storage(err, "delete old chunks (tx)")
	}
	for _, c := range chunks {
		_, err := db.Exec(ctx, `
			INSERT INTO memory_note_chunks (chunk_id, note_id, chunk_index, start_offset, end_offset, text, embedding_version)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			c.ChunkID, c.NoteID, c.ChunkIndex, c.StartOffset, c.EndOffset, c.Text, c.EmbeddingVersion,
		)
		if err != nil {
			return apperr.Storage(err, "insert chunk (tx)")
		}
	}
	return nil
}

// UpsertChunkEmbeddingTx is UpsertChunkEmbedding scoped to an existing
// transaction.
func (s *Store) UpsertChunkEmbeddingTx(ctx context.Context, db DB, chunkID uuid.UUID, embeddingVersion string, vec []float32) error {
	_, err := db.Exec(ctx, `
		INSERT INTO note_chunk_embeddings (chunk_id, embedding_version, embedding)
		VALUES ($1,$2,$3)
		ON CONFLICT (chunk_id, embedding_version) DO UPDATE SET embedding=EXCLUDED.embedding`,
		chunkID, embeddingVersion, pgvector.NewVector(vec),
	)
	if err != nil {
		return apperr.Storage(err, "upsert chunk embedding (tx)")
	}
	return nil
}

// UpsertNoteEmbeddingTx is UpsertNoteEmbedding scoped to an existing
// transaction.
func (s *Store) UpsertNoteEmbeddingTx(ctx context.Context, db DB, noteID uuid.UUID, embeddingVersion string, vec []float32) error {
	_, err := db.Exec(ctx, `
		INSERT INTO note_embeddings (note_id, embedding_version, embedding)
		VALUES ($1,$2,$3)
		ON CONFLICT (note_id, embedding_version) DO UPDATE SET embedding=EXCLUDED.embedding`,
		noteID, embeddingVersion, pgvector.NewVector(vec),
	)
	if err != nil {
		return apperr.Storage(err, "upsert note embedding (tx)")
	}
	return nil
}

// ReplaceChunksAndEmbeddings replaces a note's chunk rows and re-upserts
// every chunk embedding plus the pooled note-level embedding as a single
// transaction (spec §4.3 step 2: re-chunk/re-embed/re-index is one unit of
// work, not three). chunkVecs must be the same length and order as chunks.
func (s *Store) ReplaceChunksAndEmbeddings(ctx context.Context, noteID uuid.UUID, chunks []*domain.NoteChunk, chunkVecs [][]float32, embeddingVersion string, notePooledVec []float32) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.ReplaceChunksTx(ctx, tx, noteID, chunks); err != nil {
			return err
		}
		for i, c := range chunks {
			if err := s.UpsertChunkEmbeddingTx(ctx, tx, c.ChunkID, embeddingVersion, chunkVecs[i]); err != nil {
				return err
			}
		}
		return s.UpsertNoteEmbeddingTx(ctx, tx, noteID, embeddingVersion, notePooledVec)
	})
}

// InsertVersionTx appends a version row inside a transaction.
func (s *Store) InsertVersionTx(ctx context.Context, db DB, v *domain.NoteVersion) error {
	prev, err := json.Marshal(v.PrevSnapshot)
	if err != nil {
		return fmt.Errorf("marshal prev_snapshot: %w", err)
	}
	next, err := json.Marshal(v.NewSnapshot)
	if err != nil {
		return fmt.Errorf("marshal new_snapshot: %w", err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO memory_note_versions (version_id, note_id, op, prev_snapshot, new_snapshot, reason, actor, ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		v.VersionID, v.NoteID, string(v.Op), prev, next, v.Reason, v.Actor, v.Ts,
	)
	if err != nil {
		return apperr.Storage(err, "insert note version (tx)")
	}
	return nil
}
