package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/elf-memory/elf/internal/apperr"
)

// GetNoteEmbedding fetches a single note-level embedding, used by MMR
// diversity selection to compare a candidate note against the notes already
// chosen (spec §5 "Diversity / MMR re-ranking").
func (s *Store) GetNoteEmbedding(ctx context.Context, noteID uuid.UUID, embeddingVersion string) ([]float32, error) {
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx, `
		SELECT embedding FROM note_embeddings
		WHERE note_id=$1 AND embedding_version=$2`,
		noteID, embeddingVersion,
	).Scan(&vec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, apperr.Storage(err, "get note embedding")
	}
	return vec.Slice(), nil
}

// GetNoteEmbeddings batch-fetches note-level embeddings, keyed by note ID.
// Notes with no stored embedding for embeddingVersion are simply absent from
// the result map rather than an error.
func (s *Store) GetNoteEmbeddings(ctx context.Context, noteIDs []uuid.UUID, embeddingVersion string) (map[uuid.UUID][]float32, error) {
	out := make(map[uuid.UUID][]float32, len(noteIDs))
	if len(noteIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT note_id, embedding FROM note_embeddings
		WHERE note_id = ANY($1) AND embedding_version=$2`,
		noteIDs, embeddingVersion,
	)
	if err != nil {
		return nil, apperr.Storage(err, "get note embeddings")
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var vec pgvector.Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, apperr.Storage(err, "scan note embedding")
		}
		out[id] = vec.Slice()
	}
	return out, rows.Err()
}

// SimilarNote is one nearest-neighbor match from FindSimilarNotes, ordered
// by ascending cosine distance (most similar first).
type SimilarNote struct {
	NoteID     uuid.UUID
	Similarity float32
}

// FindSimilarNotes runs a pgvector cosine-distance nearest-neighbor query
// scoped to the same (tenant, project, agent, scope, type) bucket, backing
// resolve_update's similarity path as a fallback when the application-level
// candidate list (ListActiveBySameTypeScope) needs a tighter shortlist on a
// large bucket (spec §4.2 step c, path 2).
func (s *Store) FindSimilarNotes(ctx context.Context, tenantID, projectID, agentID, scope, noteType, embeddingVersion string, vec []float32, limit int) ([]SimilarNote, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT n.note_id, 1 - (e.embedding <=> $8) AS similarity
		FROM note_embeddings e
		JOIN memory_notes n ON n.note_id = e.note_id
		WHERE n.tenant_id=$1 AND n.project_id=$2 AND n.agent_id=$3 AND n.scope=$4 AND n.type=$5
		  AND n.status='active' AND e.embedding_version=$6
		ORDER BY e.embedding <=> $8 ASC
		LIMIT $7`,
		tenantID, projectID, agentID, scope, noteType, embeddingVersion, limit, pgvector.NewVector(vec),
	)
	if err != nil {
		return nil, apperr.Storage(err, "find similar notes")
	}
	defer rows.Close()

	var out []SimilarNote
	for rows.Next() {
		var sn SimilarNote
		if err := rows.Scan(&sn.NoteID, &sn.Similarity); err != nil {
			return nil, apperr.Storage(err, "scan similar note")
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}
