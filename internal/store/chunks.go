package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/domain"
)

// ListChunks returns a note's chunks in index order.
func (s *Store) ListChunks(ctx context.Context, noteID uuid.UUID) ([]*domain.NoteChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_id, note_id, chunk_index, start_offset, end_offset, text, embedding_version
		FROM memory_note_chunks WHERE note_id=$1 ORDER BY chunk_index`, noteID)
	if err != nil {
		return nil, apperr.Storage(err, "list chunks")
	}
	defer rows.Close()

	var out []*domain.NoteChunk
	for rows.Next() {
		var c domain.NoteChunk
		if err := rows.Scan(&c.ChunkID, &c.NoteID, &c.ChunkIndex, &c.StartOffset, &c.EndOffset, &c.Text, &c.EmbeddingVersion); err != nil {
			return nil, apperr.Storage(err, "scan chunk")
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ListChunksByIDs fetches chunk rows (with parent note id) for a set of
// chunk ids, used to stitch retrieval snippets and their ±1 neighbors (spec
// §4.4 "Snippet assembly").
func (s *Store) ListChunksByIDs(ctx context.Context, chunkIDs []uuid.UUID) ([]*domain.NoteChunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_id, note_id, chunk_index, start_offset, end_offset, text, embedding_version
		FROM memory_note_chunks WHERE chunk_id = ANY($1)`, chunkIDs)
	if err != nil {
		return nil, apperr.Storage(err, "list chunks by ids")
	}
	defer rows.Close()

	var out []*domain.NoteChunk
	for rows.Next() {
		var c domain.NoteChunk
		if err := rows.Scan(&c.ChunkID, &c.NoteID, &c.ChunkIndex, &c.StartOffset, &c.EndOffset, &c.Text, &c.EmbeddingVersion); err != nil {
			return nil, apperr.Storage(err, "scan chunk")
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// GetNeighborChunk fetches the chunk at a specific index for a note, or
// ErrNotFound, for ±1 snippet stitching at the text boundaries.
func (s *Store) GetNeighborChunk(ctx context.Context, noteID uuid.UUID, chunkIndex int) (*domain.NoteChunk, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT chunk_id, note_id, chunk_index, start_offset, end_offset, text, embedding_version
		FROM memory_note_chunks WHERE note_id=$1 AND chunk_index=$2`, noteID, chunkIndex)
	var c domain.NoteChunk
	if err := row.Scan(&c.ChunkID, &c.NoteID, &c.ChunkIndex, &c.StartOffset, &c.EndOffset, &c.Text, &c.EmbeddingVersion); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, apperr.Storage(err, "get neighbor chunk")
	}
	return &c, nil
}
