package indexworker

import (
	"context"
	"errors"
	"time"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/chunking"
	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/providers"
	"github.com/elf-memory/elf/internal/store"
	"github.com/elf-memory/elf/internal/vectorstore"
)

// handleUpsert re-chunks, re-embeds, and re-indexes one note: the
// indexing_outbox UPSERT path (original_source worker.rs handle_upsert).
func (w *Worker) handleUpsert(ctx context.Context, job *domain.IndexingOutbox) error {
	note, err := w.Store.GetNote(ctx, job.NoteID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			w.Log.Info().Str("note_id", job.NoteID.String()).Msg("note missing for outbox job, treating as done")
			return nil
		}
		return err
	}

	now := time.Now().UTC()
	if !note.Active(now) {
		w.Log.Info().Str("note_id", job.NoteID.String()).Msg("note inactive or expired, skipping index")
		return nil
	}

	chunks, err := w.Tokenizer.ChunkText(note.Text, chunking.Config(w.Cfg.Chunking))
	if err != nil {
		return apperr.Storagef(err, "chunk note text")
	}
	if len(chunks) == 0 {
		return apperr.InvalidRequest("chunking produced no chunks")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vecs, err := w.Embedder.Embed(ctx, providers.EmbeddingConfig{
		ProviderID: w.Cfg.Providers.Embedding.ProviderID,
		Model:      w.Cfg.Providers.Embedding.Model,
		Dimensions: w.Cfg.Storage.Qdrant.VectorDim,
		TimeoutMs:  w.Cfg.Providers.Embedding.TimeoutMs,
	}, texts)
	if err != nil {
		return apperr.Provider(err, "embed note chunks")
	}
	if len(vecs) != len(chunks) {
		return apperr.Providerf(nil, "embedding provider returned %d vectors for %d chunks", len(vecs), len(chunks))
	}
	for _, v := range vecs {
		if len(v) != w.Cfg.Storage.Qdrant.VectorDim {
			return apperr.Providerf(nil, "embedding dimension %d does not match configured vector_dim %d", len(v), w.Cfg.Storage.Qdrant.VectorDim)
		}
	}

	noteChunks := make([]*domain.NoteChunk, len(chunks))
	for i, c := range chunks {
		noteChunks[i] = &domain.NoteChunk{
			ChunkID:          domain.ChunkID(note.NoteID, c.Index),
			NoteID:           note.NoteID,
			ChunkIndex:       c.Index,
			StartOffset:      c.StartOffset,
			EndOffset:        c.EndOffset,
			Text:             c.Text,
			EmbeddingVersion: job.EmbeddingVersion,
		}
	}

	pooled := meanPool(vecs)
	if pooled == nil {
		return apperr.InvalidRequest("cannot pool empty chunk vectors")
	}

	// Chunk replace + per-chunk embeddings + pooled note embedding commit or
	// roll back together: a crash between these must never leave a note
	// pointing at stale chunks or a half-updated embedding (spec §4.3 step 2).
	if err := w.Store.ReplaceChunksAndEmbeddings(ctx, note.NoteID, noteChunks, vecs, job.EmbeddingVersion, pooled); err != nil {
		return err
	}

	if err := w.Vector.DeleteNote(ctx, note.NoteID); err != nil {
		return err
	}
	for i, nc := range noteChunks {
		indices, values := vectorstore.HashedSparseVector(nc.Text)
		point := &vectorstore.ChunkPoint{
			ChunkID:          nc.ChunkID,
			NoteID:           note.NoteID,
			ChunkIndex:       nc.ChunkIndex,
			StartOffset:      nc.StartOffset,
			EndOffset:        nc.EndOffset,
			TenantID:         note.TenantID,
			ProjectID:        note.ProjectID,
			AgentID:          note.AgentID,
			Scope:            note.Scope,
			Type:             note.Type,
			Key:              note.Key,
			Importance:       note.Importance,
			Confidence:       note.Confidence,
			Status:           note.Status,
			UpdatedAt:        note.UpdatedAt,
			ExpiresAt:        note.ExpiresAt,
			EmbeddingVersion: job.EmbeddingVersion,
			Dense:            vecs[i],
			SparseIndices:    indices,
			SparseValues:     values,
		}
		if err := w.Vector.Upsert(ctx, point); err != nil {
			return err
		}
	}

	return nil
}

// handleDelete removes a note's points from the vector store; the
// relational row itself is managed by the write pipeline / sharing package,
// not here (original_source worker.rs handle_delete).
func (w *Worker) handleDelete(ctx context.Context, job *domain.IndexingOutbox) error {
	return w.Vector.DeleteNote(ctx, job.NoteID)
}

// meanPool averages a set of equal-length vectors into the note-level
// embedding used by resolve_update's similarity scan (original_source
// worker.rs mean_pool).
func meanPool(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	out := make([]float32, dim)
	for _, v := range vecs {
		for i, x := range v {
			out[i] += x
		}
	}
	n := float32(len(vecs))
	for i := range out {
		out[i] /= n
	}
	return out
}
