package writepipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/store"
)

func (s *Service) insertNoteTx(ctx context.Context, tx pgx.Tx, n *domain.Note) error {
	return s.Store.InsertNoteTx(ctx, tx, n)
}

func (s *Service) updateNoteTx(ctx context.Context, tx pgx.Tx, n *domain.Note, now time.Time) error {
	return s.Store.UpdateNoteTx(ctx, tx, n, now)
}

func (s *Service) getNoteForUpdateTx(ctx context.Context, tx pgx.Tx, noteID uuid.UUID) (*domain.Note, error) {
	return s.Store.GetNoteForUpdateTx(ctx, tx, noteID)
}

func (s *Service) insertVersionTx(ctx context.Context, tx pgx.Tx, noteID uuid.UUID, op domain.VersionOp, prev, next map[string]any, reason, actor string, now time.Time) error {
	return s.Store.InsertVersionTx(ctx, tx, &domain.NoteVersion{
		VersionID:    uuid.New(),
		NoteID:       noteID,
		Op:           op,
		PrevSnapshot: prev,
		NewSnapshot:  next,
		Reason:       reason,
		Actor:        actor,
		Ts:           now,
	})
}

func (s *Service) enqueueOutboxTx(ctx context.Context, tx pgx.Tx, noteID uuid.UUID, op domain.OutboxOp, embeddingVersion string, now time.Time) error {
	return s.Store.EnqueueOutbox(ctx, tx, &domain.IndexingOutbox{
		OutboxID:         uuid.New(),
		NoteID:           noteID,
		Op:               op,
		EmbeddingVersion: embeddingVersion,
		Status:           domain.OutboxStatusPending,
		Attempts:         0,
		AvailableAt:      now,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
}

func (s *Service) findActiveByTypeKeyTx(ctx context.Context, tx pgx.Tx, tenantID, projectID, agentID string, scope domain.Scope, noteType domain.NoteType, key string, now time.Time) (uuid.UUID, error) {
	id, err := s.Store.FindActiveByTypeKeyTx(ctx, tx, tenantID, projectID, agentID, scope, noteType, key, now)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *Service) listActiveIDsBySameTypeScopeTx(ctx context.Context, tx pgx.Tx, tenantID, projectID, agentID string, scope domain.Scope, noteType domain.NoteType, now time.Time) ([]uuid.UUID, error) {
	return s.Store.ListActiveIDsBySameTypeScopeTx(ctx, tx, tenantID, projectID, agentID, scope, noteType, now)
}

func (s *Service) similarAmongTx(ctx context.Context, tx pgx.Tx, ids []uuid.UUID, embeddingVersion string, vec []float32) ([]store.SimilarNote, error) {
	return s.Store.FindSimilarAmongTx(ctx, tx, ids, embeddingVersion, vec)
}
