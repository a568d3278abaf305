package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/domain"
)

// InsertHit records one retrieval hit for later recency/frequency ranking
// signals (spec §4.4: "each returned item records a hit").
func (s *Store) InsertHit(ctx context.Context, h *domain.MemoryHit) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memory_hits (hit_id, note_id, chunk_id, query_hash, rank, final_score, ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		h.HitID, h.NoteID, h.ChunkID, h.QueryHash, h.Rank, h.FinalScore, h.Ts,
	)
	if err != nil {
		return apperr.Storage(err, "insert memory hit")
	}
	return nil
}

// HitRecord is one retrieval hit to be durably recorded alongside its
// parent note's hit_count/last_hit_at bump (spec §4.3 "Hit recording").
type HitRecord struct {
	NoteID     uuid.UUID
	ChunkID    uuid.UUID
	QueryHash  string
	Rank       int
	FinalScore float32
}

// RecordHits bumps hit_count/last_hit_at for every distinct note and
// inserts one memory_hits row per item, all in a single transaction (spec
// §4.3: "if record_hits=true, in one transaction: increment hit_count, set
// last_hit_at, insert MemoryHit").
func (s *Store) RecordHits(ctx context.Context, hits []HitRecord, now time.Time) error {
	if len(hits) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		touched := make(map[uuid.UUID]bool, len(hits))
		for _, h := range hits {
			if !touched[h.NoteID] {
				touched[h.NoteID] = true
				if _, err := tx.Exec(ctx, `UPDATE memory_notes SET hit_count = hit_count + 1, last_hit_at=$2 WHERE note_id=$1`,
					h.NoteID, now); err != nil {
					return apperr.Storage(err, "record hit on note")
				}
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO memory_hits (hit_id, note_id, chunk_id, query_hash, rank, final_score, ts)
				VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				uuid.New(), h.NoteID, h.ChunkID, h.QueryHash, h.Rank, h.FinalScore, now,
			); err != nil {
				return apperr.Storage(err, "insert memory hit")
			}
		}
		return nil
	})
}

// CountRecentHits counts a note's hits since some cutoff, usable as a
// secondary ranking/analytics signal.
func (s *Store) CountRecentHits(ctx context.Context, noteID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memory_hits WHERE note_id=$1 AND ts >= $2`, noteID, since).Scan(&count)
	if err != nil {
		return 0, apperr.Storage(err, "count recent hits")
	}
	return count, nil
}
