package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/domain"
)

// InsertVersion appends an audit row to memory_note_versions (spec §3: every
// ADD/UPDATE/PUBLISH/UNPUBLISH/DELETE writes one).
func (s *Store) InsertVersion(ctx context.Context, v *domain.NoteVersion) error {
	prev, err := json.Marshal(v.PrevSnapshot)
	if err != nil {
		return fmt.Errorf("marshal prev_snapshot: %w", err)
	}
	next, err := json.Marshal(v.NewSnapshot)
	if err != nil {
		return fmt.Errorf("marshal new_snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO memory_note_versions (version_id, note_id, op, prev_snapshot, new_snapshot, reason, actor, ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		v.VersionID, v.NoteID, string(v.Op), prev, next, v.Reason, v.Actor, v.Ts,
	)
	if err != nil {
		return apperr.Storage(err, "insert note version")
	}
	return nil
}

// ListVersions returns a note's full audit history, newest first, for the
// note-history operation (spec §4.4).
func (s *Store) ListVersions(ctx context.Context, noteID uuid.UUID) ([]*domain.NoteVersion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT version_id, note_id, op, prev_snapshot, new_snapshot, reason, actor, ts
		FROM memory_note_versions WHERE note_id=$1 ORDER BY ts DESC`, noteID)
	if err != nil {
		return nil, apperr.Storage(err, "list note versions")
	}
	defer rows.Close()

	var out []*domain.NoteVersion
	for rows.Next() {
		var v domain.NoteVersion
		var op string
		var prev, next []byte
		if err := rows.Scan(&v.VersionID, &v.NoteID, &op, &prev, &next, &v.Reason, &v.Actor, &v.Ts); err != nil {
			return nil, apperr.Storage(err, "scan note version")
		}
		v.Op = domain.VersionOp(op)
		if len(prev) > 0 {
			if err := json.Unmarshal(prev, &v.PrevSnapshot); err != nil {
				return nil, fmt.Errorf("unmarshal prev_snapshot: %w", err)
			}
		}
		if len(next) > 0 {
			if err := json.Unmarshal(next, &v.NewSnapshot); err != nil {
				return nil, fmt.Errorf("unmarshal new_snapshot: %w", err)
			}
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}
