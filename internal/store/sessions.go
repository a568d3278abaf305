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

// InsertSearchSession persists a progressive search session's frozen item
// list (spec §4.6: "server-side session with a TTL; sliding + absolute
// expiry").
func (s *Store) InsertSearchSession(ctx context.Context, sess *domain.SearchSession) error {
	items, err := json.Marshal(sess.Items)
	if err != nil {
		return fmt.Errorf("marshal session items: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO search_sessions
			(search_session_id, trace_id, tenant_id, project_id, agent_id, read_profile, query, items, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sess.SearchSessionID, sess.TraceID, sess.TenantID, sess.ProjectID, sess.AgentID,
		sess.ReadProfile, sess.Query, items, sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return apperr.Storage(err, "insert search session")
	}
	return nil
}

// GetSearchSession fetches a session, scoped to the requesting agent so one
// agent can never page through another's session (spec §4.6 invariant).
func (s *Store) GetSearchSession(ctx context.Context, sessionID uuid.UUID, tenantID, projectID, agentID string) (*domain.SearchSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT search_session_id, trace_id, tenant_id, project_id, agent_id, read_profile, query, items, created_at, expires_at
		FROM search_sessions
		WHERE search_session_id=$1 AND tenant_id=$2 AND project_id=$3 AND agent_id=$4`,
		sessionID, tenantID, projectID, agentID,
	)
	var sess domain.SearchSession
	var items []byte
	err := row.Scan(&sess.SearchSessionID, &sess.TraceID, &sess.TenantID, &sess.ProjectID, &sess.AgentID,
		&sess.ReadProfile, &sess.Query, &items, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, apperr.Storage(err, "get search session")
	}
	if err := json.Unmarshal(items, &sess.Items); err != nil {
		return nil, fmt.Errorf("unmarshal session items: %w", err)
	}
	return &sess, nil
}

// TouchSearchSession extends expires_at for the sliding-window part of the
// TTL policy (spec §4.6).
func (s *Store) TouchSearchSession(ctx context.Context, sessionID uuid.UUID, newExpiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE search_sessions SET expires_at=$2 WHERE search_session_id=$1`, sessionID, newExpiresAt)
	if err != nil {
		return apperr.Storage(err, "touch search session")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpiredSearchSessions deletes sessions whose expires_at (the sliding
// expiry, capped at the absolute one) has passed, run periodically by the
// indexing worker's maintenance loop.
func (s *Store) PurgeExpiredSearchSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM search_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, apperr.Storage(err, "purge expired search sessions")
	}
	return tag.RowsAffected(), nil
}
